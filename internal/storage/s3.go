package storage

import (
	"bytes"
	"context"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"
)

// S3Option is a functional option type for S3.
type S3Option func(s *S3)

// OptS3Bucket sets the bucket objects are kept in.
func OptS3Bucket(bucket string) S3Option {
	return func(s *S3) {
		s.bucket = bucket
	}
}

// OptS3Region sets the AWS region of the bucket.
func OptS3Region(region string) S3Option {
	return func(s *S3) {
		s.region = region
	}
}

// OptS3Client replaces the client built from the session.
func OptS3Client(client s3iface.S3API) S3Option {
	return func(s *S3) {
		s.client = client
	}
}

// S3 is a FileStorage backed by one S3 bucket. Identifiers are object keys.
type S3 struct {
	bucket string
	region string
	client s3iface.S3API
}

func NewS3(opts ...S3Option) (*S3, error) {
	s := &S3{}
	for _, opt := range opts {
		opt(s)
	}
	if s.bucket == "" {
		return nil, errors.New("s3 storage needs a bucket")
	}
	if s.client == nil {
		sess, err := session.NewSession(&aws.Config{
			Region: aws.String(s.region)},
		)
		if err != nil {
			return nil, errors.Wrap(err, "getting new session")
		}
		s.client = s3.New(sess)
	}
	return s, nil
}

func (s *S3) Store(ctx context.Context, data []byte, dest string) (string, error) {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(dest),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", errors.Wrapf(err, "putting %s", dest)
	}
	return dest, nil
}

func (s *S3) Fetch(ctx context.Context, id string) ([]byte, error) {
	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, errors.Wrap(ErrNotFound, id)
		}
		return nil, errors.Wrapf(err, "fetching %s", id)
	}
	defer result.Body.Close()
	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", id)
	}
	return data, nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing objects")
	}
	return keys, nil
}

func (s *S3) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	return errors.Wrapf(err, "deleting %s", id)
}

func isNoSuchKey(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		return aerr.Code() == s3.ErrCodeNoSuchKey
	}
	return false
}
