package storage

import (
	"context"
	"errors"
	"fmt"

	"datalab-service/internal/config"
)

// ErrNotFound is returned by Fetch and Delete for an unknown identifier.
var ErrNotFound = errors.New("object not found")

// FileStorage keeps uploaded dataset files and backup artifacts.
type FileStorage interface {
	// Store writes data under dest and returns the identifier to fetch it by.
	Store(ctx context.Context, data []byte, dest string) (string, error)
	Fetch(ctx context.Context, id string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, id string) error
}

// New returns the backend selected by opts.
func New(opts config.StorageOptions) (FileStorage, error) {
	switch opts.Backend {
	case config.StorageLocal:
		return NewLocal(opts.LocalDir)
	case config.StorageS3:
		return NewS3(OptS3Bucket(opts.S3Bucket), OptS3Region(opts.S3Region))
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", opts.Backend)
	}
}
