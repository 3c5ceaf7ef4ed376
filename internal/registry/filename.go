package registry

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"datalab-service/internal/models"
)

// Convention describes how dataset file names encode their metadata:
// {type_prefix}{d}{upload_date}{d}{version_number}{d}{suffix}.{ext} with
// fields taken by position.
type Convention struct {
	Delimiter       string
	PrefixPosition  int
	DatePosition    int
	VersionPosition int
	DateLayouts     []string
	// Kinds maps a type prefix to a dataset kind. Unknown prefixes are full datasets.
	Kinds map[string]string
}

func DefaultConvention() Convention {
	return Convention{
		Delimiter:       "-",
		PrefixPosition:  0,
		DatePosition:    1,
		VersionPosition: 2,
		DateLayouts:     []string{"2006.01.02", "20060102", "2006_01_02", "2006-01-02"},
		Kinds: map[string]string{
			"api_data":     models.DatasetFull,
			"api_full":     models.DatasetFull,
			"api_metadata": models.DatasetMetadata,
			"data":         models.DatasetData,
		},
	}
}

// FileInfo is what a dataset file name says about the dataset.
type FileInfo struct {
	Name          string
	Prefix        string
	UploadDate    time.Time
	VersionNumber int
	Kind          string
}

// Parse extracts the display name, upload date, version number and kind from filename.
func (c Convention) Parse(filename string) (FileInfo, error) {
	base := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	name := strings.TrimSuffix(base, path.Ext(base))
	parts := strings.Split(name, c.Delimiter)

	need := maxInt(c.PrefixPosition, c.DatePosition, c.VersionPosition)
	if len(parts) <= need {
		return FileInfo{}, fmt.Errorf("file name %q has %d %q-delimited fields, need at least %d", base, len(parts), c.Delimiter, need+1)
	}

	rawVersion := strings.TrimPrefix(strings.ToLower(parts[c.VersionPosition]), "v")
	version, err := strconv.Atoi(rawVersion)
	if err != nil {
		return FileInfo{}, fmt.Errorf("file name %q: version field %q is not a number", base, parts[c.VersionPosition])
	}

	date, err := c.parseDate(parts[c.DatePosition])
	if err != nil {
		return FileInfo{}, fmt.Errorf("file name %q: %w", base, err)
	}

	prefix := parts[c.PrefixPosition]
	kind, ok := c.Kinds[prefix]
	if !ok {
		kind = models.DatasetFull
	}
	return FileInfo{Name: name, Prefix: prefix, UploadDate: date, VersionNumber: version, Kind: kind}, nil
}

func (c Convention) parseDate(s string) (time.Time, error) {
	for _, layout := range c.DateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("date field %q matches none of %v", s, c.DateLayouts)
}

func maxInt(xs ...int) int {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}
