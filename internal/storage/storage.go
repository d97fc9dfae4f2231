// Package storage archives processed call audio, either on the local
// filesystem or in an S3-compatible object store.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Store moves processed audio into durable storage.
type Store interface {
	// Archive stores the file at localPath under name and returns the
	// stored location: a filesystem path or an s3:// URL.
	Archive(ctx context.Context, localPath string, name string) (string, error)

	// Exists checks whether name is already archived.
	Exists(ctx context.Context, name string) bool

	// Type returns "local" or "s3".
	Type() string
}

// Options selects and configures the backend. S3 is used when Bucket is
// set; otherwise audio archives to ArchiveDir.
type Options struct {
	ArchiveDir string

	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
}

// New creates a Store from options. S3 configuration is validated
// against the live bucket at startup.
func New(opts Options, log zerolog.Logger) (Store, error) {
	if opts.Bucket == "" {
		return NewLocalStore(opts.ArchiveDir), nil
	}

	s3store, err := NewS3Store(opts, log)
	if err != nil {
		return nil, fmt.Errorf("S3 init failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			opts.Bucket, opts.Endpoint, err)
	}
	log.Info().Str("bucket", opts.Bucket).Str("endpoint", opts.Endpoint).Msg("S3 connection verified")
	return s3store, nil
}

// datePath partitions archive names by day so directories and object
// listings stay manageable.
func datePath(name string, now time.Time) string {
	return now.UTC().Format("2006/01/02") + "/" + name
}
