package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eser/aicaller/pkg/api/adapters/s3_store"
)

const outputContentType = "application/jsonl"

var ErrObjectStoreUnavailable = errors.New("s3 object store is not configured")

// ReadObject reads an s3://bucket/key location through S3 and anything else
// from the local filesystem.
func (r *Repository) ReadObject(ctx context.Context, location string) ([]byte, error) {
	if !s3_store.IsLocation(location) {
		content, err := os.ReadFile(location)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", location, err)
		}

		return content, nil
	}

	if r.s3Store == nil {
		return nil, fmt.Errorf("%w: %s", ErrObjectStoreUnavailable, location)
	}

	bucket, key, err := s3_store.ParseLocation(location)
	if err != nil {
		return nil, err
	}

	return r.s3Store.GetObject(ctx, bucket, key)
}

func (r *Repository) WriteObject(ctx context.Context, location string, content []byte) error {
	if !s3_store.IsLocation(location) {
		if dir := filepath.Dir(location); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create directory for %s: %w", location, err)
			}
		}

		if err := os.WriteFile(location, content, 0o644); err != nil { //nolint:gosec
			return fmt.Errorf("failed to write %s: %w", location, err)
		}

		return nil
	}

	if r.s3Store == nil {
		return fmt.Errorf("%w: %s", ErrObjectStoreUnavailable, location)
	}

	bucket, key, err := s3_store.ParseLocation(location)
	if err != nil {
		return err
	}

	return r.s3Store.PutObject(ctx, bucket, key, content, outputContentType)
}
