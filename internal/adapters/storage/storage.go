// Package storage keeps finished recording files.
package storage

import (
	"context"
	"fmt"

	"github.com/dkeye/Conference/internal/config"
	"github.com/dkeye/Conference/internal/core"
)

// New returns the S3 store when a bucket is configured, the local one otherwise.
func New(ctx context.Context, cfg config.RecordingConfig) (core.RecordingStore, error) {
	if !cfg.S3.Enabled() {
		return NewLocal(cfg.Dir), nil
	}
	s, err := NewS3(ctx, cfg.S3)
	if err != nil {
		return nil, fmt.Errorf("s3 store: %w", err)
	}
	return s, nil
}
