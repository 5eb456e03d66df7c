package store

import (
	"context"
	"fmt"

	"wemirror/internal/config"
	"wemirror/internal/mirror"
)

// NewStoreFromConfig creates a mirror.Store implementation based on the store config type.
func NewStoreFromConfig(ctx context.Context, cfg config.StoreConfig) (mirror.Store, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite store requires sqlite_path to be set")
		}
		return NewSQLiteStore(cfg.SQLitePath)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 store requires s3_bucket to be set")
		}
		if cfg.S3Region == "" {
			return nil, fmt.Errorf("s3 store requires s3_region to be set")
		}
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
