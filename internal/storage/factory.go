package storage

import (
	"context"
	"fmt"

	"github.com/filecove/filecove/internal/config"
	"github.com/filecove/filecove/internal/storage/local"
	s3backend "github.com/filecove/filecove/internal/storage/s3"
)

// Open creates the content backend selected by cfg.StorageBackend.
func Open(ctx context.Context, cfg config.Config) (Backend, error) {
	switch cfg.StorageBackend {
	case "local":
		return local.New(local.Config{RootPath: cfg.LocalStoragePath})
	case "s3":
		return s3backend.New(ctx, s3backend.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.StorageBackend)
	}
}
