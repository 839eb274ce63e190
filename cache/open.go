package cache

import (
	"context"
	"fmt"

	"github.com/nijaru/yt-transcript/config"
	"github.com/nijaru/yt-transcript/db"
	apperrors "github.com/nijaru/yt-transcript/errors"
	"github.com/nijaru/yt-transcript/storage"
	"github.com/sirupsen/logrus"
)

// OpenStore builds the storage backend named by cfg.Backend.
func OpenStore(ctx context.Context, cfg config.CacheConfig, logger *logrus.Logger) (storage.Store, error) {
	const op = "cache.OpenStore"

	logger.WithField("backend", cfg.Backend).Debug("Opening cache store")

	switch cfg.Backend {
	case config.BackendFile, "":
		return storage.NewFileStore(cfg.Dir, logger), nil

	case config.BackendSQLite:
		store, err := db.Open(cfg.SQLitePath, db.DefaultDBConfig(), logger)
		if err != nil {
			return nil, err
		}
		return store, nil

	case config.BackendS3:
		client, err := storage.NewS3Client(ctx, storage.SpacesConfig{
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.Bucket,
		})
		if err != nil {
			return nil, apperrors.Storage(op, err, "failed to create S3 client")
		}
		return storage.NewS3Store(client, cfg.S3.Bucket, cfg.S3.Prefix, logger), nil

	default:
		return nil, apperrors.InvalidInput(op, nil, fmt.Sprintf("Unknown cache backend: %s", cfg.Backend))
	}
}
