package storage

import (
	"context"

	"relecloud/internal/adapters/storage/azureblob"
	"relecloud/internal/adapters/storage/localfs"
	"relecloud/internal/adapters/storage/s3"
	"relecloud/internal/config"
	apperrors "relecloud/internal/pkg/errors"
)

// NewProvider builds the backend named by STORAGE_BACKEND and verifies its
// container exists. Unknown names fail with UNSUPPORTED_BACKEND.
func NewProvider(ctx context.Context, cfg config.StorageConfig) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch cfg.Backend {
	case "azure":
		p, err = open(azureblob.Open(ctx, azureblob.Options{
			ConnectionString: cfg.Azure.ConnectionString,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ContainerName:    cfg.Azure.ContainerName,
			TTL:              cfg.SignedURLTTL,
		}))

	case "s3":
		p, err = open(s3.Open(ctx, s3.Options{
			Bucket:   cfg.S3.Bucket,
			Region:   cfg.S3.Region,
			Endpoint: cfg.S3.Endpoint,
			TTL:      cfg.SignedURLTTL,
		}))

	case "localfs":
		p, err = open(localfs.Open(ctx, localfs.Options{
			Root:       cfg.Local.Root,
			BaseURL:    cfg.Local.BaseURL,
			SigningKey: cfg.Local.SigningKey,
			TTL:        cfg.SignedURLTTL,
		}))

	default:
		return nil, apperrors.Unsupported(cfg.Backend)
	}
	return p, err
}

// open drops the concrete type so a failed Open never yields a typed nil.
func open[T Provider](store T, err error) (Provider, error) {
	if err != nil {
		return nil, err
	}
	return store, nil
}
