package archive

import (
	"context"
	"fmt"

	"checkin-go/internal/config"
)

// NewStoreFromConfig creates a Store implementation based on the archive config type.
func NewStoreFromConfig(ctx context.Context, cfg config.ArchiveConfig, creds S3Options) (Store, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(cfg.Name), nil
	case "s3":
		store, err := NewS3Store(ctx, cfg.Name, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     creds.AccessKeyID,
			SecretAccessKey: creds.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem archive requires fs_root to be set")
		}
		store, err := NewFileSystemStore(cfg.Name, cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}
}
