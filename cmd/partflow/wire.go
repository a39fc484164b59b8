package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/partflow/partflow"
	"github.com/partflow/partflow/config"
	"github.com/partflow/partflow/database"
	"github.com/partflow/partflow/filesystem"
	"github.com/partflow/partflow/s3store"
)

// openRepo connects to the metadata database, optionally migrates, and
// validates the schema. The returned func closes the connection.
func openRepo(ctx context.Context, cfg *config.Config, migrate bool) (partflow.TransferRepo, func(), error) {
	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	closeDB := func() { _ = db.Close() }

	if migrate {
		if err := db.Migrate(ctx); err != nil {
			closeDB()
			return nil, nil, fmt.Errorf("migrate database: %w", err)
		}
		slog.Info("database migration complete")
	}

	if err := db.Validate(ctx); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("validate database schema: %w", err)
	}

	slog.Info("connected to database", "type", cfg.Database.Type)
	return db.GetRepo(), closeDB, nil
}

// buildStore constructs the configured object store backend. The
// returned func releases backend resources.
func buildStore(ctx context.Context, cfg *config.Config) (partflow.ObjectStore, func(), error) {
	switch cfg.Storage.Type {
	case "s3":
		store, err := s3store.New(ctx, s3store.Config{
			Bucket:         cfg.Storage.S3.Bucket,
			Region:         cfg.Storage.S3.Region,
			AccessKeyID:    cfg.Storage.S3.AccessKeyID,
			SecretKey:      cfg.Storage.S3.SecretKey,
			Endpoint:       cfg.Storage.S3.Endpoint,
			ForcePathStyle: cfg.Storage.S3.ForcePathStyle,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create s3 store: %w", err)
		}
		slog.Info("using s3 storage", "bucket", cfg.Storage.S3.Bucket)
		return store, func() {}, nil

	case "filesystem":
		path := cfg.Storage.Filesystem.Path
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, nil, fmt.Errorf("create storage directory: %w", err)
		}

		root, err := os.OpenRoot(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open storage root: %w", err)
		}

		var opts []filesystem.Option
		if baseURL := cfg.Storage.Filesystem.BaseURL; baseURL != "" {
			accessKey, secretKey, ok := pickSigningKey(cfg)
			if !ok {
				_ = root.Close()
				return nil, nil, fmt.Errorf("storage.filesystem.base_url is set but no access keys are configured")
			}
			signer := partflow.NewSigner(
				partflow.AuthConfig{Region: cfg.Auth.Region, Service: cfg.Auth.Service},
				accessKey, secretKey,
			)
			opts = append(opts, filesystem.WithPresigner(signer, baseURL))
		}

		slog.Info("using filesystem storage", "path", path)
		return filesystem.NewStore(root, opts...), func() { _ = root.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

// pickSigningKey returns the first configured inline key pair. Signed
// object URLs on the filesystem backend are issued under this identity.
func pickSigningKey(cfg *config.Config) (accessKey, secretKey string, ok bool) {
	for _, p := range cfg.Auth.Keys.Inline {
		if p.AccessKey != "" && p.SecretKey != "" {
			return p.AccessKey, p.SecretKey, true
		}
	}
	return "", "", false
}

// buildCoordinator assembles the transfer coordinator from config.
func buildCoordinator(repo partflow.TransferRepo, store partflow.ObjectStore, cfg *config.Config) (*partflow.Coordinator, error) {
	return partflow.NewCoordinator(repo, store, partflow.CoordinatorConfig{
		MaxPartSize:    cfg.Service.MaxPartSize,
		MaxExpiry:      time.Duration(cfg.Service.MaxExpiry) * time.Second,
		SweepAfter:     time.Duration(cfg.Service.SweepAfter) * time.Second,
		CleanupTimeout: time.Duration(cfg.Service.CleanupTimeout) * time.Second,
	})
}
