package store

import (
	"context"
	"log/slog"

	"github.com/patteg21/pigeon-evals/internal/config"
	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
)

// NewVectorStore builds the configured vector store. Dry runs always get an
// in-memory store so nothing under data/ is touched. Providers without a
// native implementation fall back to the local HNSW index with a warning
// instead of failing the run.
func NewVectorStore(cfg *config.Config, logger *slog.Logger) (VectorStore, error) {
	if cfg.DryRun {
		return NewMemoryVectorStore(), nil
	}
	vc := &config.VectorConfig{}
	if cfg.Storage != nil && cfg.Storage.Vector != nil {
		vc = cfg.Storage.Vector
	}

	switch vc.Provider {
	case "hnsw", "":
		return NewHNSWStore(vc, logger)
	case "memory":
		return NewMemoryVectorStore(), nil
	default:
		logger.Warn("unsupported vector provider, falling back to local index",
			"provider", vc.Provider)
		return NewHNSWStore(vc, logger)
	}
}

// NewTextStore builds the configured text store. Dry runs always get an
// in-memory store.
func NewTextStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (TextStore, error) {
	if cfg.DryRun {
		return NewMemoryTextStore(), nil
	}
	if cfg.Storage == nil || cfg.Storage.TextStore == nil {
		return NewMemoryTextStore(), nil
	}
	tc := cfg.Storage.TextStore

	switch tc.Client {
	case "sqlite", "":
		return NewSQLiteTextStore(tc.Path)
	case "postgres":
		return NewPostgresTextStore(ctx, tc.DSN)
	case "s3":
		return NewS3TextStore(ctx, tc, logger)
	case "file":
		return NewFileTextStore(tc.Path)
	case "memory":
		return NewMemoryTextStore(), nil
	default:
		return nil, apperrors.Newf(apperrors.ErrCodeConfigInvalid,
			"unknown text store client %q", tc.Client)
	}
}
