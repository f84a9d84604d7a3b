package embed

import (
	"log/slog"

	"github.com/patteg21/pigeon-evals/internal/config"
	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
)

// mockSeed fixes dry-run embeddings across runs.
const mockSeed = 42

// New builds the configured embedder, wrapped in the cache layer. Dry-run
// selects the seeded mock and skips the disk cache so nothing outside the
// report directory is written.
func New(cfg *config.Config, logger *slog.Logger) (Embedder, error) {
	if cfg.DryRun {
		return NewCachedEmbedder(NewMockEmbedder(mockDims(cfg), mockSeed), 0, ""), nil
	}

	e := cfg.Embedding
	var inner Embedder
	switch e.Provider {
	case "openai":
		oa, err := NewOpenAIEmbedder(e, logger)
		if err != nil {
			return nil, err
		}
		inner = oa
	case "huggingface":
		inner = NewHFEmbedder(e, logger)
	default:
		return nil, apperrors.Newf(apperrors.ErrCodeConfigInvalid,
			"unknown embedding provider: %q", e.Provider)
	}
	return NewCachedEmbedder(inner, 0, DefaultDiskCacheDir), nil
}

// mockDims picks the dry-run raw dimension. With a reducer configured the
// raw dimension just needs to exceed the target; otherwise the mock matches
// the index dimension directly.
func mockDims(cfg *config.Config) int {
	if cfg.Embedding != nil && cfg.Embedding.DimensionReduction != nil {
		return MockDimensions
	}
	if cfg.Storage != nil && cfg.Storage.Vector != nil && cfg.Storage.Vector.Dimension > 0 {
		return cfg.Storage.Vector.Dimension
	}
	return MockDimensions
}
