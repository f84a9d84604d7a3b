// Package reduce provides fitted dimensionality reduction for embedding
// vectors with a train-once / load-many artifact lifecycle.
package reduce

import (
	"github.com/patteg21/pigeon-evals/internal/config"
	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
)

// Reducer lowers vector dimensionality with a persistable fitted transform.
// The state machine is Unfitted, then Fitted (or Loaded), then optionally
// Persisted via Save. Transform requires a fitted or loaded state.
type Reducer interface {
	// Fit learns the transform from at least one vector of uniform length.
	Fit(vectors [][]float32) error

	// Transform projects vectors to the target dimension. Every output
	// vector is L2-normalized so cosine similarity equals dot product.
	Transform(vectors [][]float32) ([][]float32, error)

	// TransformOne projects a single vector.
	TransformOne(vec []float32) ([]float32, error)

	// FitTransform is Fit followed by Transform on the same input.
	FitTransform(vectors [][]float32) ([][]float32, error)

	// Save persists the fitted transform atomically.
	Save(path string) error

	// Load restores a persisted transform. Fails with ArtifactNotFound if
	// the file is missing and ArtifactIncompatible if the stored target
	// dimension mismatches the config.
	Load(path string) error

	// TargetDim returns the output dimension.
	TargetDim() int

	// Fitted reports whether Transform may be called.
	Fitted() bool
}

// New builds the configured reducer. Only PCA is implemented; the other
// recognized types are reserved.
func New(cfg *config.DimensionReductionConfig) (Reducer, error) {
	switch cfg.Type {
	case "pca":
		return NewPCA(cfg), nil
	case "umap", "t-sne":
		return nil, apperrors.NotImplemented("reducer type " + cfg.Type)
	default:
		return nil, apperrors.Newf(apperrors.ErrCodeConfigInvalid,
			"unknown reducer type: %q", cfg.Type)
	}
}
