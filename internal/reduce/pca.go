package reduce

import (
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"gonum.org/v1/gonum/mat"

	"github.com/patteg21/pigeon-evals/internal/config"
	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
	"github.com/patteg21/pigeon-evals/pkg/version"
)

// pcaArtifact is the gob-encoded persisted form of a fitted PCA.
type pcaArtifact struct {
	// Components is the d x k projection matrix stored row-major.
	Components []float64
	InputDim   int
	Mean       []float64
	Meta       artifactMeta
}

type artifactMeta struct {
	TargetDim int
	Seed      int64
	Version   string
}

// PCA projects vectors onto their top principal components. The fit
// centers the input and takes the leading right singular vectors; the
// transform centers, projects, and L2-normalizes.
type PCA struct {
	cfg        *config.DimensionReductionConfig
	components *mat.Dense // d x k
	mean       []float64
	inputDim   int
	fitted     bool
}

var _ Reducer = (*PCA)(nil)

// NewPCA creates an unfitted PCA at the configured target dimension.
func NewPCA(cfg *config.DimensionReductionConfig) *PCA {
	return &PCA{cfg: cfg}
}

// Fit learns the projection from the raw vectors.
func (p *PCA) Fit(vectors [][]float32) error {
	n := len(vectors)
	if n == 0 {
		return apperrors.Newf(apperrors.ErrCodeInvalidInput,
			"cannot fit PCA on zero vectors")
	}
	d := len(vectors[0])
	for _, v := range vectors {
		if len(v) != d {
			return apperrors.Newf(apperrors.ErrCodeDimensionMismatch,
				"fit requires uniform vector length: %d vs %d", d, len(v))
		}
	}
	k := p.cfg.Dims
	if k > d || k > n {
		return apperrors.Newf(apperrors.ErrCodeInvalidInput,
			"cannot extract %d components from %d vectors of dimension %d", k, n, d)
	}

	// Column means, then center.
	mean := make([]float64, d)
	for _, v := range vectors {
		for j, val := range v {
			mean[j] += float64(val)
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}

	centered := mat.NewDense(n, d, nil)
	for i, v := range vectors {
		for j, val := range v {
			centered.Set(i, j, float64(val)-mean[j])
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThin); !ok {
		return apperrors.Newf(apperrors.ErrCodeInternal, "SVD factorization failed")
	}
	var v mat.Dense
	svd.VTo(&v)

	// Leading k right singular vectors form the projection.
	components := mat.NewDense(d, k, nil)
	for i := 0; i < d; i++ {
		for j := 0; j < k; j++ {
			components.Set(i, j, v.At(i, j))
		}
	}

	p.components = components
	p.mean = mean
	p.inputDim = d
	p.fitted = true
	return nil
}

// Transform projects vectors to the target dimension and L2-normalizes
// each output row.
func (p *PCA) Transform(vectors [][]float32) ([][]float32, error) {
	if !p.fitted {
		return nil, apperrors.Newf(apperrors.ErrCodeReducerMismatch,
			"transform called on an unfitted reducer")
	}
	out := make([][]float32, len(vectors))
	for i, v := range vectors {
		projected, err := p.TransformOne(v)
		if err != nil {
			return nil, err
		}
		out[i] = projected
	}
	return out, nil
}

// TransformOne projects a single vector.
func (p *PCA) TransformOne(vec []float32) ([]float32, error) {
	if !p.fitted {
		return nil, apperrors.Newf(apperrors.ErrCodeReducerMismatch,
			"transform called on an unfitted reducer")
	}
	if len(vec) != p.inputDim {
		return nil, apperrors.Newf(apperrors.ErrCodeReducerMismatch,
			"input dimension %d does not match fitted dimension %d", len(vec), p.inputDim)
	}

	k := p.cfg.Dims
	out := make([]float64, k)
	for j := 0; j < k; j++ {
		var sum float64
		for i := 0; i < p.inputDim; i++ {
			sum += (float64(vec[i]) - p.mean[i]) * p.components.At(i, j)
		}
		out[j] = sum
	}

	// L2-normalize so cosine similarity equals dot product downstream.
	var norm float64
	for _, val := range out {
		norm += val * val
	}
	norm = math.Sqrt(norm)
	result := make([]float32, k)
	if norm == 0 {
		return result, nil
	}
	for j, val := range out {
		result[j] = float32(val / norm)
	}
	return result, nil
}

// FitTransform fits and transforms in one pass.
func (p *PCA) FitTransform(vectors [][]float32) ([][]float32, error) {
	if err := p.Fit(vectors); err != nil {
		return nil, err
	}
	return p.Transform(vectors)
}

// Save persists the fitted transform. The write is guarded by a file lock
// and lands via temp-then-rename so readers never see partial artifacts.
func (p *PCA) Save(path string) error {
	if !p.fitted {
		return apperrors.Newf(apperrors.ErrCodeReducerMismatch,
			"save called on an unfitted reducer")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	defer func() { _ = lock.Unlock() }()

	artifact := pcaArtifact{
		Components: flatten(p.components),
		InputDim:   p.inputDim,
		Mean:       p.mean,
		Meta: artifactMeta{
			TargetDim: p.cfg.Dims,
			Seed:      p.cfg.Seed,
			Version:   version.Version,
		},
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	if err := gob.NewEncoder(tmp).Encode(artifact); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	return nil
}

// Load restores a persisted transform and verifies compatibility with the
// configured target dimension.
func (p *PCA) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return apperrors.New(apperrors.ErrCodeArtifactNotFound,
				fmt.Sprintf("reducer artifact not found: %s", path), err)
		}
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	defer func() { _ = f.Close() }()

	var artifact pcaArtifact
	if err := gob.NewDecoder(f).Decode(&artifact); err != nil {
		return apperrors.New(apperrors.ErrCodeArtifactIncompatible,
			fmt.Sprintf("cannot decode reducer artifact: %s", path), err)
	}
	if artifact.Meta.TargetDim != p.cfg.Dims {
		return apperrors.Newf(apperrors.ErrCodeArtifactIncompatible,
			"artifact target dimension %d does not match configured %d",
			artifact.Meta.TargetDim, p.cfg.Dims)
	}
	if artifact.InputDim <= 0 || len(artifact.Components) != artifact.InputDim*artifact.Meta.TargetDim {
		return apperrors.Newf(apperrors.ErrCodeArtifactIncompatible,
			"artifact component shape is corrupt: %s", path)
	}

	p.components = mat.NewDense(artifact.InputDim, artifact.Meta.TargetDim, artifact.Components)
	p.mean = artifact.Mean
	p.inputDim = artifact.InputDim
	p.fitted = true
	return nil
}

// TargetDim returns the output dimension.
func (p *PCA) TargetDim() int { return p.cfg.Dims }

// Fitted reports whether Transform may be called.
func (p *PCA) Fitted() bool { return p.fitted }

func flatten(m *mat.Dense) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out = append(out, m.At(i, j))
		}
	}
	return out
}
