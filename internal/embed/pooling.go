package embed

import (
	"math"

	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
)

// smoothDecayBase weights sub-chunk i by 0.9^i before normalization, so
// earlier sub-chunks dominate the pooled vector.
const smoothDecayBase = 0.9

// Pool combines sub-chunk vectors into one vector using the named strategy.
// weights are only consulted by the weighted strategy; when nil, uniform
// weights are used. The result is not normalized here; callers decide.
func Pool(strategy string, vectors [][]float32, weights []float64) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidInput, "cannot pool zero vectors")
	}
	dim := len(vectors[0])
	for _, v := range vectors {
		if len(v) != dim {
			return nil, apperrors.Newf(apperrors.ErrCodeDimensionMismatch,
				"pooling requires uniform vector length: %d vs %d", dim, len(v))
		}
	}

	switch strategy {
	case "mean":
		return poolMean(vectors), nil
	case "max":
		return poolMax(vectors), nil
	case "weighted":
		return poolWeighted(vectors, weights)
	case "smooth_decay":
		return poolSmoothDecay(vectors), nil
	default:
		return nil, apperrors.Newf(apperrors.ErrCodeConfigInvalid,
			"unknown pooling strategy: %q", strategy)
	}
}

func poolMean(vectors [][]float32) []float32 {
	dim := len(vectors[0])
	out := make([]float32, dim)
	for _, v := range vectors {
		for i, val := range v {
			out[i] += val
		}
	}
	n := float32(len(vectors))
	for i := range out {
		out[i] /= n
	}
	return out
}

func poolMax(vectors [][]float32) []float32 {
	dim := len(vectors[0])
	out := make([]float32, dim)
	copy(out, vectors[0])
	for _, v := range vectors[1:] {
		for i, val := range v {
			if val > out[i] {
				out[i] = val
			}
		}
	}
	return out
}

// poolWeighted averages with the supplied weights normalized to sum 1.
// With nil weights every vector contributes equally.
func poolWeighted(vectors [][]float32, weights []float64) ([]float32, error) {
	if weights == nil {
		weights = make([]float64, len(vectors))
		for i := range weights {
			weights[i] = 1
		}
	}
	if len(weights) != len(vectors) {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidInput,
			"weight count %d does not match vector count %d", len(weights), len(vectors))
	}
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if sum == 0 {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidInput, "pooling weights sum to zero")
	}

	dim := len(vectors[0])
	out := make([]float32, dim)
	for vi, v := range vectors {
		w := weights[vi] / sum
		for i, val := range v {
			out[i] += float32(w * float64(val))
		}
	}
	return out, nil
}

func poolSmoothDecay(vectors [][]float32) []float32 {
	weights := make([]float64, len(vectors))
	for i := range weights {
		weights[i] = math.Pow(smoothDecayBase, float64(i))
	}
	out, _ := poolWeighted(vectors, weights)
	return out
}
