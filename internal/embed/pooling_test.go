package embed

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func l2(v []float32) float64 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	return math.Sqrt(sum)
}

func TestPool_Mean(t *testing.T) {
	vectors := [][]float32{{1, 0}, {0, 1}}
	out, err := Pool("mean", vectors, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, out)
}

func TestPool_Max(t *testing.T) {
	vectors := [][]float32{{1, -2, 3}, {0, 5, -1}}
	out, err := Pool("max", vectors, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 5, 3}, out)
}

func TestPool_WeightedNormalizesWeights(t *testing.T) {
	vectors := [][]float32{{2, 0}, {0, 2}}
	out, err := Pool("weighted", vectors, []float64{3, 1})
	require.NoError(t, err)
	assert.InDelta(t, 1.5, float64(out[0]), 1e-6)
	assert.InDelta(t, 0.5, float64(out[1]), 1e-6)
}

func TestPool_SmoothDecayFavorsEarlySubchunks(t *testing.T) {
	vectors := [][]float32{{1, 0}, {0, 1}}
	out, err := Pool("smooth_decay", vectors, nil)
	require.NoError(t, err)
	// Weight 1.0 vs 0.9: the first sub-chunk dominates.
	assert.Greater(t, out[0], out[1])
	assert.InDelta(t, 1.0, float64(out[0])+float64(out[1]), 1e-6)
}

func TestPool_BoundsForNormalizedInputs(t *testing.T) {
	// Mean and weighted pooling of unit vectors stay in the unit ball;
	// max pooling keeps every component at most 1.
	vectors := [][]float32{
		normalizeVector([]float32{1, 2, 3}),
		normalizeVector([]float32{-2, 1, 0}),
		normalizeVector([]float32{0.5, -0.5, 2}),
	}

	mean, err := Pool("mean", vectors, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, l2(mean), 1.0+1e-6)

	weighted, err := Pool("weighted", vectors, []float64{0.2, 0.3, 0.5})
	require.NoError(t, err)
	assert.LessOrEqual(t, l2(weighted), 1.0+1e-6)

	max, err := Pool("max", vectors, nil)
	require.NoError(t, err)
	for _, val := range max {
		assert.LessOrEqual(t, float64(val), 1.0+1e-6)
	}
}

func TestPool_Failures(t *testing.T) {
	_, err := Pool("mean", nil, nil)
	assert.Error(t, err)

	_, err = Pool("mean", [][]float32{{1, 2}, {1}}, nil)
	assert.Error(t, err)

	_, err = Pool("median", [][]float32{{1}}, nil)
	assert.Error(t, err)

	_, err = Pool("weighted", [][]float32{{1}, {2}}, []float64{1})
	assert.Error(t, err)

	_, err = Pool("weighted", [][]float32{{1}}, []float64{0})
	assert.Error(t, err)
}

func TestNormalizeVector(t *testing.T) {
	out := normalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, float64(out[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(out[1]), 1e-6)

	zero := normalizeVector([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestTokenWindows_SmallTextSingleWindow(t *testing.T) {
	texts, counts := tokenWindows("short text", 100, 10)
	require.Len(t, texts, 1)
	assert.Equal(t, "short text", texts[0])
	assert.Greater(t, counts[0], 0)
}

func TestTokenWindows_OverlapAdvances(t *testing.T) {
	long := ""
	for i := 0; i < 300; i++ {
		long += "word "
	}
	texts, counts := tokenWindows(long, 50, 10)

	assert.Greater(t, len(texts), 1)
	for i, c := range counts {
		assert.LessOrEqual(t, c, 50)
		assert.NotEmpty(t, texts[i])
	}
}
