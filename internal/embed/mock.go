package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
)

// MockDimensions is the fallback dimension when the config leaves it unset.
const MockDimensions = 256

// MockEmbedder generates deterministic hash-based embeddings without any
// network access. Dry-run mode swaps it in for the real provider; the same
// text and seed always produce the same vector.
type MockEmbedder struct {
	dims int
	seed uint64

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*MockEmbedder)(nil)

// NewMockEmbedder creates a seeded mock at the given dimension.
func NewMockEmbedder(dims int, seed int64) *MockEmbedder {
	if dims <= 0 {
		dims = MockDimensions
	}
	return &MockEmbedder{dims: dims, seed: uint64(seed)}
}

// Embed generates a deterministic vector for the text.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vector := make([]float32, e.dims)
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return vector, nil
	}

	// Each token bumps a seeded hash bucket; a sine shaping keeps
	// components spread over [-1, 1] before normalization.
	for _, token := range strings.Fields(strings.ToLower(trimmed)) {
		h := fnv.New64a()
		_, _ = fmt.Fprintf(h, "%d:%s", e.seed, token)
		sum := h.Sum64()
		idx := int(sum % uint64(e.dims))
		vector[idx] += float32(math.Sin(float64(sum % 1000)))
	}
	return normalizeVector(vector), nil
}

// EmbedBatch generates deterministic vectors for every text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the configured dimension.
func (e *MockEmbedder) Dimensions() int { return e.dims }

// ModelName returns the mock identifier.
func (e *MockEmbedder) ModelName() string { return "mock" }

// Available always reports true.
func (e *MockEmbedder) Available(ctx context.Context) bool { return true }

// Close marks the embedder closed.
func (e *MockEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
