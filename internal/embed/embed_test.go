package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patteg21/pigeon-evals/internal/config"
	"github.com/patteg21/pigeon-evals/internal/logging"
	"github.com/patteg21/pigeon-evals/internal/models"
	"github.com/patteg21/pigeon-evals/internal/reduce"
)

func TestMockEmbedder_Deterministic(t *testing.T) {
	a := NewMockEmbedder(64, 42)
	b := NewMockEmbedder(64, 42)
	other := NewMockEmbedder(64, 7)

	va, err := a.Embed(context.Background(), "quarterly revenue")
	require.NoError(t, err)
	vb, err := b.Embed(context.Background(), "quarterly revenue")
	require.NoError(t, err)
	vo, err := other.Embed(context.Background(), "quarterly revenue")
	require.NoError(t, err)

	assert.Equal(t, va, vb)
	assert.NotEqual(t, va, vo)
	assert.Len(t, va, 64)
	assert.InDelta(t, 1.0, l2(va), 1e-5)
}

func TestMockEmbedder_ClosedFails(t *testing.T) {
	m := NewMockEmbedder(16, 1)
	require.NoError(t, m.Close())
	_, err := m.Embed(context.Background(), "text")
	assert.Error(t, err)
}

// countingEmbedder counts inner calls to observe cache effectiveness.
type countingEmbedder struct {
	MockEmbedder
	calls atomic.Int64
}

func newCountingEmbedder(dims int) *countingEmbedder {
	return &countingEmbedder{MockEmbedder: *NewMockEmbedder(dims, 1)}
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.MockEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(int64(len(texts)))
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.MockEmbedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func TestCachedEmbedder_MemoryHit(t *testing.T) {
	inner := newCountingEmbedder(32)
	cached := NewCachedEmbedder(inner, 10, "")

	first, err := cached.Embed(context.Background(), "same text")
	require.NoError(t, err)
	second, err := cached.Embed(context.Background(), "same text")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), inner.calls.Load())
}

func TestCachedEmbedder_BatchPartialHit(t *testing.T) {
	inner := newCountingEmbedder(32)
	cached := NewCachedEmbedder(inner, 10, "")

	_, err := cached.Embed(context.Background(), "a")
	require.NoError(t, err)

	out, err := cached.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)

	require.Len(t, out, 3)
	// Only b and c reach the provider.
	assert.Equal(t, int64(3), inner.calls.Load())
}

func TestCachedEmbedder_DiskSpillSurvivesNewCache(t *testing.T) {
	dir := t.TempDir()

	inner1 := newCountingEmbedder(32)
	first := NewCachedEmbedder(inner1, 10, dir)
	want, err := first.Embed(context.Background(), "persisted")
	require.NoError(t, err)

	inner2 := newCountingEmbedder(32)
	second := NewCachedEmbedder(inner2, 10, dir)
	got, err := second.Embed(context.Background(), "persisted")
	require.NoError(t, err)

	assert.Equal(t, want, got)
	assert.Equal(t, int64(0), inner2.calls.Load())
}

func openAITestServer(t *testing.T, dims int, calls *atomic.Int64, failures int) *httptest.Server {
	t.Helper()
	var failed atomic.Int64
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if failed.Load() < int64(failures) {
			failed.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"tokens"}}`))
			return
		}
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type datum struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		resp := struct {
			Data []datum `json:"data"`
		}{}
		for i := range req.Input {
			vec := make([]float32, dims)
			vec[0] = 1
			resp.Data = append(resp.Data, datum{Embedding: vec, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func openAICfg(endpoint string) *config.EmbeddingConfig {
	norm := true
	return &config.EmbeddingConfig{
		Provider:        "openai",
		Model:           "text-embedding-3-small",
		Endpoint:        endpoint,
		BatchSize:       8,
		PoolingStrategy: "mean",
		ChunkMaxTokens:  64,
		OverlapTokens:   8,
		Normalize:       &norm,
	}
}

func TestOpenAIEmbedder_Batch(t *testing.T) {
	var calls atomic.Int64
	srv := openAITestServer(t, 6, &calls, 0)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(openAICfg(srv.URL+"/v1"), logging.Discard())
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 6)
	assert.Equal(t, 6, e.Dimensions())
}

func TestOpenAIEmbedder_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int64
	srv := openAITestServer(t, 4, &calls, 2)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(openAICfg(srv.URL+"/v1"), logging.Discard())
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "retry me")
	require.NoError(t, err)
	// Two rate-limited attempts plus the success.
	assert.Equal(t, int64(3), calls.Load())
}

func TestOpenAIEmbedder_OversizePoolsToOneVector(t *testing.T) {
	var calls atomic.Int64
	srv := openAITestServer(t, 4, &calls, 0)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(openAICfg(srv.URL+"/v1"), logging.Discard())
	require.NoError(t, err)
	// Force every text down the oversize path.
	e.modelMax = 16

	long := ""
	for i := 0; i < 500; i++ {
		long += "filing revenue item "
	}
	vec, err := e.Embed(context.Background(), long)
	require.NoError(t, err)

	assert.Len(t, vec, 4)
	assert.Greater(t, calls.Load(), int64(1))
}

func TestHFEmbedder_Batch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		require.Equal(t, "/embed", r.URL.Path)
		var req hfEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		out := make([][]float32, len(req.Inputs))
		for i := range out {
			out[i] = []float32{1, 0, 0}
		}
		require.NoError(t, json.NewEncoder(w).Encode(out))
	}))
	defer srv.Close()

	cfg := &config.EmbeddingConfig{
		Provider: "huggingface",
		Model:    "all-MiniLM-L6-v2",
		Endpoint: srv.URL,
	}
	e := NewHFEmbedder(cfg, logging.Discard())

	require.True(t, e.Available(context.Background()))
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, 3, e.Dimensions())
}

// orderRecordingEmbedder returns vectors encoding the input text so the
// join order is observable.
type orderRecordingEmbedder struct {
	MockEmbedder
	mu    sync.Mutex
	seen  [][]string
	calls int
}

func (o *orderRecordingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	o.mu.Lock()
	o.seen = append(o.seen, texts)
	o.calls++
	o.mu.Unlock()
	return o.MockEmbedder.EmbedBatch(ctx, texts)
}

func TestService_ShardedFanOutPreservesOrder(t *testing.T) {
	inner := &orderRecordingEmbedder{MockEmbedder: *NewMockEmbedder(32, 1)}
	cfg := &config.Config{
		Threading: &config.ThreadingConfig{UseThreading: true, MaxWorkers: 3},
	}
	svc := NewService(inner, nil, cfg, logging.Discard())

	doc := models.NewDocument("d.txt", "d.txt", "")
	var chunks []models.DocumentChunk
	texts := []string{"c0", "c1", "c2", "c3", "c4", "c5", "c6"}
	for _, txt := range texts {
		chunks = append(chunks, models.NewChunk(doc, txt))
	}

	require.NoError(t, svc.EmbedChunks(context.Background(), chunks))

	// Shards ran concurrently but the joined vectors line up with the
	// original chunk order.
	single := NewMockEmbedder(32, 1)
	for i, c := range chunks {
		want, err := single.Embed(context.Background(), texts[i])
		require.NoError(t, err)
		assert.Equal(t, want, c.Embedding, "chunk %d", i)
	}
	assert.GreaterOrEqual(t, inner.calls, 2)
}

func TestService_ReducerFitPersistsArtifact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pca_4.gob")

	drCfg := &config.DimensionReductionConfig{Type: "pca", Dims: 4, Path: path}
	cfg := &config.Config{
		Embedding: &config.EmbeddingConfig{DimensionReduction: drCfg},
	}

	newService := func() *Service {
		r, err := reduce.New(drCfg)
		require.NoError(t, err)
		return NewService(NewMockEmbedder(32, 1), r, cfg, logging.Discard())
	}

	doc := models.NewDocument("d.txt", "d.txt", "")
	var chunks []models.DocumentChunk
	for _, txt := range []string{"alpha beta", "gamma delta", "epsilon zeta", "eta theta", "iota kappa"} {
		chunks = append(chunks, models.NewChunk(doc, txt))
	}

	require.NoError(t, newService().EmbedChunks(context.Background(), chunks))
	for _, c := range chunks {
		assert.Len(t, c.Embedding, 4)
	}
	assert.FileExists(t, path)

	// A second run loads the artifact and produces identical vectors.
	rerun := make([]models.DocumentChunk, len(chunks))
	copy(rerun, chunks)
	for i := range rerun {
		rerun[i].Embedding = nil
	}
	require.NoError(t, newService().EmbedChunks(context.Background(), rerun))
	for i := range rerun {
		assert.Equal(t, chunks[i].Embedding, rerun[i].Embedding)
	}
}

func TestService_EmptyChunksNoOp(t *testing.T) {
	svc := NewService(NewMockEmbedder(8, 1), nil, &config.Config{}, logging.Discard())
	require.NoError(t, svc.EmbedChunks(context.Background(), nil))
}
