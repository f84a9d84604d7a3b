package embed

import (
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize is the default number of embeddings held in
// memory. At 1536 dimensions * 4 bytes * 2048 entries it is about 12MB.
const DefaultEmbeddingCacheSize = 2048

// DefaultDiskCacheDir is the on-disk spill location for the cache.
const DefaultDiskCacheDir = "data/.cache"

// CachedEmbedder wraps an Embedder with LRU caching so identical inputs
// return identical vectors within a run without repeat provider calls.
// When diskDir is set, entries also spill to disk and survive restarts.
type CachedEmbedder struct {
	inner   Embedder
	cache   *lru.Cache[string, []float32]
	diskDir string
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder creates a cached embedder. An empty diskDir disables
// the disk layer.
func NewCachedEmbedder(inner Embedder, cacheSize int, diskDir string) *CachedEmbedder {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	if diskDir != "" {
		_ = os.MkdirAll(diskDir, 0o755)
	}
	return &CachedEmbedder{inner: inner, cache: cache, diskDir: diskDir}
}

// cacheKey derives a key from text and model. SHA-256 gives a constant key
// length for arbitrary text.
func (c *CachedEmbedder) cacheKey(text string) string {
	combined := text + "\x00" + c.inner.ModelName()
	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:])
}

// Embed returns the cached embedding if available, otherwise computes and
// caches it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.lookup(key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(key, vec)
	return vec, nil
}

// EmbedBatch checks the cache per text so partial hits still reduce the
// provider batch.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if vec, ok := c.lookup(c.cacheKey(text)); ok {
			results[i] = vec
		} else {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, text)
		}
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	fresh, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		results[idx] = fresh[j]
		c.store(c.cacheKey(texts[idx]), fresh[j])
	}
	return results, nil
}

func (c *CachedEmbedder) lookup(key string) ([]float32, bool) {
	if vec, ok := c.cache.Get(key); ok {
		return vec, true
	}
	if c.diskDir == "" {
		return nil, false
	}
	f, err := os.Open(filepath.Join(c.diskDir, key+".gob"))
	if err != nil {
		return nil, false
	}
	defer func() { _ = f.Close() }()

	var vec []float32
	if err := gob.NewDecoder(f).Decode(&vec); err != nil {
		return nil, false
	}
	c.cache.Add(key, vec)
	return vec, true
}

func (c *CachedEmbedder) store(key string, vec []float32) {
	c.cache.Add(key, vec)
	if c.diskDir == "" {
		return
	}
	// Write-temp-then-rename keeps concurrent readers off partial files.
	path := filepath.Join(c.diskDir, key+".gob")
	tmp, err := os.CreateTemp(c.diskDir, key+".tmp-*")
	if err != nil {
		return
	}
	if err := gob.NewEncoder(tmp).Encode(vec); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return
	}
	_ = tmp.Close()
	_ = os.Rename(tmp.Name(), path)
}

// Dimensions returns the embedding dimension (passthrough).
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// ModelName returns the model identifier (passthrough).
func (c *CachedEmbedder) ModelName() string { return c.inner.ModelName() }

// Available checks the inner embedder.
func (c *CachedEmbedder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }

// Close closes the inner embedder.
func (c *CachedEmbedder) Close() error { return c.inner.Close() }

// Inner returns the wrapped embedder.
func (c *CachedEmbedder) Inner() Embedder { return c.inner }
