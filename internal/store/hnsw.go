package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"github.com/patteg21/pigeon-evals/internal/config"
	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
	"github.com/patteg21/pigeon-evals/internal/models"
)

// queryOversample widens graph searches so filtered and lazily deleted
// entries still leave topK live results.
const queryOversample = 4

// HNSWStore is the local vector index, a pure-Go HNSW graph plus a
// metadata map persisted beside it.
//
// On a dimension mismatch at upload the store recreates its index at the
// new dimension and logs an index reset; existing vectors are dropped.
// This is the documented recovery choice for this provider.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	path   string
	dims   int
	logger *slog.Logger

	idMap    map[string]uint64
	keyMap   map[uint64]string
	vectors  map[string][]float32
	metadata map[string]*ChunkMetadata
	nextKey  uint64

	closed bool
}

// hnswSidecar is the gob-encoded persistence record for everything the
// graph export does not carry.
type hnswSidecar struct {
	IDMap    map[string]uint64
	Vectors  map[string][]float32
	Metadata map[string]*ChunkMetadata
	NextKey  uint64
	Dims     int
}

var _ VectorStore = (*HNSWStore)(nil)

// NewHNSWStore creates the store, loading a persisted index when one
// exists at the configured path.
func NewHNSWStore(cfg *config.VectorConfig, logger *slog.Logger) (*HNSWStore, error) {
	s := &HNSWStore{
		graph:    newGraph(),
		path:     cfg.Path,
		dims:     cfg.Dimension,
		logger:   logger,
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
		vectors:  make(map[string][]float32),
		metadata: make(map[string]*ChunkMetadata),
	}

	if s.path != "" {
		if _, err := os.Stat(s.path); err == nil {
			if err := s.load(); err != nil {
				return nil, err
			}
			logger.Info("vector index loaded", "path", s.path, "vectors", len(s.idMap))
		}
	}
	return s, nil
}

func newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 20
	g.Ml = 0.25
	return g
}

// Upload inserts or overwrites one embedded chunk.
func (s *HNSWStore) Upload(ctx context.Context, chunk models.DocumentChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(chunk.Embedding) == 0 {
		return apperrors.Newf(apperrors.ErrCodeStoreError,
			"chunk %s has no embedding", chunk.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperrors.Newf(apperrors.ErrCodeStoreError, "vector store is closed")
	}

	if s.dims == 0 {
		s.dims = len(chunk.Embedding)
	} else if len(chunk.Embedding) != s.dims {
		// Recreate at the new dimension rather than failing the upload.
		s.logger.Warn("IndexReset: dimension mismatch, recreating index",
			"expected", s.dims, "got", len(chunk.Embedding))
		s.graph = newGraph()
		s.idMap = make(map[string]uint64)
		s.keyMap = make(map[uint64]string)
		s.vectors = make(map[string][]float32)
		s.metadata = make(map[string]*ChunkMetadata)
		s.nextKey = 0
		s.dims = len(chunk.Embedding)
	}

	// Lazy deletion on overwrite: orphan the old key instead of mutating
	// the graph.
	if oldKey, exists := s.idMap[chunk.ID]; exists {
		delete(s.keyMap, oldKey)
		delete(s.idMap, chunk.ID)
	}

	key := s.nextKey
	s.nextKey++

	vec := make([]float32, len(chunk.Embedding))
	copy(vec, chunk.Embedding)
	normalizeInPlace(vec)

	s.graph.Add(hnsw.MakeNode(key, vec))
	s.idMap[chunk.ID] = key
	s.keyMap[key] = chunk.ID
	s.vectors[chunk.ID] = vec
	s.metadata[chunk.ID] = MetadataFromChunk(chunk)
	return nil
}

// RetrieveFromID returns the stored metadata, nil when missing.
func (s *HNSWStore) RetrieveFromID(ctx context.Context, id string) (*ChunkMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, apperrors.Newf(apperrors.ErrCodeStoreError, "vector store is closed")
	}
	return s.metadata[id], nil
}

// Query searches the graph, drops orphaned and filtered entries, and
// returns results strictly sorted by descending score. Ties break on id
// so repeat queries return the same sequence.
func (s *HNSWStore) Query(ctx context.Context, vector []float32, topK int, includeMetadata bool, filter map[string]string) ([]VectorMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, apperrors.Newf(apperrors.ErrCodeStoreError, "vector store is closed")
	}
	if len(s.idMap) == 0 || topK <= 0 {
		return []VectorMatch{}, nil
	}
	if len(vector) != s.dims {
		return nil, apperrors.Newf(apperrors.ErrCodeDimensionMismatch,
			"query dimension %d does not match index dimension %d", len(vector), s.dims)
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	normalizeInPlace(query)

	k := topK * queryOversample
	if k > s.graph.Len() {
		k = s.graph.Len()
	}
	nodes := s.graph.Search(query, k)

	matches := make([]VectorMatch, 0, topK)
	for _, node := range nodes {
		id, live := s.keyMap[node.Key]
		if !live {
			continue
		}
		meta := s.metadata[id]
		if filter != nil && (meta == nil || !meta.matchesFilter(filter)) {
			continue
		}
		distance := s.graph.Distance(query, node.Value)
		m := VectorMatch{ID: id, Score: 1.0 - distance/2.0}
		if includeMetadata {
			m.Metadata = meta
		}
		matches = append(matches, m)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Delete removes ids via lazy deletion.
func (s *HNSWStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperrors.Newf(apperrors.ErrCodeStoreError, "vector store is closed")
	}
	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
			delete(s.vectors, id)
			delete(s.metadata, id)
		}
	}
	return nil
}

// Clear removes all entries by rebuilding the graph.
func (s *HNSWStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperrors.Newf(apperrors.ErrCodeStoreError, "vector store is closed")
	}
	s.graph = newGraph()
	s.idMap = make(map[string]uint64)
	s.keyMap = make(map[uint64]string)
	s.vectors = make(map[string][]float32)
	s.metadata = make(map[string]*ChunkMetadata)
	s.nextKey = 0
	s.logger.Info("vector index cleared", "path", s.path)
	return nil
}

// AllIDs lists stored ids in sorted order.
func (s *HNSWStore) AllIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Count returns the number of live vectors.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// Close persists the index when a path is configured.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.path == "" {
		return nil
	}
	return s.save()
}

// save writes the graph export and the gob sidecar, each via
// temp-then-rename.
func (s *HNSWStore) save() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	if err := s.graph.Export(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}

	metaTmp := s.path + ".metadata.tmp"
	mf, err := os.Create(metaTmp)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	sidecar := hnswSidecar{
		IDMap:    s.idMap,
		Vectors:  s.vectors,
		Metadata: s.metadata,
		NextKey:  s.nextKey,
		Dims:     s.dims,
	}
	if err := gob.NewEncoder(mf).Encode(sidecar); err != nil {
		_ = mf.Close()
		_ = os.Remove(metaTmp)
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	if err := mf.Close(); err != nil {
		_ = os.Remove(metaTmp)
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	return os.Rename(metaTmp, s.path+".metadata")
}

// load restores the graph and sidecar written by save.
func (s *HNSWStore) load() error {
	mf, err := os.Open(s.path + ".metadata")
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	defer func() { _ = mf.Close() }()

	var sidecar hnswSidecar
	if err := gob.NewDecoder(mf).Decode(&sidecar); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	s.idMap = sidecar.IDMap
	s.vectors = sidecar.Vectors
	s.metadata = sidecar.Metadata
	s.nextKey = sidecar.NextKey
	s.dims = sidecar.Dims
	s.keyMap = make(map[uint64]string, len(s.idMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}

	f, err := os.Open(s.path)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	defer func() { _ = f.Close() }()

	// Import requires an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(f)); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	return nil
}

// normalizeInPlace normalizes a vector to unit length in place.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
