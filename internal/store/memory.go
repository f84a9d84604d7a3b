package store

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
	"github.com/patteg21/pigeon-evals/internal/models"
)

// MemoryVectorStore is a brute-force in-memory vector store. Dry-run and
// tests use it; exact search keeps result ordering trivially deterministic.
type MemoryVectorStore struct {
	mu       sync.RWMutex
	vectors  map[string][]float32
	metadata map[string]*ChunkMetadata
	dims     int
}

var _ VectorStore = (*MemoryVectorStore)(nil)

// NewMemoryVectorStore creates an empty in-memory store.
func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{
		vectors:  make(map[string][]float32),
		metadata: make(map[string]*ChunkMetadata),
	}
}

// Upload inserts or overwrites one embedded chunk.
func (s *MemoryVectorStore) Upload(ctx context.Context, chunk models.DocumentChunk) error {
	if len(chunk.Embedding) == 0 {
		return apperrors.Newf(apperrors.ErrCodeStoreError,
			"chunk %s has no embedding", chunk.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dims == 0 {
		s.dims = len(chunk.Embedding)
	} else if len(chunk.Embedding) != s.dims {
		return apperrors.Newf(apperrors.ErrCodeDimensionMismatch,
			"vector dimension %d does not match store dimension %d",
			len(chunk.Embedding), s.dims)
	}

	vec := make([]float32, len(chunk.Embedding))
	copy(vec, chunk.Embedding)
	normalizeInPlace(vec)
	s.vectors[chunk.ID] = vec
	s.metadata[chunk.ID] = MetadataFromChunk(chunk)
	return nil
}

// RetrieveFromID returns the stored metadata, nil when missing.
func (s *MemoryVectorStore) RetrieveFromID(ctx context.Context, id string) (*ChunkMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metadata[id], nil
}

// Query scores every stored vector by cosine similarity.
func (s *MemoryVectorStore) Query(ctx context.Context, vector []float32, topK int, includeMetadata bool, filter map[string]string) ([]VectorMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.vectors) == 0 || topK <= 0 {
		return []VectorMatch{}, nil
	}
	if len(vector) != s.dims {
		return nil, apperrors.Newf(apperrors.ErrCodeDimensionMismatch,
			"query dimension %d does not match store dimension %d", len(vector), s.dims)
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	normalizeInPlace(query)

	matches := make([]VectorMatch, 0, len(s.vectors))
	for id, vec := range s.vectors {
		meta := s.metadata[id]
		if filter != nil && (meta == nil || !meta.matchesFilter(filter)) {
			continue
		}
		m := VectorMatch{ID: id, Score: dot(query, vec)}
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

// Delete removes ids.
func (s *MemoryVectorStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.vectors, id)
		delete(s.metadata, id)
	}
	return nil
}

// Clear removes all entries.
func (s *MemoryVectorStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors = make(map[string][]float32)
	s.metadata = make(map[string]*ChunkMetadata)
	s.dims = 0
	return nil
}

// AllIDs lists stored ids in sorted order.
func (s *MemoryVectorStore) AllIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.vectors))
	for id := range s.vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Count returns the number of stored vectors.
func (s *MemoryVectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

// Close is a no-op for the in-memory store.
func (s *MemoryVectorStore) Close() error { return nil }

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// MemoryTextStore is an in-memory text store for dry-run and tests.
type MemoryTextStore struct {
	mu   sync.RWMutex
	rows map[string]*StoredDocument
}

var _ TextStore = (*MemoryTextStore)(nil)

// NewMemoryTextStore creates an empty in-memory text store.
func NewMemoryTextStore() *MemoryTextStore {
	return &MemoryTextStore{rows: make(map[string]*StoredDocument)}
}

// StoreDocument upserts a whole document.
func (s *MemoryTextStore) StoreDocument(ctx context.Context, doc models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := doc
	s.rows[doc.ID] = &StoredDocument{
		ID:        doc.ID,
		Text:      doc.Text,
		Document:  &d,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

// StoreDocumentChunk upserts one chunk row.
func (s *MemoryTextStore) StoreDocumentChunk(ctx context.Context, chunk models.DocumentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := chunk.Document
	s.rows[chunk.ID] = &StoredDocument{
		ID:        chunk.ID,
		Text:      chunk.Text,
		Document:  &d,
		Embedding: chunk.Embedding,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

// RetrieveDocument returns the stored record, nil when absent.
func (s *MemoryTextStore) RetrieveDocument(ctx context.Context, id string) (*StoredDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows[id], nil
}

// RetrieveDocuments returns records for the ids, skipping missing ones.
func (s *MemoryTextStore) RetrieveDocuments(ctx context.Context, ids []string) ([]*StoredDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*StoredDocument, 0, len(ids))
	for _, id := range ids {
		if row, ok := s.rows[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

// DeleteDocument removes one row.
func (s *MemoryTextStore) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

// GetDocumentCount returns the row count.
func (s *MemoryTextStore) GetDocumentCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows), nil
}

// ClearAll removes every row.
func (s *MemoryTextStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[string]*StoredDocument)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryTextStore) Close() error { return nil }
