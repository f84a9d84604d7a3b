// Package store persists chunk vectors and chunk text under shared ids.
package store

import (
	"context"
	"time"

	"github.com/patteg21/pigeon-evals/internal/models"
)

// ChunkMetadata is the small per-vector record kept beside the index.
// Text may be dropped by the hydration path in favor of the text store.
type ChunkMetadata struct {
	ChunkID     string         `json:"chunk_id"`
	Text        string         `json:"text,omitempty"`
	TypeChunk   string         `json:"type_chunk,omitempty"`
	Document    models.Document `json:"document"`
	PrevChunkID string         `json:"prev_chunk_id,omitempty"`
	NextChunkID string         `json:"next_chunk_id,omitempty"`
}

// MetadataFromChunk builds the stored record for a chunk.
func MetadataFromChunk(c models.DocumentChunk) *ChunkMetadata {
	return &ChunkMetadata{
		ChunkID:     c.ID,
		Text:        c.Text,
		TypeChunk:   c.TypeChunk,
		Document:    c.Document,
		PrevChunkID: c.PrevChunkID,
		NextChunkID: c.NextChunkID,
	}
}

// matchesFilter applies an equality filter over the metadata fields.
func (m *ChunkMetadata) matchesFilter(filter map[string]string) bool {
	for key, want := range filter {
		var got string
		switch key {
		case "chunk_id":
			got = m.ChunkID
		case "type_chunk":
			got = m.TypeChunk
		case "document_id":
			got = m.Document.ID
		case "document_name":
			got = m.Document.Name
		case "prev_chunk_id":
			got = m.PrevChunkID
		case "next_chunk_id":
			got = m.NextChunkID
		default:
			return false
		}
		if got != want {
			return false
		}
	}
	return true
}

// VectorMatch is one query result.
type VectorMatch struct {
	ID       string         `json:"id"`
	Score    float32        `json:"score"`
	Metadata *ChunkMetadata `json:"metadata,omitempty"`
}

// VectorStore persists dense vectors with small metadata records.
type VectorStore interface {
	// Upload writes one embedded chunk. Idempotent on id: a repeat upload
	// overwrites the previous vector and metadata.
	Upload(ctx context.Context, chunk models.DocumentChunk) error

	// RetrieveFromID returns the stored metadata, or nil when the id is
	// absent. Never errors on missing ids.
	RetrieveFromID(ctx context.Context, id string) (*ChunkMetadata, error)

	// Query returns the topK highest-scoring entries by similarity, sorted
	// strictly by descending score, optionally constrained by an equality
	// filter over metadata.
	Query(ctx context.Context, vector []float32, topK int, includeMetadata bool, filter map[string]string) ([]VectorMatch, error)

	// Delete removes ids; deleted entries never appear in later queries.
	Delete(ctx context.Context, ids []string) error

	// Clear removes all entries.
	Clear(ctx context.Context) error

	// AllIDs lists every stored id. Used by the consistency check.
	AllIDs(ctx context.Context) ([]string, error)

	// Count returns the number of stored vectors.
	Count() int

	// Close persists pending state and releases resources.
	Close() error
}

// StoredDocument is a text-store row.
type StoredDocument struct {
	ID        string           `json:"id"`
	Text      string           `json:"text"`
	Document  *models.Document `json:"document,omitempty"`
	Embedding []float32        `json:"embedding,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// TextStore persists full chunk text and document provenance by id.
// All operations are atomic at the single-record level and writes are
// upsert-by-id.
type TextStore interface {
	StoreDocument(ctx context.Context, doc models.Document) error
	StoreDocumentChunk(ctx context.Context, chunk models.DocumentChunk) error

	// RetrieveDocument returns the stored record, or nil when absent.
	RetrieveDocument(ctx context.Context, id string) (*StoredDocument, error)

	// RetrieveDocuments returns records for the given ids, skipping
	// missing ones.
	RetrieveDocuments(ctx context.Context, ids []string) ([]*StoredDocument, error)

	DeleteDocument(ctx context.Context, id string) error
	GetDocumentCount(ctx context.Context) (int, error)
	ClearAll(ctx context.Context) error
	Close() error
}
