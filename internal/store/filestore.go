package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
	"github.com/patteg21/pigeon-evals/internal/models"
)

// FileTextStore keeps one JSON file per record in a directory. It is the
// zero-dependency text backend for small corpora and offline inspection.
type FileTextStore struct {
	dir string
}

var _ TextStore = (*FileTextStore)(nil)

// NewFileTextStore creates the directory if needed.
func NewFileTextStore(dir string) (*FileTextStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	return &FileTextStore{dir: dir}, nil
}

func (s *FileTextStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileTextStore) put(record *StoredDocument) error {
	raw, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternal, err)
	}
	target := s.path(record.ID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	return nil
}

// StoreDocument upserts a whole document.
func (s *FileTextStore) StoreDocument(ctx context.Context, doc models.Document) error {
	d := doc
	return s.put(&StoredDocument{
		ID:        doc.ID,
		Text:      doc.Text,
		Document:  &d,
		CreatedAt: time.Now().UTC(),
	})
}

// StoreDocumentChunk upserts one chunk record.
func (s *FileTextStore) StoreDocumentChunk(ctx context.Context, chunk models.DocumentChunk) error {
	d := chunk.Document
	return s.put(&StoredDocument{
		ID:        chunk.ID,
		Text:      chunk.Text,
		Document:  &d,
		Embedding: chunk.Embedding,
		CreatedAt: time.Now().UTC(),
	})
}

// RetrieveDocument returns the stored record, nil when absent.
func (s *FileTextStore) RetrieveDocument(ctx context.Context, id string) (*StoredDocument, error) {
	raw, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	var record StoredDocument
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreError, "text record corrupt", err)
	}
	return &record, nil
}

// RetrieveDocuments returns records for the ids, skipping missing ones.
func (s *FileTextStore) RetrieveDocuments(ctx context.Context, ids []string) ([]*StoredDocument, error) {
	out := make([]*StoredDocument, 0, len(ids))
	for _, id := range ids {
		record, err := s.RetrieveDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		if record != nil {
			out = append(out, record)
		}
	}
	return out, nil
}

// DeleteDocument removes one record.
func (s *FileTextStore) DeleteDocument(ctx context.Context, id string) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	return nil
}

// GetDocumentCount counts record files.
func (s *FileTextStore) GetDocumentCount(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			count++
		}
	}
	return count, nil
}

// ClearAll removes every record file.
func (s *FileTextStore) ClearAll(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
		}
	}
	return nil
}

// Close is a no-op for the file store.
func (s *FileTextStore) Close() error { return nil }
