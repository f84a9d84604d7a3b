package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
	"github.com/patteg21/pigeon-evals/internal/models"
)

// documentsSchema is the chunk text table.
const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    text TEXT NOT NULL,
    document_data TEXT,
    embedding TEXT,
    created_at TIMESTAMP
)`

// SQLiteTextStore persists chunk text in a local SQLite database.
type SQLiteTextStore struct {
	db *sql.DB
}

var _ TextStore = (*SQLiteTextStore)(nil)

// NewSQLiteTextStore opens (creating if needed) the database at path.
func NewSQLiteTextStore(path string) (*SQLiteTextStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	// Single writer; WAL lets readers proceed during ingest.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	if _, err := db.Exec(documentsSchema); err != nil {
		_ = db.Close()
		return nil, apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	return &SQLiteTextStore{db: db}, nil
}

func (s *SQLiteTextStore) upsert(ctx context.Context, id, text string, docData *models.Document, embedding []float32) error {
	var docJSON, embJSON sql.NullString
	if docData != nil {
		raw, err := json.Marshal(docData)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrCodeInternal, err)
		}
		docJSON = sql.NullString{String: string(raw), Valid: true}
	}
	if embedding != nil {
		raw, err := json.Marshal(embedding)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrCodeInternal, err)
		}
		embJSON = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO documents (id, text, document_data, embedding, created_at)
         VALUES (?, ?, ?, ?, ?)`,
		id, text, docJSON, embJSON, time.Now().UTC())
	if err != nil {
		return apperrors.New(apperrors.ErrCodeStoreError, "sqlite upsert failed", err)
	}
	return nil
}

// StoreDocument upserts a whole document.
func (s *SQLiteTextStore) StoreDocument(ctx context.Context, doc models.Document) error {
	d := doc
	return s.upsert(ctx, doc.ID, doc.Text, &d, nil)
}

// StoreDocumentChunk upserts one chunk row.
func (s *SQLiteTextStore) StoreDocumentChunk(ctx context.Context, chunk models.DocumentChunk) error {
	d := chunk.Document
	return s.upsert(ctx, chunk.ID, chunk.Text, &d, chunk.Embedding)
}

// RetrieveDocument returns the stored record, nil when absent.
func (s *SQLiteTextStore) RetrieveDocument(ctx context.Context, id string) (*StoredDocument, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, text, document_data, embedding, created_at FROM documents WHERE id = ?`, id)
	return scanStoredDocument(row)
}

// RetrieveDocuments returns records for the ids, skipping missing ones.
func (s *SQLiteTextStore) RetrieveDocuments(ctx context.Context, ids []string) ([]*StoredDocument, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, document_data, embedding, created_at FROM documents
         WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreError, "sqlite query failed", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]*StoredDocument)
	for rows.Next() {
		doc, err := scanStoredDocumentRows(rows)
		if err != nil {
			return nil, err
		}
		byID[doc.ID] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}

	// Preserve request order.
	out := make([]*StoredDocument, 0, len(ids))
	for _, id := range ids {
		if doc, ok := byID[id]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

// DeleteDocument removes one row.
func (s *SQLiteTextStore) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return apperrors.New(apperrors.ErrCodeStoreError, "sqlite delete failed", err)
	}
	return nil
}

// GetDocumentCount returns the row count.
func (s *SQLiteTextStore) GetDocumentCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return 0, apperrors.New(apperrors.ErrCodeStoreError, "sqlite count failed", err)
	}
	return count, nil
}

// ClearAll removes every row.
func (s *SQLiteTextStore) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return apperrors.New(apperrors.ErrCodeStoreError, "sqlite clear failed", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteTextStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStoredDocument(row *sql.Row) (*StoredDocument, error) {
	doc, err := scanStoredDocumentRows(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return doc, nil
}

func scanStoredDocumentRows(row rowScanner) (*StoredDocument, error) {
	var doc StoredDocument
	var docJSON, embJSON sql.NullString
	var createdAt sql.NullTime
	if err := row.Scan(&doc.ID, &doc.Text, &docJSON, &embJSON, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, apperrors.New(apperrors.ErrCodeStoreError, "sqlite scan failed", err)
	}
	if docJSON.Valid {
		var d models.Document
		if err := json.Unmarshal([]byte(docJSON.String), &d); err == nil {
			doc.Document = &d
		}
	}
	if embJSON.Valid {
		_ = json.Unmarshal([]byte(embJSON.String), &doc.Embedding)
	}
	if createdAt.Valid {
		doc.CreatedAt = createdAt.Time
	}
	return &doc, nil
}
