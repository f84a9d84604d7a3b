package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
	"github.com/patteg21/pigeon-evals/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    text TEXT NOT NULL,
    document_data TEXT,
    embedding TEXT,
    created_at TIMESTAMP
)`

// PostgresTextStore persists chunk text in PostgreSQL. Same table shape as
// the SQLite store so the two are interchangeable per config.
type PostgresTextStore struct {
	db *sql.DB
}

var _ TextStore = (*PostgresTextStore)(nil)

// NewPostgresTextStore connects with the given DSN and ensures the table.
func NewPostgresTextStore(ctx context.Context, dsn string) (*PostgresTextStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreError, "postgres open failed", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, apperrors.New(apperrors.ErrCodeStoreError, "postgres unreachable", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, apperrors.New(apperrors.ErrCodeStoreError, "postgres schema setup failed", err)
	}
	return &PostgresTextStore{db: db}, nil
}

func (s *PostgresTextStore) upsert(ctx context.Context, id, text string, docData *models.Document, embedding []float32) error {
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
		`INSERT INTO documents (id, text, document_data, embedding, created_at)
         VALUES ($1, $2, $3, $4, $5)
         ON CONFLICT (id) DO UPDATE SET
             text = EXCLUDED.text,
             document_data = EXCLUDED.document_data,
             embedding = EXCLUDED.embedding,
             created_at = EXCLUDED.created_at`,
		id, text, docJSON, embJSON, time.Now().UTC())
	if err != nil {
		return apperrors.New(apperrors.ErrCodeStoreError, "postgres upsert failed", err)
	}
	return nil
}

// StoreDocument upserts a whole document.
func (s *PostgresTextStore) StoreDocument(ctx context.Context, doc models.Document) error {
	d := doc
	return s.upsert(ctx, doc.ID, doc.Text, &d, nil)
}

// StoreDocumentChunk upserts one chunk row.
func (s *PostgresTextStore) StoreDocumentChunk(ctx context.Context, chunk models.DocumentChunk) error {
	d := chunk.Document
	return s.upsert(ctx, chunk.ID, chunk.Text, &d, chunk.Embedding)
}

// RetrieveDocument returns the stored record, nil when absent.
func (s *PostgresTextStore) RetrieveDocument(ctx context.Context, id string) (*StoredDocument, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, text, document_data, embedding, created_at FROM documents WHERE id = $1`, id)
	return scanStoredDocument(row)
}

// RetrieveDocuments returns records for the ids, skipping missing ones.
func (s *PostgresTextStore) RetrieveDocuments(ctx context.Context, ids []string) ([]*StoredDocument, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, document_data, embedding, created_at FROM documents
         WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreError, "postgres query failed", err)
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

	out := make([]*StoredDocument, 0, len(ids))
	for _, id := range ids {
		if doc, ok := byID[id]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

// DeleteDocument removes one row.
func (s *PostgresTextStore) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return apperrors.New(apperrors.ErrCodeStoreError, "postgres delete failed", err)
	}
	return nil
}

// GetDocumentCount returns the row count.
func (s *PostgresTextStore) GetDocumentCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return 0, apperrors.New(apperrors.ErrCodeStoreError, "postgres count failed", err)
	}
	return count, nil
}

// ClearAll removes every row.
func (s *PostgresTextStore) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return apperrors.New(apperrors.ErrCodeStoreError, "postgres clear failed", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresTextStore) Close() error { return s.db.Close() }
