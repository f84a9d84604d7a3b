// Package retrieval answers queries against the ingested corpus: embed the
// query, search the vector index, hydrate text, and optionally rerank.
package retrieval

import (
	"context"
	"log/slog"

	"github.com/patteg21/pigeon-evals/internal/config"
	"github.com/patteg21/pigeon-evals/internal/embed"
	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
	"github.com/patteg21/pigeon-evals/internal/models"
	"github.com/patteg21/pigeon-evals/internal/reduce"
	"github.com/patteg21/pigeon-evals/internal/store"
)

// MatchMetadata carries the hydrated payload of one match.
type MatchMetadata struct {
	Text        string          `json:"text"`
	ChunkID     string          `json:"chunk_id"`
	TypeChunk   string          `json:"type_chunk,omitempty"`
	Document    models.Document `json:"document"`
	RerankScore *float32        `json:"rerank_score,omitempty"`
}

// Match is one retrieval result.
type Match struct {
	ID       string        `json:"id"`
	Score    float32       `json:"score"`
	Metadata MatchMetadata `json:"metadata"`
}

// Response is the hydrated retrieval result set.
type Response struct {
	Query   string  `json:"query"`
	Matches []Match `json:"matches"`
}

// Service runs the query path. The reducer must be the same artifact the
// ingest path fitted, otherwise query vectors land in a different space
// than the stored ones.
type Service struct {
	embedder embed.Embedder
	reducer  reduce.Reducer
	vectors  store.VectorStore
	texts    store.TextStore
	reranker Reranker
	cfg      *config.Config
	logger   *slog.Logger
}

// NewService wires the query path.
func NewService(embedder embed.Embedder, reducer reduce.Reducer, vectors store.VectorStore, texts store.TextStore, reranker Reranker, cfg *config.Config, logger *slog.Logger) *Service {
	return &Service{
		embedder: embedder,
		reducer:  reducer,
		vectors:  vectors,
		texts:    texts,
		reranker: reranker,
		cfg:      cfg,
		logger:   logger,
	}
}

// TopK returns the configured result count.
func (s *Service) TopK() int {
	if s.cfg.Eval != nil && s.cfg.Eval.TopK > 0 {
		return s.cfg.Eval.TopK
	}
	return 10
}

// Retrieve answers one query with hydrated, optionally reranked matches.
func (s *Service) Retrieve(ctx context.Context, query string, filter map[string]string) (*Response, error) {
	vec, err := s.queryVector(ctx, query)
	if err != nil {
		return nil, err
	}

	results, err := s.vectors.Query(ctx, vec, s.TopK(), true, filter)
	if err != nil {
		return nil, err
	}

	matches := s.hydrate(ctx, results)
	if s.reranker != nil {
		matches, err = s.rerank(ctx, query, matches)
		if err != nil {
			return nil, err
		}
	}
	return &Response{Query: query, Matches: matches}, nil
}

// queryVector embeds the query and applies the ingest-time reducer.
func (s *Service) queryVector(ctx context.Context, query string) ([]float32, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if s.reducer == nil {
		return vec, nil
	}
	if err := s.ensureReducer(); err != nil {
		return nil, err
	}
	return s.reducer.TransformOne(vec)
}

// ensureReducer loads the persisted artifact when retrieval runs without a
// prior ingest in this process.
func (s *Service) ensureReducer() error {
	if s.reducer.Fitted() {
		return nil
	}
	dr := s.cfg.Embedding.DimensionReduction
	if dr == nil || dr.Path == "" {
		return apperrors.Newf(apperrors.ErrCodeArtifactNotFound,
			"reducer configured but no artifact path is set")
	}
	if err := s.reducer.Load(dr.Path); err != nil {
		return err
	}
	s.logger.Info("reducer artifact loaded", "path", dr.Path, "target_dim", s.reducer.TargetDim())
	return nil
}

// hydrate replaces match text with the authoritative text-store copy.
// Missing rows leave text empty and log a warning; hydration never aborts
// the query.
func (s *Service) hydrate(ctx context.Context, results []store.VectorMatch) []Match {
	matches := make([]Match, 0, len(results))
	for _, res := range results {
		m := Match{ID: res.ID, Score: res.Score}
		if res.Metadata != nil {
			m.Metadata = MatchMetadata{
				ChunkID:   res.Metadata.ChunkID,
				TypeChunk: res.Metadata.TypeChunk,
				Document:  res.Metadata.Document,
			}
		} else {
			m.Metadata = MatchMetadata{ChunkID: res.ID}
		}

		if s.texts != nil {
			row, err := s.texts.RetrieveDocument(ctx, res.ID)
			switch {
			case err != nil:
				s.logger.Warn("hydration failed", "chunk_id", res.ID, "error", err)
			case row == nil:
				s.logger.Warn("hydration miss, no text stored", "chunk_id", res.ID)
			default:
				m.Metadata.Text = row.Text
			}
		} else if res.Metadata != nil {
			m.Metadata.Text = res.Metadata.Text
		}
		matches = append(matches, m)
	}
	return matches
}

// rerank rescores the candidates and reorders by rerank score, keeping the
// similarity score intact. top_k may shrink the set.
func (s *Service) rerank(ctx context.Context, query string, matches []Match) ([]Match, error) {
	if len(matches) == 0 {
		return matches, nil
	}
	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Metadata.Text
	}

	scores, err := s.reranker.Rerank(ctx, query, texts)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(matches) {
		return nil, apperrors.Newf(apperrors.ErrCodeProviderUnavailable,
			"reranker returned %d scores for %d candidates", len(scores), len(matches))
	}

	order := make([]int, len(matches))
	for i := range order {
		order[i] = i
	}
	sortByScore(order, scores)

	out := make([]Match, 0, len(matches))
	for _, idx := range order {
		m := matches[idx]
		score := scores[idx]
		m.Metadata.RerankScore = &score
		out = append(out, m)
	}

	if rc := s.cfg.Eval.Rerank; rc != nil && rc.TopK > 0 && len(out) > rc.TopK {
		out = out[:rc.TopK]
	}
	return out, nil
}
