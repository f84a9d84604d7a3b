package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/patteg21/pigeon-evals/internal/config"
	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
)

// Reranker rescores retrieval candidates against the query with a
// cross-encoder. Scores come back aligned with the input texts.
type Reranker interface {
	Rerank(ctx context.Context, query string, texts []string) ([]float32, error)
}

// defaultRerankTimeout bounds a single rerank request.
const defaultRerankTimeout = 30 * time.Second

// HTTPReranker calls a TEI-style /rerank endpoint.
type HTTPReranker struct {
	endpoint string
	model    string
	client   *http.Client
	logger   *slog.Logger
}

var _ Reranker = (*HTTPReranker)(nil)

// NewHTTPReranker builds a reranker against the configured endpoint.
func NewHTTPReranker(cfg *config.RerankConfig, logger *slog.Logger) *HTTPReranker {
	return &HTTPReranker{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		client:   &http.Client{Timeout: defaultRerankTimeout},
		logger:   logger,
	}
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// Rerank posts (query, texts) and maps the indexed scores back to input
// order.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, texts []string) ([]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts, Model: r.model})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeProviderUnavailable, "reranker unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperrors.Newf(apperrors.ErrCodeRateLimited, "reranker rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperrors.Newf(apperrors.ErrCodeProviderUnavailable,
			"reranker returned %d: %s", resp.StatusCode, string(raw))
	}

	var results []rerankResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeProviderUnavailable, "reranker response malformed", err)
	}

	scores := make([]float32, len(texts))
	for _, res := range results {
		if res.Index < 0 || res.Index >= len(texts) {
			return nil, apperrors.Newf(apperrors.ErrCodeProviderUnavailable,
				"reranker returned out-of-range index %d", res.Index)
		}
		scores[res.Index] = res.Score
	}
	return scores, nil
}

// MockReranker scores by token overlap with the query. Deterministic, used
// in dry runs.
type MockReranker struct{}

var _ Reranker = (*MockReranker)(nil)

// Rerank returns overlap-based scores in [0, 1].
func (MockReranker) Rerank(ctx context.Context, query string, texts []string) ([]float32, error) {
	queryTokens := tokenSet(query)
	scores := make([]float32, len(texts))
	for i, text := range texts {
		if len(queryTokens) == 0 {
			continue
		}
		overlap := 0
		for token := range tokenSet(text) {
			if _, ok := queryTokens[token]; ok {
				overlap++
			}
		}
		scores[i] = float32(overlap) / float32(len(queryTokens))
	}
	return scores, nil
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = struct{}{}
	}
	return set
}

// NewReranker builds the configured reranker, nil when reranking is off.
func NewReranker(cfg *config.Config, logger *slog.Logger) (Reranker, error) {
	if cfg.Eval == nil || cfg.Eval.Rerank == nil {
		return nil, nil
	}
	if cfg.DryRun {
		return MockReranker{}, nil
	}
	rc := cfg.Eval.Rerank
	switch rc.Provider {
	case "huggingface", "tei", "":
		if rc.Endpoint == "" {
			return nil, apperrors.Newf(apperrors.ErrCodeConfigInvalid,
				"eval.rerank.endpoint is required for provider %q", rc.Provider)
		}
		return NewHTTPReranker(rc, logger), nil
	default:
		return nil, apperrors.Newf(apperrors.ErrCodeConfigInvalid,
			"unknown rerank provider %q", rc.Provider)
	}
}

// sortByScore reorders idx slices by descending score with index tie-break.
func sortByScore(order []int, scores []float32) {
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if scores[a] != scores[b] {
			return scores[a] > scores[b]
		}
		return a < b
	})
}
