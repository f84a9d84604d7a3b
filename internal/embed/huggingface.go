package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/patteg21/pigeon-evals/internal/config"
	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
)

// DefaultHFEndpoint is the default local text-embeddings-inference server.
const DefaultHFEndpoint = "http://localhost:8080"

// HFEmbedder talks to a local text-embeddings-inference server hosting a
// sentence-transformers model. The server owns device selection and
// batching; this adapter only chunks requests and decodes responses.
type HFEmbedder struct {
	endpoint  string
	cfg       *config.EmbeddingConfig
	client    *http.Client
	logger    *slog.Logger
	dims      int
	normalize bool
}

var _ Embedder = (*HFEmbedder)(nil)

// NewHFEmbedder creates the local adapter.
func NewHFEmbedder(cfg *config.EmbeddingConfig, logger *slog.Logger) *HFEmbedder {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultHFEndpoint
	}
	return &HFEmbedder{
		endpoint:  strings.TrimRight(endpoint, "/"),
		cfg:       cfg,
		client:    &http.Client{Timeout: DefaultTimeout},
		logger:    logger,
		normalize: cfg.Normalize == nil || *cfg.Normalize,
	}
}

type hfEmbedRequest struct {
	Inputs    []string `json:"inputs"`
	Normalize bool     `json:"normalize"`
	Truncate  bool     `json:"truncate"`
}

// Embed embeds a single text.
func (e *HFEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in fixed-size server requests.
func (e *HFEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize() {
		end := start + e.batchSize()
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.request(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, vecs...)
	}

	if len(results) != len(texts) {
		return nil, apperrors.Newf(apperrors.ErrCodeProviderUnavailable,
			"embedding server returned %d vectors for %d inputs", len(results), len(texts))
	}
	if e.dims == 0 {
		e.dims = len(results[0])
	}
	return results, nil
}

func (e *HFEmbedder) request(ctx context.Context, inputs []string) ([][]float32, error) {
	body, err := json.Marshal(hfEmbedRequest{
		Inputs:    inputs,
		Normalize: e.normalize,
		Truncate:  true,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.endpoint+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeProviderUnavailable,
			"embedding server unreachable: "+e.endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperrors.Newf(apperrors.ErrCodeRateLimited,
			"embedding server rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, apperrors.New(apperrors.ErrCodeProviderUnavailable,
			fmt.Sprintf("embedding server returned %d: %s", resp.StatusCode, payload), nil)
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeProviderUnavailable,
			"cannot decode embedding response", err)
	}
	return vectors, nil
}

// Dimensions returns the embedding dimension, 0 if not yet known.
func (e *HFEmbedder) Dimensions() int { return e.dims }

// ModelName returns the model identifier.
func (e *HFEmbedder) ModelName() string { return e.cfg.Model }

// Available checks the server health endpoint.
func (e *HFEmbedder) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases resources.
func (e *HFEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

func (e *HFEmbedder) batchSize() int {
	if e.cfg.BatchSize > 0 {
		return e.cfg.BatchSize
	}
	return DefaultBatchSize
}
