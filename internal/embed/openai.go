package embed

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/patteg21/pigeon-evals/internal/config"
	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
)

// modelDimensions maps known OpenAI embedding models to their output size.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// defaultRequestsPerSecond paces API calls below typical account limits.
const defaultRequestsPerSecond = 10

// OpenAIEmbedder embeds text through the OpenAI embeddings API (or any
// OpenAI-compatible endpoint via EmbeddingConfig.Endpoint).
//
// Oversize inputs are handled internally: text over the model context is
// token-windowed, each window embedded, and the window vectors pooled by
// the configured strategy. Callers never see TokenLimit errors.
type OpenAIEmbedder struct {
	client    *openai.Client
	cfg       *config.EmbeddingConfig
	modelMax  int
	limiter   *rate.Limiter
	logger    *slog.Logger
	dims      int
	normalize bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates the remote adapter. The API key comes from
// OPENAI_API_KEY unless the config carries an endpoint that needs none.
func NewOpenAIEmbedder(cfg *config.EmbeddingConfig, logger *slog.Logger) (*OpenAIEmbedder, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" && cfg.Endpoint == "" {
		return nil, apperrors.New(apperrors.ErrCodeProviderUnavailable,
			"OPENAI_API_KEY is not set", nil)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}

	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(clientCfg),
		cfg:       cfg,
		modelMax:  config.ModelMaxTokens(cfg.Model),
		limiter:   rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), 1),
		logger:    logger,
		dims:      modelDimensions[cfg.Model],
		normalize: cfg.Normalize == nil || *cfg.Normalize,
	}, nil
}

// Embed embeds one text, running the oversize protocol when the text
// exceeds the model context.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if CountTokens(text) <= e.modelMax {
		vecs, err := e.apiEmbed(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		vec := vecs[0]
		if e.normalize {
			vec = normalizeVector(vec)
		}
		return vec, nil
	}
	return e.embedOversize(ctx, text)
}

// EmbedBatch embeds texts index-aligned with the input. Oversize texts are
// pooled individually; the rest go through batched API calls.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var smallIdx []int
	var smallTexts []string
	for i, text := range texts {
		if CountTokens(text) <= e.modelMax {
			smallIdx = append(smallIdx, i)
			smallTexts = append(smallTexts, text)
			continue
		}
		vec, err := e.embedOversize(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}

	for start := 0; start < len(smallTexts); start += e.batchSize() {
		end := start + e.batchSize()
		if end > len(smallTexts) {
			end = len(smallTexts)
		}
		vecs, err := e.apiEmbed(ctx, smallTexts[start:end])
		if err != nil {
			return nil, err
		}
		for j, vec := range vecs {
			if e.normalize {
				vec = normalizeVector(vec)
			}
			results[smallIdx[start+j]] = vec
		}
	}
	return results, nil
}

// embedOversize token-windows the text, embeds every window, and pools the
// window vectors into a single output.
func (e *OpenAIEmbedder) embedOversize(ctx context.Context, text string) ([]float32, error) {
	windows, counts := tokenWindows(text, e.cfg.ChunkMaxTokens, e.cfg.OverlapTokens)
	e.logger.Debug("oversize text windowed",
		"windows", len(windows), "chunk_max_tokens", e.cfg.ChunkMaxTokens)

	vectors := make([][]float32, 0, len(windows))
	for start := 0; start < len(windows); start += e.batchSize() {
		end := start + e.batchSize()
		if end > len(windows) {
			end = len(windows)
		}
		vecs, err := e.apiEmbed(ctx, windows[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vecs...)
	}

	if e.normalize {
		for i, v := range vectors {
			vectors[i] = normalizeVector(v)
		}
	}

	weights := make([]float64, len(counts))
	for i, c := range counts {
		weights[i] = float64(c)
	}
	pooled, err := Pool(e.cfg.PoolingStrategy, vectors, weights)
	if err != nil {
		return nil, err
	}
	if e.normalize {
		pooled = normalizeVector(pooled)
	}
	return pooled, nil
}

// apiEmbed performs one embeddings request with pacing and rate-limit
// retry. Retries use exponential backoff with jitter; exhaustion escalates
// to ProviderUnavailable.
func (e *OpenAIEmbedder) apiEmbed(ctx context.Context, inputs []string) ([][]float32, error) {
	var out [][]float32

	operation := func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(e.cfg.Model),
			Input: inputs,
		})
		if err != nil {
			if isRetryableAPIError(err) {
				e.logger.Warn("embedding request retried", "error", err)
				return err
			}
			return backoff.Permanent(err)
		}
		out = make([][]float32, len(resp.Data))
		for i, d := range resp.Data {
			out[i] = d.Embedding
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(), DefaultMaxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeProviderUnavailable,
			"embedding request failed after retries", err)
	}

	if len(out) != len(inputs) {
		return nil, apperrors.Newf(apperrors.ErrCodeProviderUnavailable,
			"embedding response count %d does not match input count %d", len(out), len(inputs))
	}
	if e.dims == 0 && len(out) > 0 {
		e.dims = len(out[0])
	}
	return out, nil
}

// isRetryableAPIError reports whether an error is transient: rate limits,
// server errors, and network failures.
func isRetryableAPIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Dimensions returns the embedding dimension, 0 if not yet known.
func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string { return e.cfg.Model }

// Available reports whether the API answers a minimal request.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	_, err := e.apiEmbed(ctx, []string{"ping"})
	return err == nil
}

// Close releases resources. The HTTP client needs no teardown.
func (e *OpenAIEmbedder) Close() error { return nil }

func (e *OpenAIEmbedder) batchSize() int {
	if e.cfg.BatchSize > 0 {
		return e.cfg.BatchSize
	}
	return DefaultBatchSize
}
