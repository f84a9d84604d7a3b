package eval

import (
	"context"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/patteg21/pigeon-evals/internal/config"
	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
)

// Judge grades retrieval result sets with a language model.
type Judge interface {
	// JudgeSingle grades one result set against the query.
	JudgeSingle(ctx context.Context, prompt, query string, contexts []string) (string, error)
	// JudgePairwise compares two result sets for the same query.
	JudgePairwise(ctx context.Context, prompt, query string, first, second []string) (string, error)
}

const defaultJudgeModel = "gpt-4o-mini"

// OpenAIJudge calls an OpenAI-compatible chat endpoint.
type OpenAIJudge struct {
	client *openai.Client
	model  string
}

var _ Judge = (*OpenAIJudge)(nil)

// NewOpenAIJudge builds the judge from config, falling back to the
// OPENAI_API_KEY environment variable.
func NewOpenAIJudge(cfg *config.LLMConfig) (*OpenAIJudge, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" && cfg.Endpoint == "" {
		return nil, apperrors.Newf(apperrors.ErrCodeProviderUnavailable,
			"OPENAI_API_KEY is not set and no endpoint is configured")
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}
	model := cfg.Model
	if model == "" {
		model = defaultJudgeModel
	}
	return &OpenAIJudge{client: openai.NewClientWithConfig(clientCfg), model: model}, nil
}

func (j *OpenAIJudge) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := j.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: j.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", apperrors.New(apperrors.ErrCodeProviderUnavailable, "judge call failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.Newf(apperrors.ErrCodeProviderUnavailable, "judge returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// JudgeSingle grades one result set.
func (j *OpenAIJudge) JudgeSingle(ctx context.Context, prompt, query string, contexts []string) (string, error) {
	return j.complete(ctx, prompt, singleUserMessage(query, contexts))
}

// JudgePairwise compares two result sets.
func (j *OpenAIJudge) JudgePairwise(ctx context.Context, prompt, query string, first, second []string) (string, error) {
	return j.complete(ctx, prompt, pairwiseUserMessage(query, first, second))
}

func singleUserMessage(query string, contexts []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nRetrieved contexts:\n", query)
	writeContexts(&b, contexts)
	return b.String()
}

func pairwiseUserMessage(query string, first, second []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nResult set A:\n", query)
	writeContexts(&b, first)
	b.WriteString("\nResult set B:\n")
	writeContexts(&b, second)
	return b.String()
}

func writeContexts(b *strings.Builder, contexts []string) {
	for i, text := range contexts {
		fmt.Fprintf(b, "[%d] %s\n", i+1, text)
	}
	if len(contexts) == 0 {
		b.WriteString("(none)\n")
	}
}

// MockJudge returns deterministic verdicts. Used in dry runs.
type MockJudge struct{}

var _ Judge = (*MockJudge)(nil)

// JudgeSingle reports the context count.
func (MockJudge) JudgeSingle(ctx context.Context, prompt, query string, contexts []string) (string, error) {
	return fmt.Sprintf("mock judgment: %d contexts retrieved for %q", len(contexts), query), nil
}

// JudgePairwise reports both counts.
func (MockJudge) JudgePairwise(ctx context.Context, prompt, query string, first, second []string) (string, error) {
	return fmt.Sprintf("mock judgment: A has %d contexts, B has %d contexts for %q",
		len(first), len(second), query), nil
}

// NewJudge builds the configured judge, nil when no LLM section is set.
func NewJudge(cfg *config.Config) (Judge, error) {
	if cfg.Eval == nil || cfg.Eval.LLM == nil {
		return nil, nil
	}
	if cfg.DryRun {
		return MockJudge{}, nil
	}
	lc := cfg.Eval.LLM
	switch lc.Provider {
	case "openai", "":
		return NewOpenAIJudge(lc)
	default:
		return nil, apperrors.Newf(apperrors.ErrCodeConfigInvalid,
			"unknown llm provider %q", lc.Provider)
	}
}
