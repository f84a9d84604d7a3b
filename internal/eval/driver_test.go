package eval

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patteg21/pigeon-evals/internal/config"
	"github.com/patteg21/pigeon-evals/internal/embed"
	"github.com/patteg21/pigeon-evals/internal/logging"
	"github.com/patteg21/pigeon-evals/internal/models"
	"github.com/patteg21/pigeon-evals/internal/retrieval"
	"github.com/patteg21/pigeon-evals/internal/store"
)

// newDriverFixture ingests a tiny corpus and returns a dry-run driver whose
// output lands under dir.
func newDriverFixture(t *testing.T, dir string, tests []config.TestCase) (*Driver, *config.Config) {
	t.Helper()

	oldDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(oldDir) })

	embedder := embed.NewMockEmbedder(32, 42)
	vectors := store.NewMemoryVectorStore()
	texts := store.NewMemoryTextStore()

	ctx := context.Background()
	doc := models.Document{ID: "doc-1", Name: "10k.txt"}
	for id, text := range map[string]string{
		"chunk-revenue": "net revenue increased twelve percent",
		"chunk-risk":    "risk factors include supply chain disruption",
		"chunk-cash":    "cash flow from operations remained strong",
	} {
		vec, err := embedder.Embed(ctx, text)
		require.NoError(t, err)
		chunk := models.DocumentChunk{ID: id, Text: text, Document: doc, Embedding: vec}
		require.NoError(t, vectors.Upload(ctx, chunk))
		require.NoError(t, texts.StoreDocumentChunk(ctx, chunk))
	}

	cfg := &config.Config{
		RunID:  "run-eval-test",
		Task:   "eval",
		DryRun: true,
		Eval: &config.EvalConfig{
			TopK:        3,
			Evaluations: true,
			Metrics:     allMetrics,
			LLM:         &config.LLMConfig{Provider: "openai", Model: "gpt-4o-mini"},
			Test:        &config.TestConfig{Tests: tests},
		},
	}

	retriever := retrieval.NewService(embedder, nil, vectors, texts, nil, cfg, logging.Discard())
	driver, err := NewDriver(retriever, cfg, logging.Discard())
	require.NoError(t, err)
	return driver, cfg
}

func readResult(t *testing.T, cfg *config.Config, name string) map[string]any {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(cfg.OutputDir(), name+".json"))
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestDriver_HumanTestWritesSearchAndMetrics(t *testing.T) {
	driver, cfg := newDriverFixture(t, t.TempDir(), []config.TestCase{
		{Human: &config.HumanTest{
			Name:        "revenue-query",
			Query:       "net revenue increased twelve percent",
			RelevantIDs: []string{"chunk-revenue"},
		}},
	})

	require.NoError(t, driver.Run(context.Background()))

	result := readResult(t, cfg, "revenue-query")
	assert.Equal(t, "net revenue increased twelve percent", result["query"])

	search := result["search"].(map[string]any)
	matches := search["matches"].([]any)
	require.NotEmpty(t, matches)
	top := matches[0].(map[string]any)
	assert.Equal(t, "chunk-revenue", top["id"])

	metrics := result["metrics"].(map[string]any)
	assert.Equal(t, 1.0, metrics[MetricHitRate])
	assert.Equal(t, 1.0, metrics[MetricMRR])
}

func TestDriver_LLMTestUsesMockJudgeInDryRun(t *testing.T) {
	driver, cfg := newDriverFixture(t, t.TempDir(), []config.TestCase{
		{LLM: &config.LLMTest{
			Name:   "judge-risk",
			Query:  "risk factors include supply chain disruption",
			Prompt: "Grade the retrieved contexts for relevance.",
		}},
	})

	require.NoError(t, driver.Run(context.Background()))

	result := readResult(t, cfg, "judge-risk")
	assert.Contains(t, result["judge_output"], "mock judgment")
	assert.Contains(t, result, "search")
}

func TestDriver_PairwiseRetrievesPairedSet(t *testing.T) {
	driver, cfg := newDriverFixture(t, t.TempDir(), []config.TestCase{
		{Human: &config.HumanTest{Name: "baseline", Query: "cash flow from operations"}},
		{LLM: &config.LLMTest{
			Name:     "compare",
			Query:    "net revenue increased",
			Prompt:   "Which result set is better?",
			EvalType: "pairwise",
			PairWith: "baseline",
		}},
	})

	require.NoError(t, driver.Run(context.Background()))

	result := readResult(t, cfg, "compare")
	assert.Contains(t, result["judge_output"], "mock judgment")
}

func TestDriver_PairwiseUnknownPairFails(t *testing.T) {
	driver, _ := newDriverFixture(t, t.TempDir(), []config.TestCase{
		{LLM: &config.LLMTest{
			Name:     "compare",
			Query:    "q",
			Prompt:   "p",
			EvalType: "pairwise",
			PairWith: "no-such-test",
		}},
	})
	assert.Error(t, driver.Run(context.Background()))
}

func TestDriver_AgentTestMockedInDryRun(t *testing.T) {
	driver, cfg := newDriverFixture(t, t.TempDir(), []config.TestCase{
		{Agent: &config.AgentTest{
			Name:  "agent-probe",
			Query: "summarize the filing",
			MCP:   config.MCPServer{Type: "stdio", Command: "true"},
		}},
	})

	require.NoError(t, driver.Run(context.Background()))

	result := readResult(t, cfg, "agent-probe")
	assert.Equal(t, AgentStatusCompleted, result["status"])
	assert.Contains(t, result["final_message"], "summarize the filing")
}

func TestDriver_WritesConfigReports(t *testing.T) {
	driver, cfg := newDriverFixture(t, t.TempDir(), []config.TestCase{
		{Human: &config.HumanTest{Name: "only", Query: "anything"}},
	})

	require.NoError(t, driver.Run(context.Background()))

	assert.FileExists(t, filepath.Join(cfg.OutputDir(), "config.yaml"))
	assert.FileExists(t, filepath.Join(cfg.OutputDir(), "config.md"))
}

func TestDriver_FileTestsRunBeforeInline(t *testing.T) {
	dir := t.TempDir()
	testFile := filepath.Join(dir, "suite.json")
	require.NoError(t, os.WriteFile(testFile, []byte(
		`{"test_cases": [{"name": "from-file", "query": "risk factors"}]}`), 0o644))

	driver, cfg := newDriverFixture(t, dir, []config.TestCase{
		{Human: &config.HumanTest{Name: "inline", Query: "cash flow"}},
	})
	cfg.Eval.Test.LoadTest = testFile

	require.NoError(t, driver.Run(context.Background()))

	assert.FileExists(t, filepath.Join(cfg.OutputDir(), "from-file.json"))
	assert.FileExists(t, filepath.Join(cfg.OutputDir(), "inline.json"))
}

func TestDriver_NoTestsStillWritesReports(t *testing.T) {
	driver, cfg := newDriverFixture(t, t.TempDir(), nil)
	require.NoError(t, driver.Run(context.Background()))
	assert.FileExists(t, filepath.Join(cfg.OutputDir(), "config.yaml"))
}
