// Package eval runs the configured test suite against the retrieval
// service and writes per-test artifacts plus the run-level config report.
package eval

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/patteg21/pigeon-evals/internal/config"
	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
	"github.com/patteg21/pigeon-evals/internal/retrieval"
)

// Driver dispatches test cases by kind and persists their results under
// output/<run_id>/.
type Driver struct {
	retriever *retrieval.Service
	judge     Judge
	agents    *AgentRunner
	cfg       *config.Config
	logger    *slog.Logger
}

// NewDriver wires the evaluation stage.
func NewDriver(retriever *retrieval.Service, cfg *config.Config, logger *slog.Logger) (*Driver, error) {
	judge, err := NewJudge(cfg)
	if err != nil {
		return nil, err
	}
	var llm *config.LLMConfig
	if cfg.Eval != nil {
		llm = cfg.Eval.LLM
	}
	return &Driver{
		retriever: retriever,
		judge:     judge,
		agents:    NewAgentRunner(llm, logger),
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// humanResult is the artifact of a human test.
type humanResult struct {
	Query   string              `json:"query"`
	Search  *retrieval.Response `json:"search"`
	Metrics map[string]float64  `json:"metrics,omitempty"`
}

// llmResult is the artifact of an LLM judge test.
type llmResult struct {
	Query       string              `json:"query"`
	JudgeOutput string              `json:"judge_output"`
	Search      *retrieval.Response `json:"search"`
	Metrics     map[string]float64  `json:"metrics,omitempty"`
}

// agentResult is the artifact of an agent test.
type agentResult struct {
	Query string `json:"query"`
	*AgentResult
}

// Run executes every test and finishes with the config report pair. A
// failing test aborts the stage; per-test soft failures are folded into the
// written artifact instead.
func (d *Driver) Run(ctx context.Context) error {
	tests, err := d.collectTests()
	if err != nil {
		return err
	}

	outDir := d.cfg.OutputDir()
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}

	for _, test := range tests {
		if err := ctx.Err(); err != nil {
			return apperrors.New(apperrors.ErrCodeCancelled, "evaluation cancelled", err)
		}
		if err := d.runOne(ctx, test, outDir); err != nil {
			return err
		}
		d.logger.Info("test completed", "name", test.Name(), "kind", test.Kind())
	}

	return d.cfg.WriteReports(outDir)
}

// collectTests loads file-based tests first, then appends inline ones.
func (d *Driver) collectTests() ([]config.TestCase, error) {
	if d.cfg.Eval == nil || d.cfg.Eval.Test == nil {
		return nil, nil
	}
	tc := d.cfg.Eval.Test

	var tests []config.TestCase
	if tc.LoadTest != "" {
		loaded, err := LoadTests(tc.LoadTest)
		if err != nil {
			return nil, err
		}
		tests = append(tests, loaded...)
	}
	tests = append(tests, tc.Tests...)
	return tests, nil
}

func (d *Driver) runOne(ctx context.Context, test config.TestCase, outDir string) error {
	switch test.Kind() {
	case config.TestKindHuman:
		return d.runHuman(ctx, test, outDir)
	case config.TestKindLLM:
		return d.runLLM(ctx, test, outDir)
	case config.TestKindAgent:
		return d.runAgent(ctx, test.Agent, outDir)
	default:
		return apperrors.Newf(apperrors.ErrCodeInvalidInput, "test %q has no kind", test.Name())
	}
}

func (d *Driver) runHuman(ctx context.Context, test config.TestCase, outDir string) error {
	resp, err := d.retriever.Retrieve(ctx, test.Query(), nil)
	if err != nil {
		return apperrors.WithStage(err, "eval")
	}
	return d.writeResult(outDir, test.Name(), humanResult{
		Query:   test.Query(),
		Search:  resp,
		Metrics: d.metricsFor(resp, test.RelevantIDs()),
	})
}

func (d *Driver) runLLM(ctx context.Context, test config.TestCase, outDir string) error {
	lt := test.LLM
	resp, err := d.retriever.Retrieve(ctx, lt.Query, nil)
	if err != nil {
		return apperrors.WithStage(err, "eval")
	}

	if d.judge == nil {
		return apperrors.Newf(apperrors.ErrCodeConfigInvalid,
			"test %q is an llm test but eval.llm is not configured", lt.Name)
	}

	var judgeOutput string
	if lt.EvalType == "pairwise" {
		paired, err := d.pairedContexts(ctx, lt)
		if err != nil {
			return err
		}
		judgeOutput, err = d.judge.JudgePairwise(ctx, lt.Prompt, lt.Query, contextTexts(resp), paired)
		if err != nil {
			return apperrors.WithStage(err, "eval")
		}
	} else {
		judgeOutput, err = d.judge.JudgeSingle(ctx, lt.Prompt, lt.Query, contextTexts(resp))
		if err != nil {
			return apperrors.WithStage(err, "eval")
		}
	}

	return d.writeResult(outDir, lt.Name, llmResult{
		Query:       lt.Query,
		JudgeOutput: judgeOutput,
		Search:      resp,
		Metrics:     d.metricsFor(resp, lt.RelevantIDs),
	})
}

// pairedContexts retrieves the second result set for a pairwise judgment.
// The paired test is named by pair_with and supplies only its query.
func (d *Driver) pairedContexts(ctx context.Context, lt *config.LLMTest) ([]string, error) {
	if lt.PairWith == "" {
		return nil, apperrors.Newf(apperrors.ErrCodeConfigInvalid,
			"pairwise test %q has no pair_with", lt.Name)
	}
	tests, err := d.collectTests()
	if err != nil {
		return nil, err
	}
	for _, candidate := range tests {
		if candidate.Name() != lt.PairWith {
			continue
		}
		resp, err := d.retriever.Retrieve(ctx, candidate.Query(), nil)
		if err != nil {
			return nil, apperrors.WithStage(err, "eval")
		}
		return contextTexts(resp), nil
	}
	return nil, apperrors.Newf(apperrors.ErrCodeConfigInvalid,
		"pairwise test %q names unknown test %q", lt.Name, lt.PairWith)
}

func (d *Driver) runAgent(ctx context.Context, test *config.AgentTest, outDir string) error {
	var result *AgentResult
	if d.cfg.DryRun {
		result = MockAgentResult(test)
	} else {
		result = d.agents.Run(ctx, test)
	}
	query := test.Prompt
	if query == "" {
		query = test.Query
	}
	return d.writeResult(outDir, test.Name, agentResult{Query: query, AgentResult: result})
}

// metricsFor computes configured metrics when ground truth exists.
func (d *Driver) metricsFor(resp *retrieval.Response, relevant []string) map[string]float64 {
	if !d.cfg.Eval.Evaluations || len(relevant) == 0 {
		return nil
	}
	retrieved := make([]string, len(resp.Matches))
	for i, m := range resp.Matches {
		retrieved[i] = m.ID
	}
	return ComputeMetrics(retrieved, relevant, d.cfg.Eval.TopK, d.cfg.Eval.Metrics)
}

func (d *Driver) writeResult(outDir, name string, result any) error {
	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternal, err)
	}
	path := filepath.Join(outDir, name+".json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	d.logger.Debug("test artifact written", "path", path)
	return nil
}

func contextTexts(resp *retrieval.Response) []string {
	texts := make([]string, len(resp.Matches))
	for i, m := range resp.Matches {
		texts[i] = m.Metadata.Text
	}
	return texts
}
