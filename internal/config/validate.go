package config

import (
	"fmt"
	"os"

	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
)

// modelMaxTokens maps known embedding models to their context limits.
// Unknown models fall back to DefaultModelMaxTokens.
var modelMaxTokens = map[string]int{
	"text-embedding-3-small":   8191,
	"text-embedding-3-large":   8191,
	"text-embedding-ada-002":   8191,
	"all-MiniLM-L6-v2":         256,
	"all-mpnet-base-v2":        384,
	"bge-base-en-v1.5":         512,
	"nomic-embed-text-v1.5":    8192,
	"gte-large":                512,
	"e5-large-v2":              512,
	"multilingual-e5-large":    512,
	"snowflake-arctic-embed-m": 512,
}

// DefaultModelMaxTokens is the limit assumed for unknown models.
const DefaultModelMaxTokens = 8191

// ModelMaxTokens returns the context limit for a model.
func ModelMaxTokens(model string) int {
	if limit, ok := modelMaxTokens[model]; ok {
		return limit
	}
	return DefaultModelMaxTokens
}

var (
	validStrategies = map[string]bool{
		"character": true, "word": true, "sentence": true,
		"paragraph": true, "separator": true, "regex": true,
	}
	validPooling = map[string]bool{
		"mean": true, "max": true, "weighted": true, "smooth_decay": true,
	}
	validEmbedProviders = map[string]bool{"openai": true, "huggingface": true}
	validReducerTypes   = map[string]bool{"pca": true, "umap": true, "t-sne": true}
	validTextClients    = map[string]bool{
		"sqlite": true, "postgres": true, "s3": true, "file": true, "memory": true,
	}
	validMetrics = map[string]bool{
		"precision": true, "recall": true, "hit-rate": true, "mrr": true, "ndcg": true,
	}
)

// Validate checks the config semantically. It runs once at load, before any
// I/O, and returns a ConfigInvalid error on the first violation.
func (c *Config) Validate() error {
	if c.Dataset != nil {
		if err := c.validateDataset(); err != nil {
			return err
		}
	}
	if c.Parser != nil {
		if err := c.validateParser(); err != nil {
			return err
		}
	}
	if c.Embedding != nil {
		if err := c.validateEmbedding(); err != nil {
			return err
		}
	}
	if c.Storage != nil {
		if err := c.validateStorage(); err != nil {
			return err
		}
	}
	if c.Eval != nil {
		if err := c.validateEval(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateDataset() error {
	d := c.Dataset
	switch d.Provider {
	case "local":
		if d.Path == "" {
			return invalid("dataset.path is required for the local provider")
		}
		if !c.DryRun {
			if _, err := os.Stat(d.Path); err != nil {
				return invalid(fmt.Sprintf("dataset.path does not exist: %s", d.Path))
			}
		}
	case "s3":
		if d.Bucket == "" {
			return invalid("dataset.bucket is required for the s3 provider")
		}
	default:
		return invalid(fmt.Sprintf("unknown dataset provider: %q", d.Provider))
	}
	return nil
}

func (c *Config) validateParser() error {
	if len(c.Parser.Processes) == 0 {
		return invalid("parser.processes must not be empty")
	}
	for pi, proc := range c.Parser.Processes {
		if len(proc.Steps) == 0 {
			return invalid(fmt.Sprintf("parser.processes[%d].steps must not be empty", pi))
		}
		for si, step := range proc.Steps {
			at := fmt.Sprintf("parser.processes[%d].steps[%d]", pi, si)
			if !validStrategies[step.Strategy] {
				return invalid(fmt.Sprintf("%s: unknown strategy %q", at, step.Strategy))
			}
			if step.ChunkSize != nil {
				if *step.ChunkSize <= 0 {
					return invalid(fmt.Sprintf("%s: chunk_size must be positive", at))
				}
				// No default overlap is injected: the caller chooses.
				if step.ChunkOverlap == nil {
					return invalid(fmt.Sprintf("%s: chunk_overlap is required when chunk_size is set", at))
				}
				if *step.ChunkOverlap < 0 || *step.ChunkOverlap >= *step.ChunkSize {
					return invalid(fmt.Sprintf("%s: chunk_overlap must be in [0, chunk_size)", at))
				}
			}
			if step.Strategy == "regex" && step.RegexPattern == "" {
				return invalid(fmt.Sprintf("%s: regex_pattern is required for the regex strategy", at))
			}
		}
	}
	return nil
}

func (c *Config) validateEmbedding() error {
	e := c.Embedding
	if !validEmbedProviders[e.Provider] {
		return invalid(fmt.Sprintf("unknown embedding provider: %q", e.Provider))
	}
	if e.Model == "" {
		return invalid("embedding.model is required")
	}
	if !validPooling[e.PoolingStrategy] {
		return invalid(fmt.Sprintf("unknown pooling_strategy: %q", e.PoolingStrategy))
	}
	if limit := ModelMaxTokens(e.Model); e.ChunkMaxTokens > limit {
		return invalid(fmt.Sprintf(
			"embedding.chunk_max_tokens (%d) exceeds the model context limit (%d) for %s",
			e.ChunkMaxTokens, limit, e.Model))
	}
	if e.OverlapTokens < 0 || e.OverlapTokens >= e.ChunkMaxTokens {
		return invalid("embedding.overlap_tokens must be in [0, chunk_max_tokens)")
	}
	if dr := e.DimensionReduction; dr != nil {
		if !validReducerTypes[dr.Type] {
			return invalid(fmt.Sprintf("unknown dimension_reduction.type: %q", dr.Type))
		}
		if dr.Dims <= 0 {
			return invalid("dimension_reduction.dims must be positive")
		}
	}
	return nil
}

func (c *Config) validateStorage() error {
	if ts := c.Storage.TextStore; ts != nil {
		if !validTextClients[ts.Client] {
			return invalid(fmt.Sprintf("unknown text_store client: %q", ts.Client))
		}
		switch ts.Client {
		case "postgres":
			if ts.DSN == "" {
				return invalid("text_store.dsn is required for the postgres client")
			}
		case "s3":
			if ts.Bucket == "" {
				return invalid("text_store.bucket is required for the s3 client")
			}
		case "file":
			if ts.Path == "" {
				return invalid("text_store.path is required for the file client")
			}
		}
	}
	if v := c.Storage.Vector; v != nil {
		if v.Dimension < 0 {
			return invalid("storage.vector.dimension must not be negative")
		}
	}
	return nil
}

func (c *Config) validateEval() error {
	e := c.Eval
	for _, m := range e.Metrics {
		if !validMetrics[m] {
			return invalid(fmt.Sprintf("unknown metric: %q", m))
		}
	}
	if e.Test != nil {
		for i, tc := range e.Test.Tests {
			if tc.Kind() == "" {
				return invalid(fmt.Sprintf("eval.test.tests[%d] has no recognized type", i))
			}
			if tc.Name() == "" {
				return invalid(fmt.Sprintf("eval.test.tests[%d] requires a name", i))
			}
			if tc.Kind() == TestKindAgent && tc.Agent.MCP.Type != "stdio" && tc.Agent.MCP.Type != "sse" {
				return invalid(fmt.Sprintf("eval.test.tests[%d]: mcp.type must be stdio or sse", i))
			}
		}
	}
	return nil
}

func invalid(msg string) error {
	return apperrors.New(apperrors.ErrCodeConfigInvalid, msg, nil)
}
