package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
)

// WriteReports emits the run report pair under dir: config.yaml is a
// machine-readable echo of the full effective config, config.md is a human
// summary with the test list elided to a count.
func (c *Config) WriteReports(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.New(apperrors.ErrCodeStoreError,
			fmt.Sprintf("cannot create report directory: %s", dir), err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternal, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0o644); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}

	md := c.markdownSummary()
	if err := os.WriteFile(filepath.Join(dir, "config.md"), []byte(md), 0o644); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStoreError, err)
	}
	return nil
}

func (c *Config) markdownSummary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Run Report: %s\n\n", c.RunID)
	if c.Task != "" {
		fmt.Fprintf(&b, "**Task:** %s\n\n", c.Task)
	}
	fmt.Fprintf(&b, "Generated: %s\n\n", time.Now().UTC().Format(time.RFC3339))

	if c.Dataset != nil {
		b.WriteString("## Dataset\n\n")
		b.WriteString("| Setting | Value |\n|---|---|\n")
		fmt.Fprintf(&b, "| provider | %s |\n", c.Dataset.Provider)
		if c.Dataset.Path != "" {
			fmt.Fprintf(&b, "| path | %s |\n", c.Dataset.Path)
		}
		if c.Dataset.Bucket != "" {
			fmt.Fprintf(&b, "| bucket | %s |\n", c.Dataset.Bucket)
		}
		fmt.Fprintf(&b, "| allowed_types | %s |\n\n", strings.Join(c.Dataset.AllowedTypes, ", "))
	}

	if c.Parser != nil {
		b.WriteString("## Parser\n\n")
		for _, proc := range c.Parser.Processes {
			name := proc.Name
			if name == "" {
				name = "(unnamed)"
			}
			fmt.Fprintf(&b, "### Process: %s\n\n", name)
			b.WriteString("| Step | Strategy | Details |\n|---|---|---|\n")
			for i, step := range proc.Steps {
				fmt.Fprintf(&b, "| %d | %s | %s |\n", i+1, step.Strategy, stepDetails(step))
			}
			b.WriteString("\n")
		}
	}

	if c.Embedding != nil {
		e := c.Embedding
		b.WriteString("## Embedding\n\n")
		b.WriteString("| Setting | Value |\n|---|---|\n")
		fmt.Fprintf(&b, "| provider | %s |\n", e.Provider)
		fmt.Fprintf(&b, "| model | %s |\n", e.Model)
		fmt.Fprintf(&b, "| batch_size | %d |\n", e.BatchSize)
		fmt.Fprintf(&b, "| pooling_strategy | %s |\n", e.PoolingStrategy)
		fmt.Fprintf(&b, "| chunk_max_tokens | %d |\n", e.ChunkMaxTokens)
		fmt.Fprintf(&b, "| overlap_tokens | %d |\n", e.OverlapTokens)
		if dr := e.DimensionReduction; dr != nil {
			fmt.Fprintf(&b, "| dimension_reduction | %s to %d dims (seed %d) |\n", dr.Type, dr.Dims, dr.Seed)
		}
		b.WriteString("\n")
	}

	if c.Storage != nil {
		b.WriteString("## Storage\n\n")
		if v := c.Storage.Vector; v != nil {
			fmt.Fprintf(&b, "- Vector: provider=%s path=%s dimension=%d clear=%v upload=%v\n",
				v.Provider, v.Path, v.Dimension, v.Clear, v.Upload == nil || *v.Upload)
		}
		if ts := c.Storage.TextStore; ts != nil {
			fmt.Fprintf(&b, "- Text store: client=%s path=%s upload=%v\n",
				ts.Client, ts.Path, ts.Upload == nil || *ts.Upload)
		}
		b.WriteString("\n")
	}

	if c.Eval != nil {
		e := c.Eval
		b.WriteString("## Evaluation\n\n")
		b.WriteString("| Setting | Value |\n|---|---|\n")
		fmt.Fprintf(&b, "| top_k | %d |\n", e.TopK)
		fmt.Fprintf(&b, "| evaluations | %v |\n", e.Evaluations)
		if len(e.Metrics) > 0 {
			fmt.Fprintf(&b, "| metrics | %s |\n", strings.Join(e.Metrics, ", "))
		}
		if e.Rerank != nil {
			fmt.Fprintf(&b, "| rerank | %s (%s) |\n", e.Rerank.Provider, e.Rerank.Model)
		}
		if e.LLM != nil {
			fmt.Fprintf(&b, "| llm | %s (%s) |\n", e.LLM.Provider, e.LLM.Model)
		}
		if e.Test != nil {
			// Tests are elided to a count in the human summary.
			fmt.Fprintf(&b, "| tests | %d |\n", len(e.Test.Tests))
			if e.Test.LoadTest != "" {
				fmt.Fprintf(&b, "| load_test | %s |\n", e.Test.LoadTest)
			}
		}
		if contains(e.Metrics, "hit-rate") {
			b.WriteString("\nhit-rate@k is 1 when any relevant id appears in the top-k results, else 0.\n")
		}
		b.WriteString("\n")
	}

	return b.String()
}

func stepDetails(s StepConfig) string {
	var parts []string
	if s.ChunkSize != nil {
		parts = append(parts, fmt.Sprintf("size=%d", *s.ChunkSize))
	}
	if s.ChunkOverlap != nil {
		parts = append(parts, fmt.Sprintf("overlap=%d", *s.ChunkOverlap))
	}
	if s.Separator != "" && s.Strategy == "separator" {
		parts = append(parts, fmt.Sprintf("separator=%q", s.Separator))
	}
	if s.RegexPattern != "" {
		parts = append(parts, fmt.Sprintf("pattern=%q", s.RegexPattern))
	}
	if s.TrimWhitespace {
		parts = append(parts, "trim")
	}
	if s.KeepEmpty {
		parts = append(parts, "keep_empty")
	}
	if s.TypeChunk != "" {
		parts = append(parts, fmt.Sprintf("type_chunk=%s", s.TypeChunk))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
