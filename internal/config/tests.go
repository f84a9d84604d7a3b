package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
)

// Test case kinds.
const (
	TestKindHuman = "human"
	TestKindLLM   = "llm"
	TestKindAgent = "agent"
)

// HumanTest runs retrieval and writes the hydrated candidates for manual
// review.
type HumanTest struct {
	Name  string `yaml:"name" json:"name"`
	Query string `yaml:"query" json:"query"`
	// RelevantIDs are ground-truth chunk ids used for metric computation.
	RelevantIDs []string `yaml:"relevant_ids,omitempty" json:"relevant_ids,omitempty"`
}

// LLMTest runs retrieval and grades the result set with a judge model.
type LLMTest struct {
	Name  string `yaml:"name" json:"name"`
	Query string `yaml:"query" json:"query"`
	// Prompt is the judge prompt.
	Prompt string `yaml:"prompt" json:"prompt"`
	// EvalType is single (grade one result set) or pairwise (compare two).
	EvalType string `yaml:"eval_type,omitempty" json:"eval_type,omitempty"`
	// PairWith names the test whose results form the second pairwise input.
	PairWith    string   `yaml:"pair_with,omitempty" json:"pair_with,omitempty"`
	RelevantIDs []string `yaml:"relevant_ids,omitempty" json:"relevant_ids,omitempty"`
}

// AgentTest spawns an MCP server and drives an agent against it.
type AgentTest struct {
	Name  string `yaml:"name" json:"name"`
	Query string `yaml:"query" json:"query"`
	// Prompt overrides Query as the user message when set.
	Prompt string `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	// Instructions is the agent system prompt.
	Instructions string        `yaml:"instructions,omitempty" json:"instructions,omitempty"`
	MCP          MCPServer     `yaml:"mcp" json:"mcp"`
	Timeout      time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	MaxTurns     int           `yaml:"max_turns,omitempty" json:"max_turns,omitempty"`
}

// MCPServer describes how to reach an MCP tool server.
type MCPServer struct {
	// Type is stdio or sse.
	Type string `yaml:"type" json:"type"`

	// Stdio transport.
	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Cwd     string            `yaml:"cwd,omitempty" json:"cwd,omitempty"`

	// SSE transport.
	URL            string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Timeout        time.Duration     `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	SSEReadTimeout time.Duration     `yaml:"sse_read_timeout,omitempty" json:"sse_read_timeout,omitempty"`
}

// TestCase is a tagged union over the three test kinds. Exactly one variant
// is non-nil after decoding; the `type` field selects it.
type TestCase struct {
	Human *HumanTest
	LLM   *LLMTest
	Agent *AgentTest
}

// Kind returns the discriminator of the active variant.
func (t TestCase) Kind() string {
	switch {
	case t.Human != nil:
		return TestKindHuman
	case t.LLM != nil:
		return TestKindLLM
	case t.Agent != nil:
		return TestKindAgent
	}
	return ""
}

// Name returns the test name of the active variant.
func (t TestCase) Name() string {
	switch {
	case t.Human != nil:
		return t.Human.Name
	case t.LLM != nil:
		return t.LLM.Name
	case t.Agent != nil:
		return t.Agent.Name
	}
	return ""
}

// Query returns the retrieval query of the active variant.
func (t TestCase) Query() string {
	switch {
	case t.Human != nil:
		return t.Human.Query
	case t.LLM != nil:
		return t.LLM.Query
	case t.Agent != nil:
		return t.Agent.Query
	}
	return ""
}

// RelevantIDs returns ground-truth labels when the variant carries them.
func (t TestCase) RelevantIDs() []string {
	switch {
	case t.Human != nil:
		return t.Human.RelevantIDs
	case t.LLM != nil:
		return t.LLM.RelevantIDs
	}
	return nil
}

// UnmarshalYAML selects the variant by the `type` field.
func (t *TestCase) UnmarshalYAML(node *yaml.Node) error {
	var probe struct {
		Type string `yaml:"type"`
	}
	if err := node.Decode(&probe); err != nil {
		return err
	}
	switch probe.Type {
	case TestKindHuman, "":
		var v HumanTest
		if err := node.Decode(&v); err != nil {
			return err
		}
		t.Human = &v
	case TestKindLLM:
		var v LLMTest
		if err := node.Decode(&v); err != nil {
			return err
		}
		t.LLM = &v
	case TestKindAgent:
		var v AgentTest
		if err := node.Decode(&v); err != nil {
			return err
		}
		t.Agent = &v
	default:
		return apperrors.Newf(apperrors.ErrCodeConfigInvalid,
			"unknown test type: %q", probe.Type)
	}
	return nil
}

// MarshalYAML re-emits the active variant with its `type` tag.
func (t TestCase) MarshalYAML() (interface{}, error) {
	return t.tagged()
}

// UnmarshalJSON selects the variant by the `type` field. Test files loaded
// via load_test are JSON.
func (t *TestCase) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	switch probe.Type {
	case TestKindHuman, "":
		var v HumanTest
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		t.Human = &v
	case TestKindLLM:
		var v LLMTest
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		t.LLM = &v
	case TestKindAgent:
		var v AgentTest
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		t.Agent = &v
	default:
		return apperrors.Newf(apperrors.ErrCodeConfigInvalid,
			"unknown test type: %q", probe.Type)
	}
	return nil
}

// MarshalJSON re-emits the active variant with its `type` tag.
func (t TestCase) MarshalJSON() ([]byte, error) {
	v, err := t.tagged()
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func (t TestCase) tagged() (map[string]interface{}, error) {
	var inner interface{}
	switch {
	case t.Human != nil:
		inner = t.Human
	case t.LLM != nil:
		inner = t.LLM
	case t.Agent != nil:
		inner = t.Agent
	default:
		return nil, fmt.Errorf("empty test case")
	}
	// Round-trip through JSON to flatten the variant fields.
	raw, err := json.Marshal(inner)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	out["type"] = t.Kind()
	return out, nil
}
