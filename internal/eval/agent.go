package eval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	openai "github.com/sashabaranov/go-openai"

	"github.com/patteg21/pigeon-evals/internal/config"
	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
	"github.com/patteg21/pigeon-evals/pkg/version"
)

// Agent test terminal states.
const (
	AgentStatusCompleted = "completed"
	AgentStatusTimeout   = "timeout"
	AgentStatusError     = "error"
)

const (
	defaultAgentTimeout  = 2 * time.Minute
	defaultAgentMaxTurns = 10
)

// AgentResult is the recorded outcome of one agent test.
type AgentResult struct {
	FinalMessage string   `json:"final_message"`
	ToolsCalled  []string `json:"tools_called"`
	Status       string   `json:"status"`
	Error        string   `json:"error,omitempty"`
}

// AgentRunner spawns an MCP tool server and drives a model against its
// tools until the model stops calling them.
type AgentRunner struct {
	llm    *config.LLMConfig
	logger *slog.Logger

	// transport overrides the descriptor-built transport. Used by tests.
	transport mcp.Transport
}

// NewAgentRunner builds the runner; llm may be nil when only dry runs are
// expected.
func NewAgentRunner(llm *config.LLMConfig, logger *slog.Logger) *AgentRunner {
	return &AgentRunner{llm: llm, logger: logger}
}

// Run executes one agent test. Transport failures and model errors surface
// in the result status rather than as a returned error so one bad test does
// not abort the evaluation pass.
func (r *AgentRunner) Run(ctx context.Context, test *config.AgentTest) *AgentResult {
	timeout := test.Timeout
	if timeout <= 0 {
		timeout = defaultAgentTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := r.run(ctx, test)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &AgentResult{Status: AgentStatusTimeout, Error: err.Error()}
		}
		return &AgentResult{Status: AgentStatusError, Error: err.Error()}
	}
	return result
}

func (r *AgentRunner) run(ctx context.Context, test *config.AgentTest) (*AgentResult, error) {
	transport := r.transport
	if transport == nil {
		var err error
		transport, err = buildTransport(&test.MCP)
		if err != nil {
			return nil, err
		}
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "pigeon-evals",
		Version: version.Version,
	}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeProviderUnavailable,
			"cannot connect to MCP server", err)
	}
	defer func() { _ = session.Close() }()

	listed, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeProviderUnavailable,
			"cannot list MCP tools", err)
	}
	tools, err := openaiTools(listed.Tools)
	if err != nil {
		return nil, err
	}
	r.logger.Info("agent session started", "test", test.Name, "tools", len(tools))

	return r.loop(ctx, session, test, tools)
}

// loop runs the chat turn loop: model responds, tool calls execute against
// the MCP session, results feed the next turn.
func (r *AgentRunner) loop(ctx context.Context, session *mcp.ClientSession, test *config.AgentTest, tools []openai.Tool) (*AgentResult, error) {
	llmClient, model, err := r.chatClient()
	if err != nil {
		return nil, err
	}

	userMessage := test.Prompt
	if userMessage == "" {
		userMessage = test.Query
	}
	messages := []openai.ChatCompletionMessage{}
	if test.Instructions != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: test.Instructions,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: userMessage,
	})

	maxTurns := test.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultAgentMaxTurns
	}

	result := &AgentResult{Status: AgentStatusCompleted, ToolsCalled: []string{}}
	for turn := 0; turn < maxTurns; turn++ {
		resp, err := llmClient.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    model,
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			return nil, apperrors.New(apperrors.ErrCodeProviderUnavailable, "agent model call failed", err)
		}
		if len(resp.Choices) == 0 {
			return nil, apperrors.Newf(apperrors.ErrCodeProviderUnavailable, "agent model returned no choices")
		}

		msg := resp.Choices[0].Message
		messages = append(messages, msg)
		if len(msg.ToolCalls) == 0 {
			result.FinalMessage = msg.Content
			return result, nil
		}

		for _, call := range msg.ToolCalls {
			result.ToolsCalled = append(result.ToolsCalled, call.Function.Name)
			content := r.callTool(ctx, session, call)
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: call.ID,
				Content:    content,
			})
		}
	}

	// The turn budget ran out with tool calls still pending.
	result.FinalMessage = lastAssistantContent(messages)
	return result, nil
}

// callTool executes one tool call, folding failures into the tool result so
// the model can react to them.
func (r *AgentRunner) callTool(ctx context.Context, session *mcp.ClientSession, call openai.ToolCall) string {
	var args map[string]any
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return fmt.Sprintf("error: malformed tool arguments: %v", err)
		}
	}

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      call.Function.Name,
		Arguments: args,
	})
	if err != nil {
		r.logger.Warn("tool call failed", "tool", call.Function.Name, "error", err)
		return fmt.Sprintf("error: %v", err)
	}
	return flattenContent(res.Content)
}

func (r *AgentRunner) chatClient() (*openai.Client, string, error) {
	if r.llm == nil {
		return nil, "", apperrors.Newf(apperrors.ErrCodeConfigInvalid,
			"agent tests require an eval.llm section")
	}
	apiKey := r.llm.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" && r.llm.Endpoint == "" {
		return nil, "", apperrors.Newf(apperrors.ErrCodeProviderUnavailable,
			"OPENAI_API_KEY is not set and no endpoint is configured")
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if r.llm.Endpoint != "" {
		clientCfg.BaseURL = r.llm.Endpoint
	}
	model := r.llm.Model
	if model == "" {
		model = defaultJudgeModel
	}
	return openai.NewClientWithConfig(clientCfg), model, nil
}

// buildTransport maps the MCP descriptor onto an SDK transport.
func buildTransport(desc *config.MCPServer) (mcp.Transport, error) {
	switch desc.Type {
	case "stdio":
		cmd := exec.Command(desc.Command, desc.Args...)
		cmd.Env = os.Environ()
		for key, value := range desc.Env {
			cmd.Env = append(cmd.Env, key+"="+value)
		}
		if desc.Cwd != "" {
			cmd.Dir = desc.Cwd
		}
		return &mcp.CommandTransport{Command: cmd}, nil
	case "sse":
		httpClient := http.DefaultClient
		if desc.Timeout > 0 {
			httpClient = &http.Client{Timeout: desc.Timeout}
		}
		return &mcp.SSEClientTransport{
			Endpoint:   desc.URL,
			HTTPClient: httpClient,
		}, nil
	default:
		return nil, apperrors.Newf(apperrors.ErrCodeConfigInvalid,
			"unknown MCP transport type %q", desc.Type)
	}
}

// openaiTools converts MCP tool descriptors to chat-completion tools.
func openaiTools(tools []*mcp.Tool) ([]openai.Tool, error) {
	out := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		schema, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodeInternal, err)
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  json.RawMessage(schema),
			},
		})
	}
	return out, nil
}

func flattenContent(content []mcp.Content) string {
	var text string
	for _, item := range content {
		if tc, ok := item.(*mcp.TextContent); ok {
			if text != "" {
				text += "\n"
			}
			text += tc.Text
		}
	}
	return text
}

func lastAssistantContent(messages []openai.ChatCompletionMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == openai.ChatMessageRoleAssistant && messages[i].Content != "" {
			return messages[i].Content
		}
	}
	return ""
}

// MockAgentResult is the dry-run stand-in: no server spawns, no model call.
func MockAgentResult(test *config.AgentTest) *AgentResult {
	message := test.Prompt
	if message == "" {
		message = test.Query
	}
	return &AgentResult{
		FinalMessage: fmt.Sprintf("mock agent response for %q", message),
		ToolsCalled:  []string{},
		Status:       AgentStatusCompleted,
	}
}
