package eval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patteg21/pigeon-evals/internal/config"
	"github.com/patteg21/pigeon-evals/internal/logging"
)

type lookupInput struct {
	Query string `json:"query" jsonschema:"the search query"`
}

type lookupOutput struct {
	Result string `json:"result"`
}

// startTestMCP serves one lookup tool over an in-memory transport.
func startTestMCP(t *testing.T) mcp.Transport {
	t.Helper()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	server := mcp.NewServer(&mcp.Implementation{Name: "test-tools", Version: "0.0.1"}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "lookup",
		Description: "Look up a chunk of filing text.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, input lookupInput) (*mcp.CallToolResult, lookupOutput, error) {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "filing text for " + input.Query}},
		}, lookupOutput{Result: "filing text for " + input.Query}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = server.Run(ctx, serverTransport) }()
	return clientTransport
}

// chatStub answers the first completion with a tool call and the second
// with a final message.
func chatStub(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			_, _ = w.Write([]byte(`{
				"choices": [{"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "lookup", "arguments": "{\"query\": \"revenue\"}"}
					}]
				}}]
			}`))
			return
		}

		// The tool result must have come back on the second request.
		var req struct {
			Messages []map[string]any `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		last := req.Messages[len(req.Messages)-1]
		assert.Equal(t, "tool", last["role"])
		assert.Contains(t, last["content"], "filing text for revenue")

		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "the revenue grew"}}]
		}`))
	}))
}

func TestAgentRunner_ToolLoop(t *testing.T) {
	var calls atomic.Int64
	srv := chatStub(t, &calls)
	defer srv.Close()

	runner := NewAgentRunner(&config.LLMConfig{
		Provider: "openai",
		Model:    "gpt-4o-mini",
		APIKey:   "test-key",
		Endpoint: srv.URL + "/v1",
	}, logging.Discard())
	runner.transport = startTestMCP(t)

	result := runner.Run(context.Background(), &config.AgentTest{
		Name:         "agent-revenue",
		Query:        "what was the revenue",
		Instructions: "Use the lookup tool.",
		MaxTurns:     4,
	})

	assert.Equal(t, AgentStatusCompleted, result.Status)
	assert.Equal(t, "the revenue grew", result.FinalMessage)
	assert.Equal(t, []string{"lookup"}, result.ToolsCalled)
	assert.Equal(t, int64(2), calls.Load())
}

func TestAgentRunner_TimeoutStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	runner := NewAgentRunner(&config.LLMConfig{
		APIKey:   "test-key",
		Endpoint: srv.URL + "/v1",
	}, logging.Discard())
	runner.transport = startTestMCP(t)

	result := runner.Run(context.Background(), &config.AgentTest{
		Name:    "agent-slow",
		Query:   "anything",
		Timeout: 100 * time.Millisecond,
	})
	assert.Equal(t, AgentStatusTimeout, result.Status)
}

func TestAgentRunner_BadTransportIsError(t *testing.T) {
	runner := NewAgentRunner(&config.LLMConfig{APIKey: "k"}, logging.Discard())

	result := runner.Run(context.Background(), &config.AgentTest{
		Name:  "agent-bad",
		Query: "q",
		MCP:   config.MCPServer{Type: "carrier-pigeon"},
	})
	assert.Equal(t, AgentStatusError, result.Status)
	assert.NotEmpty(t, result.Error)
}

func TestMockAgentResult(t *testing.T) {
	result := MockAgentResult(&config.AgentTest{Name: "a", Query: "what is cash flow"})
	assert.Equal(t, AgentStatusCompleted, result.Status)
	assert.Contains(t, result.FinalMessage, "cash flow")
	assert.Empty(t, result.ToolsCalled)
}

func TestBuildTransport_Kinds(t *testing.T) {
	stdio, err := buildTransport(&config.MCPServer{Type: "stdio", Command: "echo"})
	require.NoError(t, err)
	assert.IsType(t, &mcp.CommandTransport{}, stdio)

	sse, err := buildTransport(&config.MCPServer{Type: "sse", URL: "http://localhost:9"})
	require.NoError(t, err)
	assert.IsType(t, &mcp.SSEClientTransport{}, sse)

	_, err = buildTransport(&config.MCPServer{Type: "nope"})
	assert.Error(t, err)
}
