package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/scriptbox/config"
	"github.com/isdmx/scriptbox/sandbox"
)

// MockScriptExecutor implements sandbox.ScriptExecutor for testing
type MockScriptExecutor struct {
	executeResult sandbox.ExecuteResult
	executeError  error
	lastRequest   sandbox.ExecuteRequest
}

func (m *MockScriptExecutor) Execute(_ context.Context, req sandbox.ExecuteRequest) (sandbox.ExecuteResult, error) {
	m.lastRequest = req
	return m.executeResult, m.executeError
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Transport: "stdio",
			HTTPPort:  8080,
		},
		Logging: config.LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
		Sandbox: config.SandboxConfig{
			TimeoutSec:     5,
			AllowedModules: []string{"math", "json"},
			MaxStackDepth:  500,
			MaxOutputKB:    1024,
		},
	}
}

func newCallRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      "execute_script",
			Arguments: args,
		},
	}
}

func payloadFromResult(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &payload))
	return payload
}

func TestNewMCPServer(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := testConfig()
	mockExecutor := &MockScriptExecutor{}

	server, err := New(cfg, logger, mockExecutor)
	require.NoError(t, err)
	require.NotNil(t, server)
	assert.Equal(t, cfg, server.config)
	assert.Equal(t, logger, server.logger)
	assert.Equal(t, sandbox.ScriptExecutor(mockExecutor), server.executor)
	assert.NotNil(t, server.mcpServer)
	assert.Equal(t, server.mcpServer, server.GetMCPServer())
}

func TestHandleExecuteScript(t *testing.T) {
	ctx := context.Background()

	t.Run("SuccessfulExecution", func(t *testing.T) {
		mockExecutor := &MockScriptExecutor{
			executeResult: sandbox.ExecuteResult{
				ID:       "exec-1",
				Status:   sandbox.StatusCompleted,
				Success:  true,
				Output:   "4\n",
				Value:    float64(4),
				Duration: 12 * time.Millisecond,
			},
		}
		server, err := New(testConfig(), zaptest.NewLogger(t), mockExecutor)
		require.NoError(t, err)

		res, err := server.handleExecuteScript(ctx, newCallRequest(map[string]any{
			"code": "print(math.sqrt(16));",
		}))
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.False(t, res.IsError)

		payload := payloadFromResult(t, res)
		assert.Equal(t, true, payload["success"])
		assert.Equal(t, "4\n", payload["output"])
		assert.Nil(t, payload["error"])
		assert.Equal(t, float64(4), payload["result_value"])
		assert.InDelta(t, 0.012, payload["execution_time"], 0.0001)
	})

	t.Run("SnippetFailureStaysInBand", func(t *testing.T) {
		mockExecutor := &MockScriptExecutor{
			executeResult: sandbox.ExecuteResult{
				ID:     "exec-2",
				Status: sandbox.StatusRejected,
				Error:  "Safety violations detected:\nUnauthorized import: os",
			},
		}
		server, err := New(testConfig(), zaptest.NewLogger(t), mockExecutor)
		require.NoError(t, err)

		res, err := server.handleExecuteScript(ctx, newCallRequest(map[string]any{
			"code": `require("os");`,
		}))
		require.NoError(t, err)
		assert.False(t, res.IsError)

		payload := payloadFromResult(t, res)
		assert.Equal(t, false, payload["success"])
		assert.Contains(t, payload["error"], "Unauthorized import: os")
		assert.Nil(t, payload["result_value"])
	})

	t.Run("ExecutorErrorBecomesToolError", func(t *testing.T) {
		mockExecutor := &MockScriptExecutor{
			executeError: errors.New("backend unavailable"),
		}
		server, err := New(testConfig(), zaptest.NewLogger(t), mockExecutor)
		require.NoError(t, err)

		res, err := server.handleExecuteScript(ctx, newCallRequest(map[string]any{
			"code": "1 + 1",
		}))
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.True(t, res.IsError)

		text, ok := res.Content[0].(mcp.TextContent)
		require.True(t, ok)
		assert.Contains(t, text.Text, "Execution failed:")
	})

	t.Run("MissingCodeParameter", func(t *testing.T) {
		server, err := New(testConfig(), zaptest.NewLogger(t), &MockScriptExecutor{})
		require.NoError(t, err)

		_, err = server.handleExecuteScript(ctx, newCallRequest(map[string]any{}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "code parameter is required")
	})

	t.Run("NegativeTimeoutRejected", func(t *testing.T) {
		server, err := New(testConfig(), zaptest.NewLogger(t), &MockScriptExecutor{})
		require.NoError(t, err)

		_, err = server.handleExecuteScript(ctx, newCallRequest(map[string]any{
			"code":            "1 + 1",
			"timeout_seconds": -3,
		}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout_seconds must be positive")
	})

	t.Run("OverridesForwardedToExecutor", func(t *testing.T) {
		mockExecutor := &MockScriptExecutor{
			executeResult: sandbox.ExecuteResult{Status: sandbox.StatusCompleted, Success: true},
		}
		server, err := New(testConfig(), zaptest.NewLogger(t), mockExecutor)
		require.NoError(t, err)

		_, err = server.handleExecuteScript(ctx, newCallRequest(map[string]any{
			"code":            `require("math");`,
			"timeout_seconds": 7,
			"allowed_modules": []any{"math"},
		}))
		require.NoError(t, err)

		assert.Equal(t, `require("math");`, mockExecutor.lastRequest.Code)
		assert.Equal(t, 7, mockExecutor.lastRequest.TimeoutSec)
		assert.Equal(t, []string{"math"}, mockExecutor.lastRequest.AllowedModules)
	})

	t.Run("UnserializableValueFallsBackToString", func(t *testing.T) {
		mockExecutor := &MockScriptExecutor{
			executeResult: sandbox.ExecuteResult{
				Status:  sandbox.StatusCompleted,
				Success: true,
				Value:   make(chan int),
			},
		}
		server, err := New(testConfig(), zaptest.NewLogger(t), mockExecutor)
		require.NoError(t, err)

		res, err := server.handleExecuteScript(ctx, newCallRequest(map[string]any{
			"code": "_ = whatever;",
		}))
		require.NoError(t, err)

		payload := payloadFromResult(t, res)
		_, isString := payload["result_value"].(string)
		assert.True(t, isString)
	})
}
