package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/scriptbox/config"
	"github.com/isdmx/scriptbox/sandbox"
)

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	executor  sandbox.ScriptExecutor
	mcpServer *server.MCPServer
}

// executePayload is the JSON document returned as the tool's text content.
type executePayload struct {
	Success       bool    `json:"success"`
	Output        string  `json:"output"`
	Error         *string `json:"error"`
	ResultValue   any     `json:"result_value"`
	ExecutionTime float64 `json:"execution_time"`
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, executor sandbox.ScriptExecutor) (*MCPServer, error) {
	s := &MCPServer{
		config:   cfg,
		logger:   logger,
		executor: executor,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", s.config.Server.Transport),
		zap.Int("server.http_port", s.config.Server.HTTPPort),
		zap.Int("sandbox.timeout_sec", s.config.Sandbox.TimeoutSec),
		zap.Strings("sandbox.allowed_modules", s.config.Sandbox.AllowedModules),
		zap.Int("sandbox.max_stack_depth", s.config.Sandbox.MaxStackDepth),
		zap.Int("sandbox.max_output_kb", s.config.Sandbox.MaxOutputKB),
		zap.Bool("observability.metrics_enabled", s.config.Observability.MetricsEnabled),
		zap.Bool("observability.tracing_enabled", s.config.Observability.TracingEnabled),
	)

	// Create the MCP server
	s.mcpServer = server.NewMCPServer("scriptbox-executor", "A secure script execution server")

	// Register the execute_script tool
	s.registerExecuteScriptTool()

	return s, nil
}

// registerExecuteScriptTool registers the execute_script tool
func (s *MCPServer) registerExecuteScriptTool() {
	tool := mcp.Tool{
		Name:        "execute_script",
		Description: "Execute an untrusted JavaScript snippet in a restricted sandbox",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "JavaScript source to execute",
				},
				"timeout_seconds": map[string]any{
					"type":        "integer",
					"description": "Per-call execution deadline in seconds (optional)",
				},
				"allowed_modules": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Modules the snippet may import; replaces the configured allow-list (optional)",
				},
			},
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteScript)
}

// handleExecuteScript handles the execute_script tool
func (s *MCPServer) handleExecuteScript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	timeoutSec := request.GetInt("timeout_seconds", 0)
	if timeoutSec < 0 {
		return nil, fmt.Errorf("timeout_seconds must be positive, got: %d", timeoutSec)
	}

	allowedModules := request.GetStringSlice("allowed_modules", nil)

	effectiveTimeout := s.config.Sandbox.TimeoutSec
	if timeoutSec > 0 {
		effectiveTimeout = timeoutSec
	}
	effectiveModules := s.config.Sandbox.AllowedModules
	if allowedModules != nil {
		effectiveModules = allowedModules
	}

	s.logger.Info("executing script",
		zap.Int("timeout_sec", effectiveTimeout),
		zap.Int("allowed_modules", len(effectiveModules)),
		zap.Int("code_len", len(code)))

	result, err := s.executor.Execute(ctx, sandbox.ExecuteRequest{
		Code:           code,
		TimeoutSec:     timeoutSec,
		AllowedModules: allowedModules,
	})
	if err != nil {
		s.logger.Error("script execution failed", zap.Error(err))
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf("Execution failed: %v", err),
				},
			},
			IsError: true,
		}, nil
	}

	s.logger.Info("script execution completed",
		zap.String("execution_id", result.ID),
		zap.String("status", string(result.Status)),
		zap.Bool("success", result.Success),
		zap.Duration("duration", result.Duration),
		zap.Int("output_len", len(result.Output)))

	payload := executePayload{
		Success:       result.Success,
		Output:        result.Output,
		ResultValue:   result.Value,
		ExecutionTime: result.Duration.Seconds(),
	}
	if result.Error != "" {
		payload.Error = &result.Error
	}

	resultJSON, err := json.Marshal(payload)
	if err != nil {
		// A snippet can bind a value with no JSON form (a function, say);
		// fall back to its string rendering rather than failing the call.
		payload.ResultValue = fmt.Sprintf("%v", result.Value)
		resultJSON, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding execution result: %w", err)
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(resultJSON),
			},
		},
	}, nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
