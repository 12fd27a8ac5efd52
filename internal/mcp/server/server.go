// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server wires a task-backed MCP server: the single dispatch
// interception point described by the task router, plus the four direct
// tasks/* routes. Tool handler code belongs to whatever embeds this
// package; the one tool registered here exists only to exercise the
// interception point end to end.
package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	intlog "github.com/mcp-tasks/core/internal/log"
	"github.com/mcp-tasks/core/pkg/tasks"
)

// Server wraps the MCP server and the task router it dispatches through.
type Server struct {
	mcpServer   *server.MCPServer
	name        string
	version     string
	rateLimiter *RateLimiter
	logger      *slog.Logger
	taskRouter  *tasks.TaskRouter
	toolExec    map[string]tasks.ToolExecution
}

// ToolExecution implements tasks.ToolMetadataLookup, letting a configured
// TaskRouter ask whether a given tool declared taskSupport: required.
func (s *Server) ToolExecution(toolName string) (tasks.ToolExecution, bool) {
	exec, ok := s.toolExec[toolName]
	return exec, ok
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	// Name is the server name (default: "mcptasks").
	Name string

	// Version is the server's version string.
	Version string

	// LogLevel controls logging verbosity (debug, info, warn, error).
	LogLevel string

	// TaskRouter, if set, enables task-backed tool execution and the
	// tasks/get, tasks/result, tasks/list, tasks/cancel routes. Tools
	// declaring taskSupport: required are dispatched through it instead
	// of running inline.
	TaskRouter *tasks.TaskRouter
}

// createLogger creates a logger with the specified log level, writing to
// stderr so it never collides with the stdio transport's framing on
// stdout.
func createLogger(levelStr string) (*slog.Logger, error) {
	cfg := intlog.DefaultConfig()
	cfg.Format = intlog.FormatText
	if levelStr != "" {
		cfg.Level = levelStr
	}
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", levelStr)
	}
	return intlog.New(cfg), nil
}

// NewServer creates a new MCP server instance.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Name == "" {
		config.Name = "mcptasks"
	}
	if config.Version == "" {
		config.Version = "dev"
	}

	logger, err := createLogger(config.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	mcpServer := server.NewMCPServer(config.Name, config.Version)

	s := &Server{
		mcpServer:   mcpServer,
		name:        config.Name,
		version:     config.Version,
		rateLimiter: NewRateLimiter(10, 100),
		logger:      logger,
		taskRouter:  config.TaskRouter,
		toolExec: map[string]tasks.ToolExecution{
			"example_long_running_op": {TaskSupport: tasks.TaskSupportRequired},
		},
	}

	if s.taskRouter != nil {
		s.taskRouter.SetRegistry(s)
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// wrapHandler installs the task-routing interception point, plus request/
// response RPC logging, around a tool's own handler. With no TaskRouter
// configured the task-routing layer is a no-op pass-through.
func (s *Server) wrapHandler(name string, handler ToolHandlerFunc) ToolHandlerFunc {
	routed := WrapToolHandler(s.taskRouter, name, s.logger, handler)
	middleware := intlog.NewRPCMiddleware(s.logger)

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if s.rateLimiter != nil && !s.rateLimiter.AllowCall() {
			return errorResponse(fmt.Sprintf("rate limit exceeded for tool %q, retry later", name)), nil
		}

		var result *mcp.CallToolResult
		_, err := middleware.HandlerWithMetadata(&intlog.RPCRequest{
			MessageType: "tools/call",
			Metadata:    map[string]interface{}{intlog.ToolKey: name},
		}, func() (map[string]interface{}, error) {
			var handlerErr error
			result, handlerErr = routed(ctx, request)
			return map[string]interface{}{"is_error": result != nil && result.IsError}, handlerErr
		})
		return result, err
	}
}

// registerTools registers the demonstration tool that exercises task-backed
// dispatch. A real embedding server registers its own tools the same way,
// wrapping each handler with wrapHandler.
func (s *Server) registerTools() error {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "example_long_running_op",
		Description: "Demonstrates task-backed tool dispatch: the first call returns a task handle instead of running inline.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"input": map[string]interface{}{
					"type":        "string",
					"description": "Arbitrary input echoed back once the task completes",
				},
			},
		},
	}, s.wrapHandler("example_long_running_op", s.handleExampleOp))

	return nil
}

// handleExampleOp is the inline handler a continuation call reaches once a
// task has already been created for it by wrapHandler.
func (s *Server) handleExampleOp(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	input, _ := args["input"].(string)
	return textResponse("done: " + input), nil
}

// Run starts the MCP server using stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting mcp server", slog.String("version", s.version))
	if capability := s.tasksCapability(); capability != nil {
		s.logger.Info("task support enabled", slog.Any("capability", capability))
	}

	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server. The mcp-go server exposes no
// explicit shutdown hook; returning from ServeStdio is sufficient.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down mcp server")
	return nil
}

func errorResponse(message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(message)
}

func textResponse(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}
