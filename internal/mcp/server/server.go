// Package server exposes the engine as MCP tools over stdio.
package server

import (
	"context"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/pgexec/internal/catalog"
	"github.com/GriffinCanCode/pgexec/internal/engine"
	"github.com/GriffinCanCode/pgexec/internal/sandbox"
)

// Engine is the part of engine.Engine the tools use
type Engine interface {
	Execute(ctx context.Context, req engine.Request) (*engine.Execution, error)
	Stats() engine.Stats
	Capabilities() map[string][]string
}

// Config configures the MCP server
type Config struct {
	// Name is the server name (default: "pgexec")
	Name string
	// Version is reported during initialization
	Version string
	// BindingsRoot is the global scripts see capabilities under
	BindingsRoot string
	// ExecutionsPerSecond limits execute_code calls; zero disables the limit
	ExecutionsPerSecond int
	Burst               int
}

// Server wraps the MCP server
type Server struct {
	mcpServer *server.MCPServer
	engine    Engine
	root      string
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewServer creates the MCP server and registers its tools
func NewServer(eng Engine, cfg Config, logger *zap.Logger) *Server {
	if cfg.Name == "" {
		cfg.Name = "pgexec"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.BindingsRoot == "" {
		cfg.BindingsRoot = sandbox.DefaultBindingsRoot
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.ExecutionsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.ExecutionsPerSecond
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.ExecutionsPerSecond), burst)
	}

	s := &Server{
		mcpServer: server.NewMCPServer(cfg.Name, cfg.Version, server.WithToolCapabilities(false)),
		engine:    eng,
		root:      cfg.BindingsRoot,
		limiter:   limiter,
		logger:    logger,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name: "execute_code",
		Description: fmt.Sprintf("Run JavaScript against the database. The code is the body of an async function: "+
			"use await and return a JSON-serializable value. Database operations are available as %s.<group>.<method>(params); "+
			"call list_capabilities to see them. require, process, timers and eval are unavailable.", s.root),
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"code": map[string]interface{}{
					"type":        "string",
					"description": "JavaScript function body",
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "Isolation mode (default: server setting)",
					"enum":        []string{string(sandbox.ModeInProcess), string(sandbox.ModeIsolated)},
				},
			},
			Required: []string{"code"},
		},
	}, s.handleExecute)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_capabilities",
		Description: "List the database operations scripts can call, with their parameters.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleListCapabilities)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "pool_stats",
		Description: "Report sandbox pool utilization and recent execution latency.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handlePoolStats)
}

// Serve speaks MCP on in and out until ctx is cancelled or in closes
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("Starting MCP server")

	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))
	if err := stdio.Listen(ctx, in, out); err != nil && ctx.Err() == nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

func (s *Server) handleExecute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError("Missing or invalid 'code' argument"), nil
	}
	mode := request.GetString("mode", "")

	if !s.limiter.Allow() {
		return mcp.NewToolResultError("Rate limit exceeded. Please try again later."), nil
	}

	exec, err := s.engine.Execute(ctx, engine.Request{Code: code, Mode: sandbox.Mode(mode)})
	if err != nil {
		s.logger.Warn("execute_code refused", zap.Error(err))
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := jsonResult(exec)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result.IsError = !exec.Success
	return result, nil
}

func (s *Server) handleListCapabilities(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	shape := s.engine.Capabilities()
	result, err := jsonResult(map[string]interface{}{
		"root":  s.root,
		"tools": catalog.Tools(shape),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return result, nil
}

func (s *Server) handlePoolStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := jsonResult(s.engine.Stats())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return result, nil
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
	}, nil
}
