// Package mcp exposes the executor as Model Context Protocol tools over
// stdio, so an MCP client can run function bodies in the sandbox.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/sandrun/internal/domain"
	"github.com/jkaninda/sandrun/internal/executor"
	"github.com/jkaninda/sandrun/internal/storage"
)

// Tool names.
const (
	ToolRun      = "run_function"
	ToolPreview  = "preview_function"
	ToolRunSaved = "run_saved_function"
)

// Server is an MCP server with the sandrun tools registered.
type Server struct {
	exec      executor.Service
	functions storage.FunctionStore
	mcp       *server.MCPServer
	logger    *slog.Logger
}

// NewServer registers the tools. functions may be nil, in which case
// run_saved_function is not offered.
func NewServer(exec executor.Service, functions storage.FunctionStore, version string, logger *slog.Logger) *Server {
	s := &Server{
		exec:      exec,
		functions: functions,
		mcp:       server.NewMCPServer("sandrun", version, server.WithToolCapabilities(false)),
		logger:    logger,
	}
	s.mcp.AddTool(runTool(), s.handleRun)
	s.mcp.AddTool(previewTool(), s.handlePreview)
	if functions != nil {
		s.mcp.AddTool(runSavedTool(), s.handleRunSaved)
	}
	return s
}

// Serve speaks MCP over r/w until ctx is canceled or r is closed.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s.logger.Info("mcp server starting on stdio")
	stdio := server.NewStdioServer(s.mcp)
	err := stdio.Listen(ctx, r, w)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func requestParams(required bool) []mcp.ToolOption {
	body := []mcp.PropertyOption{mcp.Description("Function body. Must return a JSON-serializable value.")}
	if required {
		body = append(body, mcp.Required())
	}
	return []mcp.ToolOption{
		mcp.WithString("body_source", body...),
		mcp.WithString("parameter_names", mcp.Description("Comma-separated parameter names, e.g. \"a, b\".")),
		mcp.WithString("arguments_text", mcp.Description("Comma-separated JSON argument values, e.g. `1, \"x\", [2]`.")),
		mcp.WithString("function_name", mcp.Description("Name of the generated function. Defaults to worker_function.")),
	}
}

func runTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Run a JavaScript function body once in a fresh sandboxed isolate and return its outcome as JSON."),
	}, requestParams(true)...)
	return mcp.NewTool(ToolRun, opts...)
}

func previewTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Show the unit that run_function would execute, without running it."),
	}, requestParams(true)...)
	return mcp.NewTool(ToolPreview, opts...)
}

func runSavedTool() mcp.Tool {
	return mcp.NewTool(ToolRunSaved,
		mcp.WithDescription("Run a saved function by id, optionally overriding its default arguments."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Saved function ID (UUID).")),
		mcp.WithString("arguments_text", mcp.Description("Overrides the saved default arguments when set.")),
	)
}

func toRequest(req mcp.CallToolRequest) executor.Request {
	return executor.Request{
		FunctionName:   req.GetString("function_name", ""),
		ParameterNames: req.GetString("parameter_names", ""),
		BodySource:     req.GetString("body_source", ""),
		ArgumentsText:  req.GetString("arguments_text", ""),
	}
}

func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return outcomeResult(s.exec.Execute(ctx, toRequest(req)))
}

func (s *Server) handlePreview(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	unit, err := s.exec.Preview(toRequest(req))
	if err != nil {
		return outcomeResult(domain.FailureFrom(err))
	}
	return mcp.NewToolResultText(unit), nil
}

func (s *Server) handleRunSaved(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := uuid.Parse(req.GetString("id", ""))
	if err != nil {
		return mcp.NewToolResultError("invalid function id"), nil
	}
	fn, err := s.functions.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("function %s not found", id)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading function %s: %w", id, err)
	}

	return outcomeResult(s.exec.Execute(ctx, executor.Request{
		FunctionName:   fn.FunctionName,
		ParameterNames: fn.ParameterNames,
		BodySource:     fn.BodySource,
		ArgumentsText:  req.GetString("arguments_text", fn.ArgumentsText),
	}))
}

// outcomeResult renders out as JSON text. Failures are tool errors carrying
// the same JSON, so clients can tell them apart without parsing.
func outcomeResult(out domain.Outcome) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encoding outcome: %w", err)
	}
	if !out.OK() {
		return mcp.NewToolResultError(string(data)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
