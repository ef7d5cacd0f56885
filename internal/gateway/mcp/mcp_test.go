package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/sandrun/internal/domain"
	"github.com/jkaninda/sandrun/internal/executor"
	"github.com/jkaninda/sandrun/internal/sandbox"
	"github.com/jkaninda/sandrun/internal/storage/sqlite"
	"github.com/jkaninda/sandrun/internal/supervisor"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, withStore bool) (*Server, *sqlite.Store) {
	t.Helper()
	sbx := sandbox.NewInProcessSandbox(sandbox.InProcessConfig{}, discardLogger())
	sup := supervisor.New(sbx, supervisor.Config{Deadline: 2 * time.Second, TeardownGrace: time.Second}, discardLogger())
	exec := executor.New(sup, executor.Config{}, discardLogger())

	if !withStore {
		return NewServer(exec, nil, "test", discardLogger()), nil
	}
	store, err := sqlite.Open(sqlite.Config{Path: filepath.Join(t.TempDir(), "mcp.db")}, discardLogger())
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewServer(exec, store.Functions(), "test", discardLogger()), store
}

func call(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) != 1 {
		t.Fatalf("result = %+v, want one content item", res)
	}
	tc, ok := mcp.AsTextContent(res.Content[0])
	if !ok {
		t.Fatalf("content = %T, want text", res.Content[0])
	}
	return tc.Text
}

func decodeOutcome(t *testing.T, text string) domain.Outcome {
	t.Helper()
	var out domain.Outcome
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatalf("decoding outcome %q: %v", text, err)
	}
	return out
}

func TestRunFunction(t *testing.T) {
	s, _ := newTestServer(t, false)
	tests := []struct {
		name    string
		args    map[string]any
		isError bool
		kind    domain.Kind
		value   string
	}{
		{
			name:  "success",
			args:  map[string]any{"parameter_names": "a, b", "body_source": "return [a, b];", "arguments_text": `1, "x"`},
			value: `[1,"x"]`,
		},
		{
			name:    "runtime error",
			args:    map[string]any{"body_source": `throw new TypeError("nope");`},
			isError: true,
			kind:    domain.KindRuntime,
		},
		{
			name:    "timeout",
			args:    map[string]any{"body_source": "for (;;) {}"},
			isError: true,
			kind:    domain.KindTimeout,
		},
		{
			name:    "bad arguments",
			args:    map[string]any{"parameter_names": "a", "body_source": "return a;", "arguments_text": "{"},
			isError: true,
			kind:    domain.KindSyntax,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.handleRun(context.Background(), call(ToolRun, tt.args))
			if err != nil {
				t.Fatalf("handleRun() error: %v", err)
			}
			if res.IsError != tt.isError {
				t.Errorf("IsError = %v, want %v", res.IsError, tt.isError)
			}
			out := decodeOutcome(t, resultText(t, res))
			if tt.isError {
				if out.Kind() != tt.kind {
					t.Errorf("Kind = %q, want %q", out.Kind(), tt.kind)
				}
				return
			}
			got, _ := out.ValueJSON()
			if string(got) != tt.value {
				t.Errorf("value = %s, want %s", got, tt.value)
			}
		})
	}
}

func TestPreviewFunction(t *testing.T) {
	s, _ := newTestServer(t, false)

	res, err := s.handlePreview(context.Background(), call(ToolPreview, map[string]any{
		"function_name": "sum", "parameter_names": "x", "body_source": "return x;",
	}))
	if err != nil {
		t.Fatalf("handlePreview() error: %v", err)
	}
	if text := resultText(t, res); res.IsError || !strings.Contains(text, "sum(x)") {
		t.Errorf("preview = %q (isError %v)", text, res.IsError)
	}

	res, err = s.handlePreview(context.Background(), call(ToolPreview, map[string]any{
		"function_name": "not valid", "body_source": "return 1;",
	}))
	if err != nil {
		t.Fatalf("handlePreview() error: %v", err)
	}
	if !res.IsError {
		t.Error("invalid function name was accepted")
	}
}

func TestRunSavedFunction(t *testing.T) {
	s, store := newTestServer(t, true)
	fn := &domain.Function{Name: "double", ParameterNames: "n", BodySource: "return n * 2;", ArgumentsText: "21"}
	if err := store.Functions().Create(context.Background(), fn); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"defaults", map[string]any{"id": fn.ID.String()}, "42"},
		{"override", map[string]any{"id": fn.ID.String(), "arguments_text": "5"}, "10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.handleRunSaved(context.Background(), call(ToolRunSaved, tt.args))
			if err != nil {
				t.Fatalf("handleRunSaved() error: %v", err)
			}
			got, _ := decodeOutcome(t, resultText(t, res)).ValueJSON()
			if string(got) != tt.want {
				t.Errorf("value = %s, want %s", got, tt.want)
			}
		})
	}

	res, err := s.handleRunSaved(context.Background(), call(ToolRunSaved, map[string]any{"id": "nope"}))
	if err != nil || !res.IsError {
		t.Errorf("bad id: res = %+v, err = %v; want tool error", res, err)
	}
}
