// Package codegen asks a language model to write a function body for a
// prompt. The returned body is untrusted text like any other submitted
// source: it only ever runs inside an isolate.
package codegen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jkaninda/sandrun/internal/assemble"
	"github.com/jkaninda/sandrun/internal/llm"
)

// ErrInvalidBody is returned when the model's answer has no usable body.
var ErrInvalidBody = errors.New("model did not return a valid function body")

// ErrEmptyPrompt is returned for a blank prompt.
var ErrEmptyPrompt = errors.New("prompt is required")

const defaultMaxTokens = 1024

var (
	returnStatement = regexp.MustCompile(`(?m)return\s+`)
	fencedBlock     = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n(.*?)```")
)

const systemPrompt = `You write the body of a single JavaScript function.
Reply with the body only: no function signature, no surrounding braces, no explanations.
The body must end by returning a JSON-serializable value with a return statement.
Do not use eval, Function, imports, timers, network or DOM APIs.`

// Request describes the function to generate.
type Request struct {
	Prompt         string `json:"prompt"`
	FunctionName   string `json:"function_name,omitempty"`
	ParameterNames string `json:"parameter_names"`
}

// Result is a generated body.
type Result struct {
	Body     string `json:"body"`
	Provider string `json:"provider,omitempty"`
}

// Service is implemented by Generator and its instrumented wrapper.
type Service interface {
	Generate(ctx context.Context, req Request) (Result, error)
	Provider() string
}

// Config configures a Generator.
type Config struct {
	MaxTokens int
}

// Generator produces function bodies with an llm.Provider.
type Generator struct {
	provider llm.Provider
	config   Config
	logger   *slog.Logger
}

// New creates a Generator.
func New(provider llm.Provider, cfg Config, logger *slog.Logger) *Generator {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &Generator{provider: provider, config: cfg, logger: logger}
}

// Provider returns the provider name.
func (g *Generator) Provider() string { return g.provider.Name() }

// Generate returns a body for req. Answers without a return statement are
// rejected with ErrInvalidBody.
func (g *Generator) Generate(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Result{}, ErrEmptyPrompt
	}
	name := strings.TrimSpace(req.FunctionName)
	if name == "" {
		name = assemble.DefaultFunctionName
	}
	params := assemble.SplitParams(req.ParameterNames)

	prompt := fmt.Sprintf("Function name: %s\nParameters: (%s)\nTask: %s",
		name, strings.Join(params, ", "), strings.TrimSpace(req.Prompt))

	resp, err := g.provider.Complete(ctx, llm.UserPrompt(systemPrompt, prompt, g.config.MaxTokens))
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", g.provider.Name(), err)
	}
	text, err := resp.Text()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidBody, err)
	}

	body, err := ExtractBody(text)
	if err != nil {
		g.logger.WarnContext(ctx, "generated body rejected",
			slog.String("provider", g.provider.Name()),
			slog.Int("length", len(text)),
		)
		return Result{}, err
	}
	g.logger.InfoContext(ctx, "function body generated",
		slog.String("provider", g.provider.Name()),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
	)
	return Result{Body: body, Provider: g.provider.Name()}, nil
}

// ExtractBody pulls the body out of a model answer. It accepts a JSON
// object {"body": "..."}, a fenced code block or bare code, and requires a
// return statement.
func ExtractBody(text string) (string, error) {
	body := strings.TrimSpace(text)
	if m := fencedBlock.FindStringSubmatch(body); m != nil {
		body = strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(body, "{") {
		var wrapped struct {
			Body *string `json:"body"`
		}
		if err := json.Unmarshal([]byte(body), &wrapped); err == nil && wrapped.Body != nil {
			body = strings.TrimSpace(*wrapped.Body)
		}
	}
	if body == "" || !returnStatement.MatchString(body) {
		return "", ErrInvalidBody
	}
	return body, nil
}
