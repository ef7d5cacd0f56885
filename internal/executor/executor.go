// Package executor is the caller-facing entry point: it turns the textual
// request a user submits into an assembled unit plus parsed arguments and
// hands it to the supervisor. Requests that fail to parse or assemble never
// reach an isolate.
package executor

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/jkaninda/sandrun/internal/args"
	"github.com/jkaninda/sandrun/internal/assemble"
	"github.com/jkaninda/sandrun/internal/domain"
	"github.com/jkaninda/sandrun/internal/supervisor"
)

// Request is an execution request in the form callers submit it.
type Request struct {
	FunctionName   string `json:"function_name,omitempty"`
	ParameterNames string `json:"parameter_names"`
	BodySource     string `json:"body_source"`
	ArgumentsText  string `json:"arguments_text"`
}

// Service is implemented by Executor and its instrumented wrappers.
type Service interface {
	Execute(ctx context.Context, req Request) domain.Outcome
	Start(ctx context.Context, req Request) (*supervisor.Execution, error)
	Preview(req Request) (string, error)
}

// Config configures an Executor.
type Config struct {
	// FunctionName is used when a request names no function.
	FunctionName string
}

// Executor prepares requests and runs them under a supervisor.
type Executor struct {
	supervisor *supervisor.Supervisor
	config     Config
	logger     *slog.Logger
}

// New creates an Executor.
func New(sup *supervisor.Supervisor, cfg Config, logger *slog.Logger) *Executor {
	if strings.TrimSpace(cfg.FunctionName) == "" {
		cfg.FunctionName = assemble.DefaultFunctionName
	}
	return &Executor{supervisor: sup, config: cfg, logger: logger}
}

// Supervisor returns the underlying supervisor.
func (e *Executor) Supervisor() *supervisor.Supervisor { return e.supervisor }

// Prepare parses the arguments and assembles the unit. The returned error
// is a *domain.Error of kind SyntaxError.
func (e *Executor) Prepare(req Request) (domain.ExecutionRequest, assemble.Unit, error) {
	name := strings.TrimSpace(req.FunctionName)
	if name == "" {
		name = e.config.FunctionName
	}
	parsed := domain.ExecutionRequest{
		ID:             uuid.NewString(),
		FunctionName:   name,
		ParameterNames: assemble.SplitParams(req.ParameterNames),
		BodySource:     req.BodySource,
	}

	vals, err := args.Parse(req.ArgumentsText)
	if err != nil {
		return parsed, assemble.Unit{}, err
	}
	parsed.Arguments = vals

	unit, err := assemble.Assemble(parsed.FunctionName, parsed.ParameterNames, parsed.BodySource)
	if err != nil {
		return parsed, assemble.Unit{}, err
	}
	return parsed, unit, nil
}

// Execute runs req to completion. Canceling ctx cancels the execution.
func (e *Executor) Execute(ctx context.Context, req Request) domain.Outcome {
	exec, err := e.Start(ctx, req)
	if err != nil {
		return domain.FailureFrom(err)
	}
	<-exec.Done()
	out, _ := exec.Outcome()
	return out
}

// Start begins executing req and returns its handle. Preparation failures
// are returned as errors and start nothing.
func (e *Executor) Start(ctx context.Context, req Request) (*supervisor.Execution, error) {
	parsed, unit, err := e.Prepare(req)
	if err != nil {
		e.logger.DebugContext(ctx, "request rejected before dispatch",
			slog.String("execution_id", parsed.ID),
			slog.String("kind", string(domain.KindOf(err))),
			slog.String("error", domain.MessageOf(err)),
		)
		return nil, err
	}
	return e.supervisor.Start(ctx, supervisor.Task{
		ID:   parsed.ID,
		Unit: unit,
		Args: parsed.Arguments,
	}), nil
}

// Preview returns the unit req would execute, without executing it.
func (e *Executor) Preview(req Request) (string, error) {
	_, unit, err := e.Prepare(req)
	if err != nil {
		return "", err
	}
	return unit.Source, nil
}
