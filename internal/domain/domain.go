// Package domain defines the entity and value types shared by the execution
// core and its gateways.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionRequest is one invocation of a user-authored function.
// It is built once by the caller-facing layer and never mutated afterwards.
type ExecutionRequest struct {
	ID             string
	FunctionName   string
	ParameterNames []string
	BodySource     string // Opaque code. Only the isolate interprets it.
	Arguments      []any  // Already-parsed positional arguments.
}

// Function is a saved function definition. Only the definition is stored;
// outcomes of running it are never persisted.
type Function struct {
	ID             uuid.UUID
	Name           string
	Description    string
	FunctionName   string
	ParameterNames string // Comma-separated, as typed by the user (e.g. "a, b").
	BodySource     string
	ArgumentsText  string // Default arguments used when a run supplies none.
	Schedule       string // Cron expression for periodic runs. Empty = on demand only.
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
