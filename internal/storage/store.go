// Package storage defines the saved-function library. Only function
// definitions are persisted; execution outcomes never are.
// Two backends are provided: SQLite (default, zero-config) and PostgreSQL.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/jkaninda/sandrun/internal/domain"
)

var (
	// ErrNotFound is returned when no function has the requested id.
	ErrNotFound = errors.New("function not found")
	// ErrInvalidFunction is returned for definitions that can never be run.
	ErrInvalidFunction = errors.New("invalid function definition")
)

// Store is the persistence boundary used by the gateways.
// Both SQLite and PostgreSQL backends implement it.
type Store interface {
	Functions() FunctionStore

	// Ping checks the connection for readiness probes.
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// FunctionStore persists saved function definitions.
type FunctionStore interface {
	Create(ctx context.Context, fn *domain.Function) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Function, error)
	List(ctx context.Context, opts ListOptions) ([]domain.Function, error)
	Update(ctx context.Context, fn *domain.Function) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ListOptions pages through List results, newest first.
type ListOptions struct {
	CreatedBy string // Empty lists every caller's functions.
	Scheduled bool   // Only functions with a schedule.
	Limit     int    // 0 = DefaultListLimit.
	Offset    int
}

// DefaultListLimit caps a List call when no limit is given.
const DefaultListLimit = 100

// PageSize returns the effective limit.
func (o ListOptions) PageSize() int {
	if o.Limit <= 0 || o.Limit > DefaultListLimit {
		return DefaultListLimit
	}
	return o.Limit
}

// Validate rejects definitions with no name or body.
func Validate(fn *domain.Function) error {
	switch {
	case fn == nil:
		return ErrInvalidFunction
	case fn.Name == "":
		return errors.Join(ErrInvalidFunction, errors.New("name is required"))
	case fn.BodySource == "":
		return errors.Join(ErrInvalidFunction, errors.New("body_source is required"))
	}
	if fn.Schedule != "" {
		if _, err := cron.ParseStandard(fn.Schedule); err != nil {
			return errors.Join(ErrInvalidFunction, fmt.Errorf("schedule %q: %w", fn.Schedule, err))
		}
	}
	return nil
}

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"
