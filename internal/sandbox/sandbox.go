// Package sandbox provides the isolation boundary for user code. Every
// execution gets a fresh, disposable Isolate that is never reused.
//
// Three backends share one wire protocol (Job in, exactly one Message out):
//   - inprocess: a goroutine owning a private goja runtime
//   - process:   a re-exec of this binary in its own process group
//   - docker:    the same child entry point inside a hardened container
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jkaninda/sandrun/internal/domain"
	"github.com/jkaninda/sandrun/internal/serialize"
)

const (
	TypeInProcess = "inprocess"
	TypeProcess   = "process"
	TypeDocker    = "docker"
)

var (
	// ErrAlreadyDispatched is returned by a second Dispatch on one isolate.
	ErrAlreadyDispatched = errors.New("isolate already dispatched")
	// ErrTerminated is returned by Dispatch after Terminate.
	ErrTerminated = errors.New("isolate terminated")
	// ErrCapacity is returned by Spawn when the isolate limit is reached.
	ErrCapacity = errors.New("isolate capacity exhausted")
)

// Sandbox creates isolates.
type Sandbox interface {
	// Spawn creates a new isolate. A failure here is a host fault.
	Spawn(ctx context.Context) (Isolate, error)
	// Type reports the backend name.
	Type() string
}

// Isolate is one disposable execution context. It accepts exactly one Job.
type Isolate interface {
	// Dispatch starts the job and returns a channel that yields exactly one
	// Message. The channel is buffered; the isolate never blocks on it.
	Dispatch(job Job) (<-chan Message, error)
	// Terminate forcibly destroys the isolate. It is idempotent and safe to
	// call at any time, including before Dispatch.
	Terminate()
	// Done is closed once every resource held by the isolate is released.
	Done() <-chan struct{}
}

// Job is the request sent across the isolation boundary.
type Job struct {
	Unit         string          `json:"unit"`
	FunctionName string          `json:"function_name"`
	Args         json.RawMessage `json:"args"` // JSON array of positional arguments.
	Limits       Limits          `json:"limits"`
}

// Message is the single reply from an isolate.
type Message struct {
	OK    bool            `json:"ok"`
	Value json.RawMessage `json:"value,omitempty"`
	Kind  domain.Kind     `json:"kind,omitempty"`
	Error string          `json:"error,omitempty"`
	Logs  []string        `json:"logs,omitempty"`
}

// Outcome converts m into a domain outcome.
func (m Message) Outcome() domain.Outcome {
	var out domain.Outcome
	if m.OK {
		v := m.Value
		if len(v) == 0 {
			v = json.RawMessage("null")
		}
		out = domain.Success(v)
	} else {
		kind := m.Kind
		if !kind.Valid() {
			kind = domain.KindHost
		}
		out = domain.Failure(kind, m.Error)
	}
	return out.WithLogs(m.Logs)
}

func failure(err error) Message {
	return Message{Kind: domain.KindOf(err), Error: domain.MessageOf(err)}
}

// Limits constrain what user code may consume inside a VM.
type Limits struct {
	MaxCallStackSize int               `json:"max_call_stack_size,omitempty"`
	MaxLogLines      int               `json:"max_log_lines,omitempty"`
	MaxLogBytes      int               `json:"max_log_bytes,omitempty"`
	Serialize        serialize.Options `json:"serialize"`
}

const (
	defaultMaxCallStackSize = 4096
	defaultMaxLogLines      = 100
	defaultMaxLogBytes      = 64 << 10
)

func (l Limits) withDefaults() Limits {
	if l.MaxCallStackSize <= 0 {
		l.MaxCallStackSize = defaultMaxCallStackSize
	}
	if l.MaxLogLines <= 0 {
		l.MaxLogLines = defaultMaxLogLines
	}
	if l.MaxLogBytes <= 0 {
		l.MaxLogBytes = defaultMaxLogBytes
	}
	return l
}

// Config selects and configures a backend.
type Config struct {
	Type        string
	MaxIsolates int // inprocess only; 0 = unlimited.
	Process     ProcessConfig
	Docker      DockerConfig
}

// New builds the sandbox named by cfg.Type. Empty means inprocess.
func New(cfg Config, logger *slog.Logger) (Sandbox, error) {
	switch cfg.Type {
	case "", TypeInProcess:
		return NewInProcessSandbox(InProcessConfig{MaxIsolates: cfg.MaxIsolates}, logger), nil
	case TypeProcess:
		return NewProcessSandbox(cfg.Process, logger), nil
	case TypeDocker:
		return NewDockerSandbox(cfg.Docker, logger), nil
	default:
		return nil, fmt.Errorf("unknown sandbox type %q", cfg.Type)
	}
}
