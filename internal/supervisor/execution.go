package supervisor

import (
	"context"
	"sync/atomic"

	"github.com/jkaninda/sandrun/internal/domain"
)

// State is a step of the execution lifecycle.
//
//	Idle -> Dispatched -> Completed | TimedOut | Canceled | Errored -> TornDown
//
// Errored is also reachable straight from Idle when the isolate cannot be
// created or dispatched to.
type State int32

const (
	StateIdle State = iota
	StateDispatched
	StateCompleted
	StateTimedOut
	StateCanceled
	StateErrored
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatched:
		return "dispatched"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateCanceled:
		return "canceled"
	case StateErrored:
		return "errored"
	case StateTornDown:
		return "torn_down"
	default:
		return "unknown"
	}
}

// Execution is the handle to one supervised run.
type Execution struct {
	id     string
	state  atomic.Int32
	cancel context.CancelCauseFunc

	// resolution is the terminal state reached before teardown.
	resolution State
	outcome    domain.Outcome
	done       chan struct{}
}

// ID returns the execution id.
func (e *Execution) ID() string { return e.id }

// State returns the current lifecycle state.
func (e *Execution) State() State { return State(e.state.Load()) }

// Done is closed once the outcome is available and the isolate torn down.
func (e *Execution) Done() <-chan struct{} { return e.done }

// Outcome returns the outcome without blocking. The second result is false
// while the execution is still running. Once true, every call returns the
// same outcome.
func (e *Execution) Outcome() (domain.Outcome, bool) {
	select {
	case <-e.done:
		return e.outcome, true
	default:
		return domain.Outcome{}, false
	}
}

// Resolution returns the terminal state the execution resolved to, or
// StateIdle while it is still running.
func (e *Execution) Resolution() State {
	select {
	case <-e.done:
		return e.resolution
	default:
		return StateIdle
	}
}

// Wait blocks until the outcome is available or ctx ends. Giving up waiting
// does not cancel the execution.
func (e *Execution) Wait(ctx context.Context) (domain.Outcome, error) {
	select {
	case <-e.done:
		return e.outcome, nil
	case <-ctx.Done():
		return domain.Outcome{}, ctx.Err()
	}
}

// Cancel requests cancellation. It has no effect once the execution has
// resolved.
func (e *Execution) Cancel() {
	e.cancel(ErrCanceled)
}

func (e *Execution) publish(resolution State, out domain.Outcome) {
	e.resolution = resolution
	e.outcome = out
	e.state.Store(int32(StateTornDown))
	close(e.done)
}
