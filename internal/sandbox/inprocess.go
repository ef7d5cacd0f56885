package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// InProcessConfig configures the in-process sandbox.
type InProcessConfig struct {
	// MaxIsolates caps concurrently live isolates. Zero = unlimited.
	MaxIsolates int
}

// InProcessSandbox runs each isolate on its own goroutine with a private
// goja runtime. Termination interrupts the runtime, which user code cannot
// catch. It offers no memory bound; use the process or docker backend for
// hostile workloads.
type InProcessSandbox struct {
	slots  chan struct{}
	logger *slog.Logger
}

// NewInProcessSandbox creates an in-process sandbox.
func NewInProcessSandbox(cfg InProcessConfig, logger *slog.Logger) *InProcessSandbox {
	s := &InProcessSandbox{logger: logger}
	if cfg.MaxIsolates > 0 {
		s.slots = make(chan struct{}, cfg.MaxIsolates)
	}
	return s
}

func (s *InProcessSandbox) Type() string { return TypeInProcess }

// Spawn reserves capacity for one isolate. The runtime itself is built on
// Dispatch, when the job's limits are known.
func (s *InProcessSandbox) Spawn(ctx context.Context) (Isolate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	release := func() {}
	if s.slots != nil {
		select {
		case s.slots <- struct{}{}:
			release = func() { <-s.slots }
		default:
			return nil, fmt.Errorf("%w (%d live)", ErrCapacity, cap(s.slots))
		}
	}
	return &inProcessIsolate{
		release: release,
		done:    make(chan struct{}),
		logger:  s.logger,
	}, nil
}

type inProcessIsolate struct {
	mu         sync.Mutex
	vm         *VM
	dispatched bool
	terminated bool

	release    func()
	finishOnce sync.Once
	done       chan struct{}
	logger     *slog.Logger
}

func (i *inProcessIsolate) Dispatch(job Job) (<-chan Message, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	switch {
	case i.terminated:
		return nil, ErrTerminated
	case i.dispatched:
		return nil, ErrAlreadyDispatched
	}

	vm, err := NewVM(job.Limits)
	if err != nil {
		return nil, fmt.Errorf("creating runtime: %w", err)
	}
	i.vm = vm
	i.dispatched = true

	out := make(chan Message, 1)
	go func() {
		defer i.finish()
		out <- run(vm, job)
	}()
	return out, nil
}

func (i *inProcessIsolate) Terminate() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.terminated {
		return
	}
	i.terminated = true
	if !i.dispatched {
		i.finish()
		return
	}
	i.vm.Interrupt("isolate terminated")
}

func (i *inProcessIsolate) Done() <-chan struct{} { return i.done }

func (i *inProcessIsolate) finish() {
	i.finishOnce.Do(func() {
		i.release()
		close(i.done)
	})
}
