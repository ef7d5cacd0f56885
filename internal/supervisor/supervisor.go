// Package supervisor owns the lifecycle of one isolate per execution: it
// dispatches the job, races the isolate's reply against the deadline and
// caller cancellation, latches the first resolution and tears the isolate
// down exactly once on every path.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/sandrun/internal/args"
	"github.com/jkaninda/sandrun/internal/assemble"
	"github.com/jkaninda/sandrun/internal/domain"
	"github.com/jkaninda/sandrun/internal/sandbox"
)

const (
	DefaultDeadline      = 10 * time.Second
	DefaultTeardownGrace = 250 * time.Millisecond
)

// ErrCanceled is the cancellation cause recorded by Execution.Cancel.
var ErrCanceled = errors.New("canceled by caller")

// Config configures a Supervisor.
type Config struct {
	Deadline      time.Duration // Wall-clock budget per execution.
	TeardownGrace time.Duration // How long teardown waits for an isolate to release.
	Limits        sandbox.Limits
}

// Task is an assembled unit plus its parsed arguments.
type Task struct {
	ID   string
	Unit assemble.Unit
	Args []any
}

// Supervisor runs tasks, one isolate each.
type Supervisor struct {
	sandbox sandbox.Sandbox
	config  Config
	logger  *slog.Logger

	live     atomic.Int64
	inflight sync.WaitGroup
}

// New creates a Supervisor over sbx.
func New(sbx sandbox.Sandbox, cfg Config, logger *slog.Logger) *Supervisor {
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	if cfg.TeardownGrace <= 0 {
		cfg.TeardownGrace = DefaultTeardownGrace
	}
	return &Supervisor{sandbox: sbx, config: cfg, logger: logger}
}

// Deadline reports the per-execution deadline.
func (s *Supervisor) Deadline() time.Duration { return s.config.Deadline }

// SandboxType reports the isolate backend in use.
func (s *Supervisor) SandboxType() string { return s.sandbox.Type() }

// Live reports isolates that have been created and not yet released.
func (s *Supervisor) Live() int64 { return s.live.Load() }

// Run executes task and blocks until its outcome is available. Canceling
// ctx cancels the execution.
func (s *Supervisor) Run(ctx context.Context, task Task) domain.Outcome {
	e := s.Start(ctx, task)
	<-e.Done()
	out, _ := e.Outcome()
	return out
}

// Start begins executing task and returns immediately. The execution is
// canceled when ctx is done or Cancel is called, whichever comes first.
func (s *Supervisor) Start(ctx context.Context, task Task) *Execution {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	ctx, cancel := context.WithCancelCause(ctx)
	e := &Execution{
		id:     task.ID,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer cancel(nil)
		s.supervise(ctx, e, task)
	}()
	return e
}

// Drain waits for every started execution to finish or for ctx to end.
func (s *Supervisor) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) supervise(ctx context.Context, e *Execution, task Task) {
	start := time.Now()
	var (
		iso     sandbox.Isolate
		release func()
		timer   *time.Timer
		state   State
		out     domain.Outcome
	)

	// Teardown runs once, after resolution and before the outcome is
	// published, so an observer never sees an outcome while the isolate
	// still holds resources.
	defer func() {
		if r := recover(); r != nil {
			state, out = StateErrored, domain.Failure(domain.KindHost, fmt.Sprintf("supervisor panic: %v", r))
		}
		s.teardown(task.ID, iso, release, timer)
		out = out.WithDuration(time.Since(start))
		e.publish(state, out)
		s.logOutcome(task.ID, state, out)
	}()

	if err := context.Cause(ctx); err != nil {
		state, out = StateCanceled, canceled(err)
		return
	}

	rawArgs, err := args.Encode(task.Args)
	if err != nil {
		state, out = StateErrored, domain.Failure(domain.KindHost, err.Error())
		return
	}

	iso, err = s.sandbox.Spawn(ctx)
	if err != nil {
		state, out = StateErrored, domain.Failure(domain.KindHost, "creating isolate: "+err.Error())
		return
	}
	release = s.track(iso)

	timer = time.NewTimer(s.config.Deadline)
	replies, err := iso.Dispatch(sandbox.Job{
		Unit:         task.Unit.Source,
		FunctionName: task.Unit.FunctionName,
		Args:         rawArgs,
		Limits:       s.config.Limits,
	})
	if err != nil {
		state, out = StateErrored, domain.Failure(domain.KindHost, "dispatching to isolate: "+err.Error())
		return
	}
	e.state.Store(int32(StateDispatched))

	select {
	case msg := <-replies:
		state, out = StateCompleted, msg.Outcome()
	case <-timer.C:
		state, out = StateTimedOut, domain.Failure(domain.KindTimeout,
			fmt.Sprintf("execution exceeded the %s deadline", s.config.Deadline))
	case <-ctx.Done():
		state, out = StateCanceled, canceled(context.Cause(ctx))
	}
}

// track counts iso as live until it reports its resources released. The
// returned func uncounts it; it is idempotent.
func (s *Supervisor) track(iso sandbox.Isolate) func() {
	s.live.Add(1)
	release := sync.OnceFunc(func() { s.live.Add(-1) })
	go func() {
		<-iso.Done()
		release()
	}()
	return release
}

// teardown destroys the isolate, releases the timer and detaches the reply
// channel by no longer reading from it. It waits a bounded time for release.
func (s *Supervisor) teardown(id string, iso sandbox.Isolate, release func(), timer *time.Timer) {
	if timer != nil {
		timer.Stop()
	}
	if iso == nil {
		return
	}
	iso.Terminate()

	grace := time.NewTimer(s.config.TeardownGrace)
	defer grace.Stop()
	select {
	case <-iso.Done():
		release()
	case <-grace.C:
		s.logger.Warn("isolate not released within teardown grace",
			slog.String("execution_id", id),
			slog.Duration("grace", s.config.TeardownGrace),
		)
	}
}

func (s *Supervisor) logOutcome(id string, state State, out domain.Outcome) {
	attrs := []any{
		slog.String("execution_id", id),
		slog.String("state", state.String()),
		slog.String("sandbox", s.sandbox.Type()),
		slog.Duration("duration", out.Duration()),
	}
	if out.OK() {
		s.logger.Info("execution completed", attrs...)
		return
	}
	attrs = append(attrs, slog.String("kind", string(out.Kind())), slog.String("error", out.Message()))
	s.logger.Warn("execution failed", attrs...)
}

func canceled(cause error) domain.Outcome {
	if cause == nil {
		cause = context.Canceled
	}
	return domain.Failure(domain.KindTimeout, "execution canceled: "+cause.Error())
}
