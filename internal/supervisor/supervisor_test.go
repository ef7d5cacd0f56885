package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jkaninda/sandrun/internal/args"
	"github.com/jkaninda/sandrun/internal/assemble"
	"github.com/jkaninda/sandrun/internal/domain"
	"github.com/jkaninda/sandrun/internal/sandbox"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTask(t *testing.T, params, body, argsText string) Task {
	t.Helper()
	unit, err := assemble.Assemble(assemble.DefaultFunctionName, assemble.SplitParams(params), body)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	vals, err := args.Parse(argsText)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return Task{Unit: unit, Args: vals}
}

func newSupervisor(deadline time.Duration) *Supervisor {
	sbx := sandbox.NewInProcessSandbox(sandbox.InProcessConfig{}, discardLogger())
	return New(sbx, Config{Deadline: deadline, TeardownGrace: time.Second}, discardLogger())
}

func valueJSON(t *testing.T, out domain.Outcome) string {
	t.Helper()
	if !out.OK() {
		t.Fatalf("outcome = %v, want success", out)
	}
	b, err := out.ValueJSON()
	if err != nil {
		t.Fatalf("ValueJSON: %v", err)
	}
	return string(b)
}

func TestRun_Success(t *testing.T) {
	s := newSupervisor(5 * time.Second)
	out := s.Run(context.Background(), newTask(t, "n", "let s=0; for(let i=1;i<=n;i++) s+=i; return s;", "10"))
	if got := valueJSON(t, out); got != "55" {
		t.Errorf("value = %s, want 55", got)
	}
	if out.Duration() <= 0 {
		t.Errorf("Duration() = %s, want > 0", out.Duration())
	}
	if live := s.Live(); live != 0 {
		t.Errorf("Live() = %d after completion, want 0", live)
	}
}

func TestRun_Failures(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		kind    domain.Kind
		message string
	}{
		{"runtime error", "throw new Error('boom'); return 1;", domain.KindRuntime, "boom"},
		{"serialization error", "return (function(){let o={}; o.self=o; return o;})();", domain.KindSerialization, "cyclic"},
		{"syntax error in body", "return );", domain.KindSyntax, ""},
	}
	s := newSupervisor(5 * time.Second)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := s.Run(context.Background(), newTask(t, "", tt.body, ""))
			if out.OK() || out.Kind() != tt.kind {
				t.Fatalf("outcome = %v, want %s", out, tt.kind)
			}
			if !strings.Contains(out.Message(), tt.message) {
				t.Errorf("message = %q, want it to contain %q", out.Message(), tt.message)
			}
			if tt.kind == domain.KindRuntime && out.Message() != tt.message {
				t.Errorf("message = %q, want exactly %q", out.Message(), tt.message)
			}
		})
	}
	if live := s.Live(); live != 0 {
		t.Errorf("Live() = %d, want 0", live)
	}
}

func TestRun_Timeout(t *testing.T) {
	const deadline = 300 * time.Millisecond
	s := newSupervisor(deadline)

	start := time.Now()
	e := s.Start(context.Background(), newTask(t, "", "while(true){}", ""))
	<-e.Done()
	elapsed := time.Since(start)

	out, ok := e.Outcome()
	if !ok || out.Kind() != domain.KindTimeout {
		t.Fatalf("outcome = %v, want %s", out, domain.KindTimeout)
	}
	if !strings.Contains(out.Message(), "deadline") {
		t.Errorf("message = %q, want deadline message", out.Message())
	}
	if elapsed < deadline || elapsed > deadline+500*time.Millisecond {
		t.Errorf("resolved after %s, want within [%s, %s]", elapsed, deadline, deadline+500*time.Millisecond)
	}
	if got := e.Resolution(); got != StateTimedOut {
		t.Errorf("Resolution() = %s, want %s", got, StateTimedOut)
	}
	if got := e.State(); got != StateTornDown {
		t.Errorf("State() = %s, want %s", got, StateTornDown)
	}
	if live := s.Live(); live != 0 {
		t.Errorf("Live() = %d after timeout, want 0", live)
	}
}

func TestExecution_Cancel(t *testing.T) {
	s := newSupervisor(10 * time.Second)
	e := s.Start(context.Background(), newTask(t, "", "while(true){}", ""))

	time.Sleep(50 * time.Millisecond)
	if _, ok := e.Outcome(); ok {
		t.Fatal("Outcome() available before resolution")
	}
	start := time.Now()
	e.Cancel()

	out, err := e.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("cancel took %s", time.Since(start))
	}
	if out.Kind() != domain.KindTimeout || !strings.Contains(out.Message(), "canceled by caller") {
		t.Errorf("outcome = %v, want cancellation", out)
	}
	if got := e.Resolution(); got != StateCanceled {
		t.Errorf("Resolution() = %s, want %s", got, StateCanceled)
	}
	if live := s.Live(); live != 0 {
		t.Errorf("Live() = %d after cancel, want 0", live)
	}
}

func TestRun_ContextCanceled(t *testing.T) {
	s := newSupervisor(10 * time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	out := s.Run(ctx, newTask(t, "", "while(true){}", ""))
	if out.Kind() != domain.KindTimeout || !strings.Contains(out.Message(), "canceled") {
		t.Errorf("outcome = %v, want cancellation", out)
	}
}

func TestRun_AlreadyCanceledSpawnsNothing(t *testing.T) {
	fake := &fakeSandbox{}
	s := New(fake, Config{}, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := s.Run(ctx, newTask(t, "", "return 1;", ""))
	if out.Kind() != domain.KindTimeout {
		t.Errorf("outcome = %v, want cancellation", out)
	}
	if n := fake.spawned.Load(); n != 0 {
		t.Errorf("spawned %d isolates, want 0", n)
	}
}

// Repeated polling never observes a second, different outcome.
func TestExecution_SingleOutcome(t *testing.T) {
	reply := sandbox.Message{OK: true, Value: []byte("1")}
	fake := &fakeSandbox{newIsolate: func() *fakeIsolate {
		return &fakeIsolate{reply: &reply, delay: 20 * time.Millisecond, lateReply: true, releaseOnTerminate: true}
	}}
	s := New(fake, Config{Deadline: 200 * time.Millisecond}, discardLogger())
	e := s.Start(context.Background(), newTask(t, "", "return 1;", ""))

	first, err := e.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	e.Cancel()
	for i := 0; i < 100; i++ {
		got, ok := e.Outcome()
		if !ok || got.String() != first.String() {
			t.Fatalf("poll %d = %v, want %v", i, got, first)
		}
	}
}

// A reply arriving after the deadline is discarded.
func TestRun_LateReplyIgnored(t *testing.T) {
	reply := sandbox.Message{OK: true, Value: []byte("1")}
	iso := &fakeIsolate{reply: &reply, delay: 300 * time.Millisecond, lateReply: true, releaseOnTerminate: true}
	fake := &fakeSandbox{newIsolate: func() *fakeIsolate { return iso }}
	s := New(fake, Config{Deadline: 50 * time.Millisecond}, discardLogger())

	e := s.Start(context.Background(), newTask(t, "", "return 1;", ""))
	<-e.Done()
	time.Sleep(400 * time.Millisecond)

	out, _ := e.Outcome()
	if out.Kind() != domain.KindTimeout {
		t.Errorf("outcome = %v, want %s", out, domain.KindTimeout)
	}
	if n := iso.terminations.Load(); n != 1 {
		t.Errorf("Terminate called %d times, want 1", n)
	}
}

func TestRun_SpawnFailure(t *testing.T) {
	fake := &fakeSandbox{spawnErr: sandbox.ErrCapacity}
	s := New(fake, Config{}, discardLogger())
	e := s.Start(context.Background(), newTask(t, "", "return 1;", ""))
	<-e.Done()

	out, _ := e.Outcome()
	if out.Kind() != domain.KindHost || !strings.Contains(out.Message(), "capacity") {
		t.Errorf("outcome = %v, want HostError", out)
	}
	if got := e.Resolution(); got != StateErrored {
		t.Errorf("Resolution() = %s, want %s", got, StateErrored)
	}
}

func TestRun_DispatchFailure(t *testing.T) {
	iso := &fakeIsolate{dispatchErr: errors.New("pipe closed"), releaseOnTerminate: true}
	fake := &fakeSandbox{newIsolate: func() *fakeIsolate { return iso }}
	s := New(fake, Config{}, discardLogger())

	out := s.Run(context.Background(), newTask(t, "", "return 1;", ""))
	if out.Kind() != domain.KindHost || !strings.Contains(out.Message(), "pipe closed") {
		t.Errorf("outcome = %v, want HostError", out)
	}
	if n := iso.terminations.Load(); n != 1 {
		t.Errorf("Terminate called %d times, want 1", n)
	}
	if live := s.Live(); live != 0 {
		t.Errorf("Live() = %d, want 0", live)
	}
}

// An isolate that ignores Terminate still yields a timely outcome.
func TestRun_StuckIsolateBoundedTeardown(t *testing.T) {
	iso := &fakeIsolate{}
	fake := &fakeSandbox{newIsolate: func() *fakeIsolate { return iso }}
	s := New(fake, Config{Deadline: 50 * time.Millisecond, TeardownGrace: 50 * time.Millisecond}, discardLogger())

	start := time.Now()
	out := s.Run(context.Background(), newTask(t, "", "return 1;", ""))
	if out.Kind() != domain.KindTimeout {
		t.Errorf("outcome = %v, want %s", out, domain.KindTimeout)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Run took %s with a stuck isolate", elapsed)
	}
	if live := s.Live(); live != 1 {
		t.Errorf("Live() = %d, want the stuck isolate still counted", live)
	}
	iso.release()
	deadline := time.Now().Add(time.Second)
	for s.Live() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if live := s.Live(); live != 0 {
		t.Errorf("Live() = %d after release, want 0", live)
	}
}

func TestRun_Concurrent(t *testing.T) {
	s := newSupervisor(5 * time.Second)
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		task := newTask(t, "x", "globalThis.seen = (globalThis.seen || 0) + 1; return [x * 2, globalThis.seen];", fmt.Sprint(i))
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			out := s.Run(context.Background(), task)
			b, err := out.ValueJSON()
			if err != nil {
				errs <- err
				return
			}
			if want := fmt.Sprintf("[%d,1]", i*2); string(b) != want {
				errs <- fmt.Errorf("run %d = %s, want %s", i, b, want)
			}
		}(i, task)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if live := s.Live(); live != 0 {
		t.Errorf("Live() = %d, want 0", live)
	}
}

func TestDrain(t *testing.T) {
	s := newSupervisor(200 * time.Millisecond)
	s.Start(context.Background(), newTask(t, "", "while(true){}", ""))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if live := s.Live(); live != 0 {
		t.Errorf("Live() = %d after Drain, want 0", live)
	}
}

func TestStateString(t *testing.T) {
	for st := StateIdle; st <= StateTornDown; st++ {
		if st.String() == "unknown" {
			t.Errorf("State(%d) has no name", st)
		}
	}
}

// --- fakes ---

type fakeSandbox struct {
	spawnErr   error
	newIsolate func() *fakeIsolate
	spawned    atomic.Int32
}

func (f *fakeSandbox) Type() string { return "fake" }

func (f *fakeSandbox) Spawn(ctx context.Context) (sandbox.Isolate, error) {
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	f.spawned.Add(1)
	iso := &fakeIsolate{releaseOnTerminate: true}
	if f.newIsolate != nil {
		iso = f.newIsolate()
	}
	iso.init()
	return iso, nil
}

type fakeIsolate struct {
	reply              *sandbox.Message // nil = never reply
	delay              time.Duration
	lateReply          bool // reply even after Terminate
	dispatchErr        error
	releaseOnTerminate bool

	initOnce     sync.Once
	done         chan struct{}
	releaseOnce  sync.Once
	terminated   atomic.Bool
	terminations atomic.Int32
}

func (f *fakeIsolate) init() {
	f.initOnce.Do(func() { f.done = make(chan struct{}) })
}

func (f *fakeIsolate) Dispatch(job sandbox.Job) (<-chan sandbox.Message, error) {
	if f.dispatchErr != nil {
		return nil, f.dispatchErr
	}
	ch := make(chan sandbox.Message, 1)
	if f.reply != nil {
		go func() {
			time.Sleep(f.delay)
			if f.lateReply || !f.terminated.Load() {
				ch <- *f.reply
			}
		}()
	}
	return ch, nil
}

func (f *fakeIsolate) Terminate() {
	f.terminations.Add(1)
	f.terminated.Store(true)
	if f.releaseOnTerminate {
		f.release()
	}
}

func (f *fakeIsolate) Done() <-chan struct{} { return f.done }

func (f *fakeIsolate) release() {
	f.releaseOnce.Do(func() { close(f.done) })
}
