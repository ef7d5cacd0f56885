package sandbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jkaninda/sandrun/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitMessage(t *testing.T, ch <-chan Message, within time.Duration) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(within):
		t.Fatalf("no message within %s", within)
		return Message{}
	}
}

func waitDone(t *testing.T, iso Isolate, within time.Duration) {
	t.Helper()
	select {
	case <-iso.Done():
	case <-time.After(within):
		t.Fatalf("isolate not released within %s", within)
	}
}

func TestInProcess_Dispatch(t *testing.T) {
	sbx := NewInProcessSandbox(InProcessConfig{}, discardLogger())
	iso, err := sbx.Spawn(context.Background())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer iso.Terminate()

	ch, err := iso.Dispatch(newJob(t, []string{"a", "b"}, "return a * b;", "6, 7"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	msg := waitMessage(t, ch, 5*time.Second)
	if !msg.OK || string(msg.Value) != "42" {
		t.Errorf("message = %+v, want 42", msg)
	}
	waitDone(t, iso, time.Second)
}

func TestInProcess_DispatchOnce(t *testing.T) {
	sbx := NewInProcessSandbox(InProcessConfig{}, discardLogger())
	iso, _ := sbx.Spawn(context.Background())
	defer iso.Terminate()

	if _, err := iso.Dispatch(newJob(t, nil, "return 1;", "")); err != nil {
		t.Fatalf("first Dispatch: %v", err)
	}
	if _, err := iso.Dispatch(newJob(t, nil, "return 2;", "")); !errors.Is(err, ErrAlreadyDispatched) {
		t.Errorf("second Dispatch err = %v, want %v", err, ErrAlreadyDispatched)
	}
}

func TestInProcess_TerminateInfiniteLoop(t *testing.T) {
	sbx := NewInProcessSandbox(InProcessConfig{}, discardLogger())
	iso, _ := sbx.Spawn(context.Background())

	ch, err := iso.Dispatch(newJob(t, nil, "while(true){}", ""))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	iso.Terminate()
	iso.Terminate() // idempotent
	waitDone(t, iso, 2*time.Second)

	msg := waitMessage(t, ch, time.Second)
	if msg.Kind != domain.KindTimeout {
		t.Errorf("kind = %s, want %s", msg.Kind, domain.KindTimeout)
	}
}

func TestInProcess_TerminateBeforeDispatch(t *testing.T) {
	sbx := NewInProcessSandbox(InProcessConfig{}, discardLogger())
	iso, _ := sbx.Spawn(context.Background())
	iso.Terminate()
	waitDone(t, iso, time.Second)

	if _, err := iso.Dispatch(newJob(t, nil, "return 1;", "")); !errors.Is(err, ErrTerminated) {
		t.Errorf("Dispatch after Terminate err = %v, want %v", err, ErrTerminated)
	}
}

func TestInProcess_Capacity(t *testing.T) {
	sbx := NewInProcessSandbox(InProcessConfig{MaxIsolates: 1}, discardLogger())
	first, err := sbx.Spawn(context.Background())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if _, err := sbx.Spawn(context.Background()); !errors.Is(err, ErrCapacity) {
		t.Fatalf("Spawn at capacity err = %v, want %v", err, ErrCapacity)
	}
	first.Terminate()
	waitDone(t, first, time.Second)

	second, err := sbx.Spawn(context.Background())
	if err != nil {
		t.Fatalf("Spawn after release: %v", err)
	}
	second.Terminate()
}

func TestInProcess_SpawnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewInProcessSandbox(InProcessConfig{}, discardLogger()).Spawn(ctx); err == nil {
		t.Error("Spawn with canceled context succeeded, want error")
	}
}

// State written by one execution is invisible to the next.
func TestInProcess_Isolation(t *testing.T) {
	sbx := NewInProcessSandbox(InProcessConfig{}, discardLogger())
	run := func(body string) Message {
		iso, err := sbx.Spawn(context.Background())
		if err != nil {
			t.Fatalf("Spawn: %v", err)
		}
		defer iso.Terminate()
		ch, err := iso.Dispatch(newJob(t, nil, body, ""))
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		return waitMessage(t, ch, 5*time.Second)
	}

	first := run("globalThis.shared = 'leaked'; Object.prototype.polluted = 1; Array.prototype.push = null; return 1;")
	if !first.OK {
		t.Fatalf("first run: %s", first.Error)
	}
	second := run("const a = []; a.push(1); return [typeof shared, typeof ({}).polluted, a.length];")
	if !second.OK {
		t.Fatalf("second run: %s", second.Error)
	}
	if string(second.Value) != `["undefined","undefined",1]` {
		t.Errorf("second run saw %s, want no leaked state", second.Value)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		typ  string
		want string
	}{
		{"", TypeInProcess},
		{TypeInProcess, TypeInProcess},
		{TypeProcess, TypeProcess},
		{TypeDocker, TypeDocker},
	}
	for _, tt := range tests {
		sbx, err := New(Config{Type: tt.typ}, discardLogger())
		if err != nil {
			t.Fatalf("New(%q): %v", tt.typ, err)
		}
		if sbx.Type() != tt.want {
			t.Errorf("New(%q).Type() = %q, want %q", tt.typ, sbx.Type(), tt.want)
		}
	}
	if _, err := New(Config{Type: "vm"}, discardLogger()); err == nil {
		t.Error("New(vm) succeeded, want error")
	}
}
