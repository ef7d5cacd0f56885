package sandbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/jkaninda/sandrun/internal/domain"
)

const (
	// maxOutputBytes caps what a child may write back to prevent OOM.
	maxOutputBytes = 16 << 20 // 16 MB

	// maxStderrBytes keeps enough diagnostics to explain a crash.
	maxStderrBytes = 64 << 10
)

// commandIsolate is an isolate backed by a child process speaking the
// Job/Message protocol on stdin/stdout. Process and docker backends differ
// only in how the command is built and killed.
type commandIsolate struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  bytes.Buffer
	stderr  bytes.Buffer
	kill    func() error
	cleanup func()
	logger  *slog.Logger

	mu         sync.Mutex
	dispatched bool
	terminated bool
	exited     bool
	out        chan Message

	terminateOnce sync.Once
	done          chan struct{}
}

// startCommandIsolate starts cmd and returns the isolate wrapping it.
// cleanup runs exactly once after the process has exited.
func startCommandIsolate(cmd *exec.Cmd, kill func() error, cleanup func(), logger *slog.Logger) (*commandIsolate, error) {
	iso := &commandIsolate{
		cmd:     cmd,
		kill:    kill,
		cleanup: cleanup,
		logger:  logger,
		done:    make(chan struct{}),
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	iso.stdin = stdin
	cmd.Stdout = &limitedWriter{w: &iso.stdout, remaining: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &iso.stderr, remaining: maxStderrBytes}

	if err := cmd.Start(); err != nil {
		cleanup()
		return nil, fmt.Errorf("starting isolate process: %w", err)
	}
	go iso.wait()
	return iso, nil
}

func (i *commandIsolate) Dispatch(job Job) (<-chan Message, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encoding job: %w", err)
	}

	i.mu.Lock()
	switch {
	case i.terminated:
		i.mu.Unlock()
		return nil, ErrTerminated
	case i.dispatched:
		i.mu.Unlock()
		return nil, ErrAlreadyDispatched
	case i.exited:
		i.mu.Unlock()
		return nil, fmt.Errorf("isolate process exited before dispatch: %s", firstLine(i.stderr.String()))
	}
	i.dispatched = true
	i.out = make(chan Message, 1)
	out := i.out
	i.mu.Unlock()

	// The child reads all of stdin before running, so a write can only block
	// while the child is alive; Terminate unblocks it.
	go func() {
		_, _ = i.stdin.Write(payload)
		_ = i.stdin.Close()
	}()
	return out, nil
}

func (i *commandIsolate) Terminate() {
	i.terminateOnce.Do(func() {
		i.mu.Lock()
		i.terminated = true
		exited := i.exited
		i.mu.Unlock()
		if exited {
			return
		}
		if err := i.kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			i.logger.Warn("failed to kill isolate process",
				slog.Int("pid", i.cmd.Process.Pid),
				slog.String("error", err.Error()),
			)
		}
	})
}

func (i *commandIsolate) Done() <-chan struct{} { return i.done }

func (i *commandIsolate) wait() {
	waitErr := i.cmd.Wait()
	i.cleanup()

	i.mu.Lock()
	i.exited = true
	out := i.out
	terminated := i.terminated
	i.mu.Unlock()

	if out != nil {
		out <- i.message(waitErr, terminated)
	}
	close(i.done)
}

// message interprets the child's output once it has exited.
func (i *commandIsolate) message(waitErr error, terminated bool) Message {
	if terminated {
		return failure(errInterrupted)
	}
	var msg Message
	if err := json.Unmarshal(bytes.TrimSpace(i.stdout.Bytes()), &msg); err == nil && (msg.OK || msg.Kind.Valid()) {
		return msg
	}

	detail := firstLine(i.stderr.String())
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		// 125: docker could not create the container. 126/127: the shell
		// could not execute the isolate binary.
		if code := exitErr.ExitCode(); code >= 125 && code <= 127 {
			return failure(domain.Errorf(domain.KindHost, "isolate could not be started: %s", detail))
		}
		return failure(domain.Errorf(domain.KindRuntime, "isolate process exited abnormally (%s): %s", exitErr.String(), detail))
	}
	if waitErr != nil {
		return failure(domain.Errorf(domain.KindHost, "waiting for isolate process: %s", waitErr.Error()))
	}
	return failure(domain.Errorf(domain.KindHost, "isolate process produced no result: %s", detail))
}

// firstLine returns the first line of a child's stderr, which is where the
// shell and the Go runtime put the reason for a crash.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 512 {
		s = s[:512]
	}
	if s == "" {
		return "no diagnostics"
	}
	return strings.ToValidUTF8(s, "")
}

// limitedWriter wraps a writer and stops writing after a byte limit.
// Excess data is silently discarded (not an error, just capped).
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.remaining <= 0 {
		return n, nil
	}
	if len(p) > lw.remaining {
		p = p[:lw.remaining]
	}
	written, err := lw.w.Write(p)
	lw.remaining -= written
	if err != nil {
		return written, err
	}
	return n, nil
}
