package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

const (
	defaultCPUSeconds = 30
	defaultMemoryMB   = 512
)

// ResourceLimits constrains an isolate process.
type ResourceLimits struct {
	MaxCPUSeconds int // CPU time limit (ulimit -t).
	MaxMemoryMB   int // Virtual memory limit in MB (ulimit -v). Negative disables it.
}

// ProcessConfig configures the process-based sandbox.
type ProcessConfig struct {
	// Executable is the binary serving the isolate protocol. Empty = this binary.
	Executable string
	// Args follow Executable. Nil = ["isolate"].
	Args []string
	// Env adds variables to the sanitized base environment.
	Env    map[string]string
	Limits ResourceLimits
}

// ProcessSandbox runs each isolate as a separate OS process.
//
// Security guarantees:
//   - Each isolate gets its own temp directory (removed after exit)
//   - Process runs in its own process group (Setpgid)
//   - Terminate kills the entire process group
//   - No environment inheritance from parent, only a minimal safe set
//   - Resource limits enforced via ulimit
//   - stdout/stderr capped to prevent OOM
type ProcessSandbox struct {
	executable string
	args       []string
	env        map[string]string
	limits     ResourceLimits
	logger     *slog.Logger
}

// NewProcessSandbox creates a process-based sandbox.
func NewProcessSandbox(cfg ProcessConfig, logger *slog.Logger) *ProcessSandbox {
	limits := cfg.Limits
	if limits.MaxCPUSeconds == 0 {
		limits.MaxCPUSeconds = defaultCPUSeconds
	}
	if limits.MaxMemoryMB == 0 {
		limits.MaxMemoryMB = defaultMemoryMB
	}
	args := cfg.Args
	if args == nil {
		args = []string{"isolate"}
	}
	return &ProcessSandbox{
		executable: cfg.Executable,
		args:       args,
		env:        cfg.Env,
		limits:     limits,
		logger:     logger,
	}
}

func (s *ProcessSandbox) Type() string { return TypeProcess }

// Spawn starts an isolate process that waits for its job on stdin.
func (s *ProcessSandbox) Spawn(ctx context.Context) (Isolate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	exe := s.executable
	if exe == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolving isolate executable: %w", err)
		}
		exe = self
	}

	// 1. Create isolated temp directory.
	tmpDir, err := os.MkdirTemp("", "sandrun-isolate-*")
	if err != nil {
		return nil, fmt.Errorf("creating isolate temp dir: %w", err)
	}
	cleanup := func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			s.logger.Warn("failed to remove isolate temp dir",
				slog.String("dir", tmpDir),
				slog.String("error", rmErr.Error()),
			)
		}
	}

	// 2. Wrap with ulimit. exec "$@" keeps the command out of the shell string:
	// sh -c 'ulimit -v KB 2>/dev/null; ulimit -t SEC 2>/dev/null; exec "$@"' _ exe args...
	args := make([]string, 0, 4+len(s.args))
	args = append(args, "-c", s.shellScript(), "_", exe)
	args = append(args, s.args...)

	cmd := exec.Command("/bin/sh", args...)
	cmd.Dir = tmpDir
	cmd.Env = s.buildEnv(tmpDir)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	iso, err := startCommandIsolate(cmd, func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative PID = kill the entire process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}, cleanup, s.logger)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("isolate process started",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("dir", tmpDir),
		slog.Int("memory_limit_mb", s.limits.MaxMemoryMB),
		slog.Int("cpu_limit_sec", s.limits.MaxCPUSeconds),
	)
	return iso, nil
}

func (s *ProcessSandbox) shellScript() string {
	script := fmt.Sprintf("ulimit -t %d 2>/dev/null; ", s.limits.MaxCPUSeconds)
	if s.limits.MaxMemoryMB > 0 {
		script = fmt.Sprintf("ulimit -v %d 2>/dev/null; ", s.limits.MaxMemoryMB*1024) + script
	}
	return script + `exec "$@"`
}

// buildEnv constructs a minimal, safe environment.
// The parent process's environment is NEVER inherited, so API keys and
// credentials cannot leak into an isolate.
func (s *ProcessSandbox) buildEnv(tmpDir string) []string {
	env := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + tmpDir,
		"TMPDIR=" + tmpDir,
		"LANG=en_US.UTF-8",
		"GOMAXPROCS=2",
	}
	if s.limits.MaxMemoryMB > 0 {
		env = append(env, "GOMEMLIMIT="+strconv.Itoa(s.limits.MaxMemoryMB*3/4)+"MiB")
	}
	for k, v := range s.env {
		env = append(env, k+"="+v)
	}
	return env
}
