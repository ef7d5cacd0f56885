package sandbox

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"
)

const (
	defaultDockerPIDsLimit = 64
	defaultDockerCPUCores  = 1.0
	defaultDockerImage     = "jkaninda/sandrun:latest"
)

// DockerConfig configures the Docker-based sandbox.
type DockerConfig struct {
	Image     string   // Image containing the sandrun binary.
	Command   []string // Isolate entry point inside the image. Nil = ["sandrun", "isolate"].
	MemoryMB  int      // --memory hard limit.
	CPUCores  float64  // --cpus rate limit (e.g. 0.5 = half a core).
	PIDsLimit int      // --pids-limit (prevents fork bombs).
}

// DockerSandbox runs each isolate inside an ephemeral Docker container.
//
// Security guarantees:
//   - Each isolate gets its own container (--rm, plus docker rm -f safety net)
//   - ALL Linux capabilities dropped (--cap-drop=ALL)
//   - Read-only root filesystem (--read-only) with a small tmpfs
//   - Privilege escalation blocked (--security-opt=no-new-privileges)
//   - Non-root user (--user=65534:65534)
//   - No network stack (--network=none)
//   - Memory hard limit with no swap, PIDs limit, CPU rate limit
//   - Container always removed, even on terminate or crash
type DockerSandbox struct {
	config DockerConfig
	logger *slog.Logger
	remove func(name string)
}

// NewDockerSandbox creates a Docker-based sandbox.
func NewDockerSandbox(cfg DockerConfig, logger *slog.Logger) *DockerSandbox {
	if cfg.Image == "" {
		cfg.Image = defaultDockerImage
	}
	if cfg.Command == nil {
		cfg.Command = []string{"sandrun", "isolate"}
	}
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = defaultMemoryMB
	}
	if cfg.CPUCores <= 0 {
		cfg.CPUCores = defaultDockerCPUCores
	}
	if cfg.PIDsLimit <= 0 {
		cfg.PIDsLimit = defaultDockerPIDsLimit
	}
	s := &DockerSandbox{config: cfg, logger: logger}
	s.remove = s.forceRemoveContainer
	return s
}

func (s *DockerSandbox) Type() string { return TypeDocker }

// Spawn starts a container that waits for its job on stdin.
func (s *DockerSandbox) Spawn(ctx context.Context) (Isolate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, err := generateContainerName()
	if err != nil {
		return nil, fmt.Errorf("generating container name: %w", err)
	}

	args := s.buildDockerArgs(name)
	args = append(args, s.config.Command...)
	cmd := exec.Command("docker", args...)

	kill, cleanup := s.hooks(cmd, name)
	iso, err := startCommandIsolate(cmd, kill, cleanup, s.logger)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("docker isolate started",
		slog.String("container", name),
		slog.String("image", s.config.Image),
		slog.Int("memory_mb", s.config.MemoryMB),
		slog.Float64("cpu_cores", s.config.CPUCores),
	)
	return iso, nil
}

// hooks returns the kill and cleanup functions for a container isolate.
// kill only stops the attached client so Terminate returns at once; the
// container is force-removed by cleanup after the client exits, before the
// isolate reports Done.
func (s *DockerSandbox) hooks(cmd *exec.Cmd, name string) (kill func() error, cleanup func()) {
	kill = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}
	cleanup = func() { s.remove(name) }
	return kill, cleanup
}

// buildDockerArgs constructs the docker run argument list with all security
// hardening flags. The command itself is NOT included; caller appends it.
func (s *DockerSandbox) buildDockerArgs(name string) []string {
	memoryFlag := strconv.Itoa(s.config.MemoryMB) + "m"
	cpuFlag := strconv.FormatFloat(s.config.CPUCores, 'f', 2, 64)
	pidsFlag := strconv.Itoa(s.config.PIDsLimit)

	return []string{
		"run", "--rm", "-i",
		"--name", name,

		// --- Security hardening ---
		"--cap-drop=ALL",
		"--security-opt=no-new-privileges",
		"--read-only",
		"--user=65534:65534",
		"--network=none",

		// --- Resource limits ---
		"--memory=" + memoryFlag,
		"--memory-swap=" + memoryFlag,
		"--cpus=" + cpuFlag,
		"--pids-limit=" + pidsFlag,

		"--tmpfs", "/tmp:rw,noexec,nosuid,size=16m",

		// --- Sanitized environment (no host inheritance) ---
		"--env", "HOME=/tmp",
		"--env", "PATH=/usr/local/bin:/usr/bin:/bin",
		"--env", "GOMEMLIMIT=" + strconv.Itoa(s.config.MemoryMB*3/4) + "MiB",

		s.config.Image,
	}
}

// forceRemoveContainer removes a container by name. "No such container" is
// expected once --rm has cleaned up. Errors are logged, not returned.
func (s *DockerSandbox) forceRemoveContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "docker", "rm", "-f", name).CombinedOutput()
	if err != nil && !bytes.Contains(out, []byte("No such container")) {
		s.logger.Warn("docker rm -f failed",
			slog.String("container", name),
			slog.String("error", err.Error()),
			slog.String("output", string(out)),
		)
	}
}

// generateContainerName returns a unique container name: sandrun-iso-<16 hex chars>.
func generateContainerName() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "sandrun-iso-" + hex.EncodeToString(b), nil
}
