package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/jkaninda/sandrun/internal/domain"
)

const childEnv = "SANDRUN_TEST_ISOLATE"

// TestMain lets the test binary act as the isolate child for process tests.
func TestMain(m *testing.M) {
	if os.Getenv(childEnv) == "1" {
		if err := ServeChild(os.Stdin, os.Stdout); err != nil {
			os.Exit(2)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func newTestProcessSandbox(t *testing.T) *ProcessSandbox {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	return NewProcessSandbox(ProcessConfig{
		Executable: exe,
		Args:       []string{},
		Env:        map[string]string{childEnv: "1"},
		// The race detector reserves more address space than any sane ulimit -v.
		Limits: ResourceLimits{MaxMemoryMB: -1, MaxCPUSeconds: 30},
	}, discardLogger())
}

func TestProcess_Dispatch(t *testing.T) {
	sbx := newTestProcessSandbox(t)
	iso, err := sbx.Spawn(context.Background())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer iso.Terminate()

	ch, err := iso.Dispatch(newJob(t, []string{"n"}, "let s=0; for(let i=1;i<=n;i++) s+=i; console.log('done'); return s;", "10"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	msg := waitMessage(t, ch, 30*time.Second)
	if !msg.OK || string(msg.Value) != "55" {
		t.Fatalf("message = %+v, want 55", msg)
	}
	if len(msg.Logs) != 1 || msg.Logs[0] != "done" {
		t.Errorf("Logs = %q, want [done]", msg.Logs)
	}
	waitDone(t, iso, 5*time.Second)
}

func TestProcess_RuntimeError(t *testing.T) {
	sbx := newTestProcessSandbox(t)
	iso, _ := sbx.Spawn(context.Background())
	defer iso.Terminate()

	ch, err := iso.Dispatch(newJob(t, nil, "throw new Error('boom');", ""))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	msg := waitMessage(t, ch, 30*time.Second)
	if msg.Kind != domain.KindRuntime || msg.Error != "boom" {
		t.Errorf("message = %+v, want RuntimeError boom", msg)
	}
}

func TestProcess_TerminateKillsChild(t *testing.T) {
	sbx := newTestProcessSandbox(t)
	iso, err := sbx.Spawn(context.Background())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if _, err := iso.Dispatch(newJob(t, nil, "while(true){}", "")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	iso.Terminate()
	waitDone(t, iso, 5*time.Second)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("teardown took %s", elapsed)
	}
}

func TestProcess_MissingBinary(t *testing.T) {
	sbx := newTestProcessSandbox(t)
	sbx.executable = "/nonexistent/sandrun"

	iso, err := sbx.Spawn(context.Background())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer iso.Terminate()

	ch, err := iso.Dispatch(newJob(t, nil, "return 1;", ""))
	if err != nil {
		return // exited before dispatch, which callers treat as a host fault
	}
	msg := waitMessage(t, ch, 10*time.Second)
	if msg.Kind != domain.KindHost {
		t.Errorf("kind = %s (%s), want %s", msg.Kind, msg.Error, domain.KindHost)
	}
}

func TestProcess_ShellScript(t *testing.T) {
	t.Setenv("SANDRUN_HOST_SECRET", "s3cret")
	s := NewProcessSandbox(ProcessConfig{Limits: ResourceLimits{MaxCPUSeconds: 5, MaxMemoryMB: 64}}, discardLogger())
	script := s.shellScript()
	for _, want := range []string{"ulimit -v 65536", "ulimit -t 5", `exec "$@"`} {
		if !strings.Contains(script, want) {
			t.Errorf("script %q missing %q", script, want)
		}
	}
	env := strings.Join(s.buildEnv("/tmp/x"), "\n")
	if !strings.Contains(env, "HOME=/tmp/x") || !strings.Contains(env, "GOMEMLIMIT=48MiB") {
		t.Errorf("env = %q", env)
	}
	if strings.Contains(env, "s3cret") {
		t.Errorf("env leaked host variable: %q", env)
	}

	unlimited := NewProcessSandbox(ProcessConfig{Limits: ResourceLimits{MaxMemoryMB: -1}}, discardLogger())
	if strings.Contains(unlimited.shellScript(), "ulimit -v") {
		t.Errorf("negative MaxMemoryMB should disable ulimit -v")
	}
}

func TestServeChild(t *testing.T) {
	job := newJob(t, []string{"a"}, "return {twice: a * 2};", "21")
	payload, _ := json.Marshal(job)

	var out bytes.Buffer
	if err := ServeChild(bytes.NewReader(payload), &out); err != nil {
		t.Fatalf("ServeChild: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(out.Bytes(), &msg); err != nil {
		t.Fatalf("Unmarshal(%s): %v", out.String(), err)
	}
	if !msg.OK || string(msg.Value) != `{"twice":42}` {
		t.Errorf("message = %+v", msg)
	}

	out.Reset()
	if err := ServeChild(strings.NewReader("not json"), &out); err != nil {
		t.Fatalf("ServeChild: %v", err)
	}
	if err := json.Unmarshal(out.Bytes(), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Kind != domain.KindHost {
		t.Errorf("kind = %s, want %s", msg.Kind, domain.KindHost)
	}
}

func TestDocker_BuildArgs(t *testing.T) {
	s := NewDockerSandbox(DockerConfig{MemoryMB: 64, CPUCores: 0.5, PIDsLimit: 16}, discardLogger())
	args := strings.Join(s.buildDockerArgs("sandrun-iso-test"), " ")
	for _, want := range []string{"--rm -i", "--cap-drop=ALL", "--read-only", "--network=none", "--user=65534:65534", "--memory=64m", "--cpus=0.50", "--pids-limit=16", defaultDockerImage} {
		if !strings.Contains(args, want) {
			t.Errorf("docker args missing %q: %s", want, args)
		}
	}
	if !strings.HasSuffix(args, defaultDockerImage) {
		t.Errorf("image must be the last flag argument: %s", args)
	}
}

func TestDocker_TerminateDefersRemoval(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	s := NewDockerSandbox(DockerConfig{}, discardLogger())
	unblock := make(chan struct{})
	removed := make(chan string, 1)
	s.remove = func(name string) {
		<-unblock
		removed <- name
	}
	defer func() {
		select {
		case <-unblock:
		default:
			close(unblock)
		}
	}()

	cmd := exec.Command("sleep", "30")
	kill, cleanup := s.hooks(cmd, "sandrun-iso-test")
	iso, err := startCommandIsolate(cmd, kill, cleanup, discardLogger())
	if err != nil {
		t.Fatalf("startCommandIsolate: %v", err)
	}

	start := time.Now()
	iso.Terminate()
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Terminate took %s, want it not to wait for container removal", elapsed)
	}
	select {
	case <-iso.Done():
		t.Fatal("Done closed before the container was removed")
	case <-time.After(100 * time.Millisecond):
	}

	close(unblock)
	waitDone(t, iso, 5*time.Second)
	select {
	case name := <-removed:
		if name != "sandrun-iso-test" {
			t.Errorf("removed %q, want sandrun-iso-test", name)
		}
	default:
		t.Error("container was not removed before Done")
	}
}

// testImage is the image used for docker integration tests.
const testImage = "jkaninda/sandrun:latest"

func skipIfNoDocker(t *testing.T) {
	t.Helper()
	if err := exec.Command("docker", "info").Run(); err != nil {
		t.Skip("docker not available, skipping integration test")
	}
}

func skipIfNoImage(t *testing.T) {
	t.Helper()
	out, err := exec.Command("docker", "images", "-q", testImage).Output()
	if err != nil || strings.TrimSpace(string(out)) == "" {
		t.Skipf("docker image %s not found, skipping (build with: docker build -t %s .)", testImage, testImage)
	}
}

func TestDocker_Dispatch(t *testing.T) {
	skipIfNoDocker(t)
	skipIfNoImage(t)

	sbx := NewDockerSandbox(DockerConfig{Image: testImage, MemoryMB: 128}, discardLogger())
	iso, err := sbx.Spawn(context.Background())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer iso.Terminate()

	ch, err := iso.Dispatch(newJob(t, []string{"n"}, "return n + 1;", "41"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	msg := waitMessage(t, ch, 60*time.Second)
	if !msg.OK || string(msg.Value) != "42" {
		t.Errorf("message = %+v, want 42", msg)
	}
}
