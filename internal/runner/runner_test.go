package runner

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/pp-engine/pp/internal/policy"
)

func TestRun_Pass(t *testing.T) {
	dir := t.TempDir()

	result, err := Run(context.Background(), Target{Cmd: "exit 0"}, Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}

	if !result.Passed() {
		t.Fatalf("expected pass, got %+v", result)
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	dir := t.TempDir()

	result, err := Run(context.Background(), Target{Cmd: "exit 7"}, Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}

	if result.Passed() {
		t.Fatal("expected failure")
	}

	if result.ExitCode != 7 {
		t.Fatalf("got exit code %d, want 7", result.ExitCode)
	}
}

func TestRun_Timeout(t *testing.T) {
	dir := t.TempDir()

	result, err := Run(context.Background(), Target{Cmd: "sleep 5"}, Options{Dir: dir, TimeoutSec: 1})
	if err != nil {
		t.Fatal(err)
	}

	if !result.TimedOut {
		t.Fatal("expected timed_out=true")
	}

	if result.Passed() {
		t.Fatal("a timed out command must never be a pass")
	}
}

func TestRun_ArgvPreferredOverShell(t *testing.T) {
	dir := t.TempDir()

	result, err := Run(context.Background(), Target{Cmd: "should not run", Argv: []string{"echo", "hi"}}, Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}

	if strings.TrimSpace(result.Stdout) != "hi" {
		t.Fatalf("got stdout %q, want argv form to run", result.Stdout)
	}
}

func TestRun_SecretEnvRedacted(t *testing.T) {
	dir := t.TempDir()

	env := append(os.Environ(), "PP_OPENAI_API_KEY=super-secret", "PP_ATTEST_KEY=also-secret", "KEEP_ME=visible")

	result, err := Run(context.Background(), Target{Argv: []string{"/bin/sh", "-c", "env"}}, Options{Dir: dir, Env: env})
	if err != nil {
		t.Fatal(err)
	}

	if strings.Contains(result.Stdout, "super-secret") || strings.Contains(result.Stdout, "also-secret") {
		t.Fatalf("secret env leaked into child process: %s", result.Stdout)
	}

	if !strings.Contains(result.Stdout, "KEEP_ME=visible") {
		t.Fatal("expected non-secret env to be preserved")
	}
}

func TestRun_TailTruncation(t *testing.T) {
	dir := t.TempDir()

	result, err := Run(context.Background(), Target{Cmd: "yes x | head -c 200000"}, Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Stdout) > tailBytes {
		t.Fatalf("stdout tail not truncated: %d bytes", len(result.Stdout))
	}

	if len(result.StdoutFull) <= tailBytes {
		t.Fatalf("expected full capture to exceed tail size, got %d", len(result.StdoutFull))
	}
}

func TestResolveArgv(t *testing.T) {
	name, args := resolveArgv(Target{Argv: []string{"git", "status"}})
	if name != "git" || len(args) != 1 || args[0] != "status" {
		t.Fatalf("got %q %v", name, args)
	}

	name, args = resolveArgv(Target{Cmd: "echo hi"})
	if name != "/bin/sh" || len(args) != 2 {
		t.Fatalf("got %q %v", name, args)
	}
}

func TestContainerize(t *testing.T) {
	name, args := containerize("go", []string{"test", "./..."}, Options{
		Dir:     "/sandbox",
		Network: policy.NetworkDeny,
		Sandbox: policy.Sandbox{
			Backend:          policy.BackendContainer,
			ContainerRuntime: "docker",
			ContainerImage:   "golang:1.24",
			ContainerWorkdir: "/work",
		},
	})

	if name != "docker" {
		t.Fatalf("got runtime %q", name)
	}

	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--network none") {
		t.Fatalf("expected --network none in %v", args)
	}

	if !strings.Contains(joined, "-v /sandbox:/work") {
		t.Fatalf("expected volume mount in %v", args)
	}
}
