// Package runner implements the command runner (spec.md §4.C): it spawns
// the verification command either directly on the host or inside a
// container runtime, enforces per_command_timeout_sec by killing the
// process group on expiry, and captures stdout/stderr.
//
// Process-group timeout enforcement is grounded on the teacher's own
// cmd/agent-sandbox/run.go two-stage (terminate/kill) context pattern for
// ExecuteSandbox: this package generalizes that shape to an explicit
// per-command deadline using golang.org/x/sys/unix.Kill against the
// negative pgid, the same signal-the-process-group idiom.
package runner

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"time"

	"github.com/pp-engine/pp/internal/envsnapshot"
	"github.com/pp-engine/pp/internal/errs"
	"github.com/pp-engine/pp/internal/policy"
)

// tailBytes is how much of stdout/stderr is retained for bundle storage
// and attempt records, per spec §4.C: "truncated to the last 64 KiB each
// for storage".
const tailBytes = 64 * 1024

// Target is one command to run, resolved to either a shell string or an
// argv vector (spec §4.C "Shell vs argv").
type Target struct {
	// Cmd is the full command string, run through a shell when Argv is empty.
	Cmd string
	// Argv is an explicit argument vector, run without a shell when non-empty.
	// Per spec §4.C: "Unshelled form is preferred when both match."
	Argv []string
}

// Result is the outcome of one command run (spec §3 Attempt.verify).
type Result struct {
	ExitCode   int
	DurationMs int64
	Stdout     string
	Stderr     string
	StdoutFull []byte
	StderrFull []byte
	TimedOut   bool
}

// Passed reports whether this result counts as a verification pass (spec
// §4.C "Result": "A non-zero exit code or timed_out=true is a failure;
// exit 0 with timed_out=false is a pass.").
func (r Result) Passed() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// Options configures one Run call.
type Options struct {
	// Dir is the sandbox root the command executes in.
	Dir string
	// TimeoutSec is policy.Limits.PerCommandTimeoutSec; 0 disables the
	// timeout.
	TimeoutSec int
	// Env is the full environment the host process should inherit from,
	// typically os.Environ(), before secret redaction (spec §4.C).
	Env []string
	// Sandbox is the policy's sandbox config, consulted for Backend ==
	// container to decide whether to wrap argv in a container invocation.
	Sandbox policy.Sandbox
	// Network is the policy's network posture, used in container mode to
	// decide --network none.
	Network policy.Network
}

// Run executes target under opts, enforcing the timeout and capturing
// output exactly as spec §4.C describes.
func Run(ctx context.Context, target Target, opts Options) (Result, error) {
	name, args := resolveArgv(target)
	if opts.Sandbox.Backend == policy.BackendContainer {
		name, args = containerize(name, args, opts)
	}

	runCtx := ctx
	cancel := func() {}

	if opts.TimeoutSec > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutSec)*time.Second)
	}

	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = opts.Dir
	cmd.Env = envsnapshot.RedactedChildEnv(opts.Env)
	cmd.SysProcAttr = procAttrNewGroup()
	cmd.Cancel = func() error {
		killProcessGroup(cmd.Process.Pid)
		return cmd.Process.Kill()
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	timedOut := runCtx.Err() == context.DeadlineExceeded

	if timedOut && cmd.Process != nil {
		killProcessGroup(cmd.Process.Pid)
	}

	result := Result{
		DurationMs: duration.Milliseconds(),
		Stdout:     tail(stdout.Bytes(), tailBytes),
		Stderr:     tail(stderr.Bytes(), tailBytes),
		StdoutFull: stdout.Bytes(),
		StderrFull: stderr.Bytes(),
		TimedOut:   timedOut,
	}

	if err == nil {
		result.ExitCode = 0
		return result, nil
	}

	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}

	if timedOut {
		result.ExitCode = -1
		return result, nil
	}

	return result, errs.Wrap(errs.IOError, err, "spawning %q", target.Cmd)
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}

	return false
}

// resolveArgv picks the unshelled vector when present, the shell-string
// path otherwise (spec §4.C "Shell vs argv").
func resolveArgv(target Target) (string, []string) {
	if len(target.Argv) > 0 {
		return target.Argv[0], target.Argv[1:]
	}

	return "/bin/sh", []string{"-c", target.Cmd}
}

// containerize wraps name/args in a container runtime invocation (spec
// §4.C "Container mode"): "<container_runtime> run --rm --workdir
// <container_workdir> -v <sandbox>:<container_workdir>", plus --network
// none when network is denied and --cpus/--memory when set.
func containerize(name string, args []string, opts Options) (string, []string) {
	sb := opts.Sandbox

	runArgs := []string{
		"run", "--rm",
		"--workdir", sb.ContainerWorkdir,
		"-v", opts.Dir + ":" + sb.ContainerWorkdir,
	}

	if opts.Network == policy.NetworkDeny {
		runArgs = append(runArgs, "--network", "none")
	}

	if sb.CPULimit != "" {
		runArgs = append(runArgs, "--cpus", sb.CPULimit)
	}

	if sb.MemoryLimit != "" {
		runArgs = append(runArgs, "--memory", sb.MemoryLimit)
	}

	runArgs = append(runArgs, sb.ContainerImage)

	full := append([]string{name}, args...)
	runArgs = append(runArgs, "/bin/sh", "-c", shellJoin(full))

	return sb.ContainerRuntime, runArgs
}

func shellJoin(argv []string) string {
	var b bytes.Buffer

	for i, a := range argv {
		if i > 0 {
			b.WriteByte(' ')
		}

		b.WriteString(strconv.Quote(a))
	}

	return b.String()
}

func tail(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}

	return string(data[len(data)-n:])
}
