package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// cleanupTimeout bounds how long a subcommand gets to react to a first
// interrupt before a second signal or a timeout forces an exit, the same
// two-stage shutdown shape as the teacher's cmd/agent-sandbox/run.go Run.
const cleanupTimeout = 10 * time.Second

// Run is the CLI entry point, isolated from global state (stdin/stdout/
// stderr/env/os.Args) the same way the teacher's Run does, so it stays
// directly testable. sigCh may be nil (e.g. in tests) to skip signal
// handling entirely.
func Run(stdin io.Reader, stdout, stderr io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	if len(args) < 2 {
		printUsage(stderr)
		return exitPolicyOrInvalid
	}

	sub := args[1]
	rest := args[2:]

	if sub == "-h" || sub == "--help" {
		printUsage(stdout)
		return exitPass
	}

	disableColorIfNotTTY(stdout)

	var handler func(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string, env map[string]string) int

	switch sub {
	case "run":
		handler = cmdRun
	case "prove":
		handler = cmdProve
	case "replay":
		handler = cmdReplay
	case "attest":
		handler = cmdAttest
	case "verify-attestation":
		handler = cmdVerifyAttestation
	case "version":
		handler = cmdVersion
	default:
		fmt.Fprintf(stderr, "pp: unknown subcommand %q\n\n", sub)
		printUsage(stderr)

		return exitPolicyOrInvalid
	}

	killCtx, kill := context.WithCancel(context.Background())
	defer kill()

	termCtx, terminate := context.WithCancel(killCtx)
	defer terminate()

	done := make(chan int, 1)

	go func() {
		done <- handler(termCtx, stdin, stdout, stderr, rest, env)
	}()

	if sigCh == nil {
		return <-done
	}

	select {
	case code := <-done:
		return code
	case <-sigCh:
		fmt.Fprintln(stderr, "pp: interrupted, waiting up to 10s for cleanup... (Ctrl+C again to force exit)")
		terminate()
	}

	select {
	case code := <-done:
		return code
	case <-time.After(cleanupTimeout):
		fmt.Fprintln(stderr, "pp: cleanup timed out, forcing exit.")
		kill()
		<-done

		return exitInternalError
	case <-sigCh:
		fmt.Fprintln(stderr, "pp: forced exit.")
		kill()
		<-done

		return exitInternalError
	}
}

const usageText = `pp - policy-governed proof-of-fix engine

Usage: pp <subcommand> [flags]

Subcommands:
  run <cmd> [--policy <path>] [--provider <name>] [--json]
                                         Execute one ad-hoc proof target.
  prove [--policy <path>] [--json]      Run every proof_targets[*] in the policy.
  replay <bundle> [--cwd <dir>] [--verify-attestation] [--json]
                                         Re-run a bundle's recorded targets.
  attest <bundle> --mode hmac-sha256 --key-env <VAR>
                                         Sign a bundle directory.
  verify-attestation <bundle> [--key-env <VAR>]
                                         Verify a bundle's attestation.json.
  version                                Print build version.

Exit codes: 0 pass, 1 targets failed, 2 policy/invalid input, 3 attestation mismatch, 4 internal error.
`

func printUsage(w io.Writer) {
	fmt.Fprint(w, usageText)
}
