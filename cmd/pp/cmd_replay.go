package main

import (
	"context"
	"fmt"
	"io"

	flag "github.com/spf13/pflag"

	"github.com/pp-engine/pp/internal/replay"
)

// cmdReplay implements `pp replay <bundle> [--cwd <path>]
// [--verify-attestation] [--json]` (spec.md §6).
func cmdReplay(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string, env map[string]string) int {
	flags := flag.NewFlagSet("replay", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	cwd := flags.String("cwd", "", "override the bundle's recorded workspace_root")
	verifyAttestation := flags.Bool("verify-attestation", false, "verify attestation.json before replaying")
	keyEnv := flags.String("key-env", "", "environment variable naming the attestation key, required with --verify-attestation for hmac-sha256 bundles")
	jsonMode := flags.Bool("json", false, "emit a single JSON object to stdout")

	if err := flags.Parse(args); err != nil {
		fmt.Fprintln(stderr, "pp replay:", err)
		return exitPolicyOrInvalid
	}

	if flags.NArg() == 0 {
		fmt.Fprintln(stderr, "pp replay: missing <bundle_path>")
		return exitPolicyOrInvalid
	}

	bundleDir, err := expandHome(flags.Arg(0))
	if err != nil {
		fmt.Fprintln(stderr, "pp replay:", err)
		return exitInternalError
	}

	sourceDir, err := expandHome(*cwd)
	if err != nil {
		fmt.Fprintln(stderr, "pp replay:", err)
		return exitInternalError
	}

	var key []byte
	if *keyEnv != "" {
		key = []byte(env[*keyEnv])
	}

	results, err := replay.Replay(ctx, bundleDir, replay.Options{
		SourceDir:         sourceDir,
		VerifyAttestation: *verifyAttestation,
		AttestationKey:    key,
	})
	if err != nil {
		fmt.Fprintln(stderr, "pp replay:", err)
		return exitCodeForErr(err)
	}

	allPassed := true

	for _, r := range results {
		if !r.Passed {
			allPassed = false
		}
	}

	if *jsonMode {
		out := make([]map[string]any, 0, len(results))
		for _, r := range results {
			out = append(out, map[string]any{
				"name":      r.Name,
				"passed":    r.Passed,
				"exit_code": r.Result.ExitCode,
				"timed_out": r.Result.TimedOut,
			})
		}

		_ = printJSON(stdout, map[string]any{"targets": out, "passed": allPassed})
	} else {
		for _, r := range results {
			fmt.Fprintf(stdout, "%s: passed=%v exit=%d\n", r.Name, r.Passed, r.Result.ExitCode)
		}
	}

	if allPassed {
		return exitPass
	}

	return exitTargetsFailed
}
