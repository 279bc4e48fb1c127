package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/pp-engine/pp/internal/orchestrator"
)

// disableColorIfNotTTY turns off fatih/color's ANSI escapes when w is not
// a terminal (e.g. `--json` output piped to a file or another process),
// the same isatty.IsTerminal check CLIs in this pack's stack use to avoid
// writing escape codes into redirected output.
func disableColorIfNotTTY(w io.Writer) {
	f, ok := w.(*os.File)
	if !ok {
		color.NoColor = true
		return
	}

	color.NoColor = !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
}

// printJSON writes v as a single indented JSON object, spec.md §6
// --json's ambient output mode for every subcommand.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// attemptBar renders attempt progress to stderr via a progress bar when
// running in human mode, one step per recorded Attempt (baseline
// included), colored by outcome the way fatih/color marks pass/fail
// throughout this CLI.
func attemptBar(w io.Writer, maxAttempts int) func(orchestrator.Attempt) {
	bar := progressbar.NewOptions(maxAttempts+1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("proving"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	return func(a orchestrator.Attempt) {
		_ = bar.Add(1)

		label := fmt.Sprintf("attempt %d: %s", a.Index, a.Outcome)

		switch a.Outcome {
		case "pass":
			fmt.Fprintln(w, color.GreenString(label))
		case "fail", "rejected":
			fmt.Fprintln(w, color.YellowString(label))
		default:
			fmt.Fprintln(w, color.RedString(label))
		}
	}
}

func printSessionHuman(w io.Writer, sess *orchestrator.Session) {
	switch sess.Result {
	case "pass":
		fmt.Fprintln(w, color.GreenString("result: pass"), "(attempts:", len(sess.Attempts), ")")
	case "fail":
		fmt.Fprintln(w, color.YellowString("result: fail"), "(attempts:", len(sess.Attempts), ")")
	default:
		fmt.Fprintln(w, color.RedString("result: "+sess.Result))
	}

	fmt.Fprintln(w, "bundle:", sess.BundleDir)
}

// finishSession renders sess and returns its exit code, per spec.md §6:
// pass=0, fail=1, anything else=4 (an orchestrator session never produces
// a policy/attestation-classified error itself; those surface as a
// non-nil error from orchestrator.Run, handled by the caller before
// finishSession is reached).
func finishSession(stdout io.Writer, sess *orchestrator.Session, jsonMode bool) int {
	if jsonMode {
		_ = printJSON(stdout, sessionJSON(sess))
	} else {
		printSessionHuman(stdout, sess)
	}

	switch sess.Result {
	case "pass":
		return exitPass
	case "fail":
		return exitTargetsFailed
	default:
		return exitInternalError
	}
}

func sessionJSON(sess *orchestrator.Session) map[string]any {
	attempts := make([]map[string]any, 0, len(sess.Attempts))

	for _, a := range sess.Attempts {
		attempts = append(attempts, map[string]any{
			"index":     a.Index,
			"outcome":   a.Outcome,
			"exit_code": a.Verify.ExitCode,
			"timed_out": a.Verify.TimedOut,
			"detail":    a.Detail,
		})
	}

	return map[string]any{
		"session_id": sess.SessionID,
		"result":     sess.Result,
		"bundle_dir": sess.BundleDir,
		"attempts":   attempts,
	}
}
