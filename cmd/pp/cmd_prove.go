package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/pp-engine/pp/internal/orchestrator"
	"github.com/pp-engine/pp/internal/policyfile"
)

// cmdProve implements `pp prove [--policy <path>] [--json]`: run every
// proof_targets[*] the policy names (spec.md §6), one session per target.
func cmdProve(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string, env map[string]string) int {
	flags := flag.NewFlagSet("prove", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	policyPath := flags.String("policy", "policy.json", "path to the policy document")
	jsonMode := flags.Bool("json", false, "emit a single JSON object to stdout")

	if err := flags.Parse(args); err != nil {
		fmt.Fprintln(stderr, "pp prove:", err)
		return exitPolicyOrInvalid
	}

	expandedPolicyPath, err := expandHome(*policyPath)
	if err != nil {
		fmt.Fprintln(stderr, "pp prove:", err)
		return exitInternalError
	}

	pol, err := policyfile.Load(expandedPolicyPath)
	if err != nil {
		fmt.Fprintln(stderr, "pp prove:", err)
		return exitCodeForErr(err)
	}

	if len(pol.ProofTargets) == 0 {
		fmt.Fprintln(stderr, "pp prove: policy has no proof_targets")
		return exitPolicyOrInvalid
	}

	workspaceRoot, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(stderr, "pp prove:", err)
		return exitInternalError
	}

	sessions := make([]*orchestrator.Session, 0, len(pol.ProofTargets))
	worstCode := exitPass

	for _, target := range pol.ProofTargets {
		sessionID, err := newSessionID()
		if err != nil {
			fmt.Fprintln(stderr, "pp prove:", err)
			return exitInternalError
		}

		artifactDir := filepath.Join(workspaceRoot, defaultArtifactsDir, sessionID)

		sess, err := runSessionWithID(ctx, stderr, pol, target, workspaceRoot, artifactDir, sessionID, env, *jsonMode)
		if err != nil {
			fmt.Fprintln(stderr, "pp prove:", target.Name, err)
			return exitCodeForErr(err)
		}

		sessions = append(sessions, sess)

		if code := sessionExitCode(sess); code > worstCode {
			worstCode = code
		}
	}

	if *jsonMode {
		out := make([]map[string]any, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, sessionJSON(s))
		}

		_ = printJSON(stdout, map[string]any{"sessions": out})
	} else {
		for _, s := range sessions {
			printSessionHuman(stdout, s)
		}
	}

	return worstCode
}

func sessionExitCode(sess *orchestrator.Session) int {
	switch sess.Result {
	case "pass":
		return exitPass
	case "fail":
		return exitTargetsFailed
	default:
		return exitInternalError
	}
}
