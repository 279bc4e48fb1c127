package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/pp-engine/pp/internal/orchestrator"
	"github.com/pp-engine/pp/internal/policy"
	"github.com/pp-engine/pp/internal/policyfile"
)

// defaultArtifactsDir is where session bundles land when the caller does
// not otherwise relocate them; session_id is the directory name within it
// (spec.md §3: "session_id: opaque unique identifier used as an artifact
// directory name").
const defaultArtifactsDir = ".pp/artifacts"

// cmdRun implements `pp run <cmd> [--policy <path>] [--provider <name>]
// [--json]` (spec.md §6).
func cmdRun(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string, env map[string]string) int {
	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.SetOutput(io.Discard)

	policyPath := flags.String("policy", "policy.json", "path to the policy document")
	provider := flags.String("provider", "", "override PP_PROVIDER for this invocation")
	jsonMode := flags.Bool("json", false, "emit a single JSON object to stdout")

	if err := flags.Parse(args); err != nil {
		fmt.Fprintln(stderr, "pp run:", err)
		return exitPolicyOrInvalid
	}

	targetArgs := flags.Args()
	if len(targetArgs) == 0 {
		fmt.Fprintln(stderr, "pp run: missing <cmd>")
		return exitPolicyOrInvalid
	}

	expandedPolicyPath, err := expandHome(*policyPath)
	if err != nil {
		fmt.Fprintln(stderr, "pp run:", err)
		return exitInternalError
	}

	pol, err := policyfile.Load(expandedPolicyPath)
	if err != nil {
		fmt.Fprintln(stderr, "pp run:", err)
		return exitCodeForErr(err)
	}

	if *provider != "" {
		env = withOverride(env, "PP_PROVIDER", *provider)
	}

	target := policy.ProofTarget{Name: "adhoc", Cmd: strings.Join(targetArgs, " ")}

	workspaceRoot, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(stderr, "pp run:", err)
		return exitInternalError
	}

	sess, err := runOneTarget(ctx, stderr, pol, target, workspaceRoot, env, *jsonMode)
	if err != nil {
		fmt.Fprintln(stderr, "pp run:", err)
		return exitCodeForErr(err)
	}

	return finishSession(stdout, sess, *jsonMode)
}

// runOneTarget picks a fresh artifact directory under defaultArtifactsDir
// and drives runSessionWithID against it.
func runOneTarget(ctx context.Context, stderr io.Writer, pol *policy.Policy, target policy.ProofTarget, workspaceRoot string, env map[string]string, jsonMode bool) (*orchestrator.Session, error) {
	sessionID, err := newSessionID()
	if err != nil {
		return nil, err
	}

	artifactDir := filepath.Join(workspaceRoot, defaultArtifactsDir, sessionID)

	return runSessionWithID(ctx, stderr, pol, target, workspaceRoot, artifactDir, sessionID, env, jsonMode)
}

func withOverride(env map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(env)+1)

	for k, v := range env {
		out[k] = v
	}

	out[key] = value

	return out
}
