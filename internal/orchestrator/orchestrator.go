// Package orchestrator drives one session end to end (spec.md §4.A):
// materialize a sandbox, run a baseline verification, loop proposing and
// applying diffs while under the attempt budget, minimize the winning
// patch, and write a proof bundle. It is the only package that wires
// every other internal package together; nothing here is itself a
// reusable abstraction, mirroring the teacher's own run.go, which plays
// the same "glue" role for ExecuteSandbox.
package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pp-engine/pp/internal/attest"
	"github.com/pp-engine/pp/internal/bundle"
	"github.com/pp-engine/pp/internal/diffpatch"
	"github.com/pp-engine/pp/internal/errs"
	"github.com/pp-engine/pp/internal/gitinfo"
	"github.com/pp-engine/pp/internal/metrics"
	"github.com/pp-engine/pp/internal/minimize"
	"github.com/pp-engine/pp/internal/policy"
	"github.com/pp-engine/pp/internal/pplog"
	"github.com/pp-engine/pp/internal/proposer"
	"github.com/pp-engine/pp/internal/runner"
	"github.com/pp-engine/pp/internal/workspace"

	"github.com/hashicorp/go-hclog"
)

// Proposer is the subset of *proposer.Client the orchestrator calls,
// narrowed to an interface so tests can substitute a stub proposer (spec
// §8 scenarios 1-4 all specify "stub proposer returns ...").
type Proposer interface {
	Propose(ctx context.Context, prompt, retryPrompt string) (string, error)
}

// Attempt mirrors spec.md §3's Attempt record, plus the outcome-specific
// detail the bundle writer and final_summary.md render.
type Attempt struct {
	Index        int
	ProposedDiff string
	AppliedPatch string
	Verify       runner.Result
	Outcome      string // pass|fail|rejected|error
	Detail       string
}

// Session is the orchestrator's own view of one run, returned to callers
// (cmd/pp) in addition to whatever was written to disk (spec.md §3
// "Session").
type Session struct {
	SessionID     string
	WorkspaceRoot string
	SandboxPath   string
	Attempts      []Attempt
	FinalPatch    string
	Result        string // pass|fail|error
	BundleDir     string
}

// Config carries everything a session needs that is not specific to one
// invocation: the frozen policy, the proposer client, and the ambient
// observability collaborators SPEC_FULL.md's expansion of §4.A adds.
type Config struct {
	Policy   *policy.Policy
	Proposer Proposer
	Logger   hclog.Logger
	Metrics  *metrics.Registry
	// Env is the full process environment (os.Environ()) the runner
	// redacts secrets out of before spawning a verification command.
	Env []string
	// OnAttempt, when set, is called once per recorded Attempt (including
	// the baseline) as it happens, so a caller like cmd/pp can drive a
	// progress indicator without waiting for Run to return.
	OnAttempt func(Attempt)
}

// Options configures one session (spec.md §3 "session_id", "workspace_root").
type Options struct {
	SessionID     string
	WorkspaceRoot string
	// ArtifactDir is the bundle directory this session writes to; the
	// sandbox is materialized at <ArtifactDir>/sandbox.
	ArtifactDir string
	Target      policy.ProofTarget
	// AttestationKey is the resolved key_env value, read once by
	// internal/envsnapshot at process start.
	AttestationKey []byte
}

// outcomeError, outcomeRejected, etc. are the stable Attempt.Outcome and
// Session.Result values spec.md §3 names.
const (
	outcomePass     = "pass"
	outcomeFail     = "fail"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

// Run executes one full session per spec.md §4.A and writes its proof
// bundle to opts.ArtifactDir.
func Run(ctx context.Context, cfg Config, opts Options) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = pplog.Nop()
	}

	logger = pplog.Named(logger, "orchestrator")
	logger.Info("session start", "session_id", opts.SessionID, "target", targetString(opts.Target))

	if !cfg.Policy.CommandAllowed(opts.Target.Cmd, opts.Target.Argv) {
		return nil, errs.New(errs.CommandNotAllowed, "target %q is not a member of allowed_commands or allowed_argv", targetString(opts.Target))
	}

	startedAt := time.Now().UTC()

	info, err := gitinfo.Capture(ctx, opts.WorkspaceRoot)
	if err != nil {
		return nil, err
	}

	manifest, err := workspace.BuildManifest(opts.WorkspaceRoot, opts.ArtifactDir)
	if err != nil {
		return nil, err
	}

	sandbox, err := workspace.Materialize(ctx, cfg.Policy.Sandbox, opts.WorkspaceRoot, opts.ArtifactDir)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		SessionID:     opts.SessionID,
		WorkspaceRoot: opts.WorkspaceRoot,
		SandboxPath:   sandbox.Path,
		BundleDir:     opts.ArtifactDir,
	}

	runnerOpts := runner.Options{
		Dir:        sandbox.Path,
		TimeoutSec: cfg.Policy.Limits.PerCommandTimeoutSec,
		Env:        cfg.Env,
		Sandbox:    cfg.Policy.Sandbox,
		Network:    cfg.Policy.Network,
	}

	verify, err := runVerify(ctx, opts.Target, runnerOpts, cfg.Metrics)
	if err != nil {
		return nil, err
	}

	baseline := Attempt{Index: 0, Verify: verify, Outcome: outcomeOf(verify.Passed())}
	sess.Attempts = append(sess.Attempts, baseline)
	recordAttempt(cfg, logger, baseline)

	result := outcomeFail
	attemptsUsed := 0

	if verify.Passed() {
		result = outcomePass
	} else {
		// The baseline verification above already consumed one unit of the
		// max_attempts budget (spec.md §8 "Boundaries": "max_attempts=1
		// allows exactly the baseline attempt plus zero proposer attempts"),
		// so the proposer loop gets whatever budget remains after it.
		maxProposerAttempts := cfg.Policy.Limits.MaxAttempts - 1
		result, attemptsUsed = attemptLoop(ctx, cfg, opts, sandbox, runnerOpts, &verify, sess, logger, maxProposerAttempts)
	}

	var finalPatchText string

	if result == outcomePass {
		patch, err := finalPatch(opts.WorkspaceRoot, sandbox.Path, manifest)
		if err != nil {
			return nil, err
		}

		if cfg.Policy.Minimize {
			minimized, complete, mErr := minimizeFinal(ctx, cfg, opts, manifest, patch)
			if mErr != nil {
				return nil, mErr
			}

			if !complete {
				logger.Warn("minimize did not reach a fixed point within its pass budget")
			}

			patch = minimized
		}

		finalPatchText = diffpatch.Serialize(patch)
	}

	sess.FinalPatch = finalPatchText
	sess.Result = result

	if cfg.Metrics != nil {
		cfg.Metrics.RecordFinalPatchBytes(len(finalPatchText))
	}

	endedAt := time.Now().UTC()

	if err := writeBundle(cfg, opts, info, manifest, sess, startedAt, endedAt, attemptsUsed); err != nil {
		return nil, err
	}

	if cfg.Policy.Attestation.Enabled {
		if _, err := attest.Sign(opts.ArtifactDir, cfg.Policy.Attestation.Mode, opts.AttestationKey); err != nil {
			return nil, err
		}
	}

	logger.Info("session end", "session_id", opts.SessionID, "result", result, "attempts_used", attemptsUsed)

	return sess, nil
}

// attemptLoop runs the proposer loop of spec.md §4.A step 4 and returns the
// terminal session result plus the number of proposer attempts consumed.
func attemptLoop(ctx context.Context, cfg Config, opts Options, sandbox *workspace.Sandbox, runnerOpts runner.Options, verify *runner.Result, sess *Session, logger hclog.Logger, maxProposerAttempts int) (string, int) {
	applier := &diffpatch.Applier{
		SandboxRoot:   sandbox.Path,
		IsGitWorktree: sandbox.IsGitWorktree,
		PathAllowed:   cfg.Policy.PathAllowed,
	}

	var priorDiffs []string

	attemptsUsed := 0

	for attemptsUsed < maxProposerAttempts {
		index := len(sess.Attempts)
		attemptsUsed++

		prompt := buildPrompt(opts.Target, *verify, cfg.Policy, priorDiffs)

		diffText, noOp, err := proposeOnce(ctx, cfg.Proposer, prompt)
		if err != nil {
			// spec.md §4.A "Proposer error" / §7: a recovered error that
			// closes this attempt and consumes budget; it never aborts the
			// session.
			a := Attempt{Index: index, Outcome: outcomeError, Detail: err.Error()}
			sess.Attempts = append(sess.Attempts, a)
			recordAttempt(cfg, logger, a)

			continue
		}

		if noOp {
			a := Attempt{Index: index, ProposedDiff: diffText, Outcome: outcomeRejected, Detail: "proposer returned an empty or no-op diff twice"}
			sess.Attempts = append(sess.Attempts, a)
			recordAttempt(cfg, logger, a)

			return outcomeFail, attemptsUsed
		}

		priorDiffs = append(priorDiffs, diffText)

		patch, err := diffpatch.Parse(diffText)
		if err != nil {
			a := Attempt{Index: index, ProposedDiff: diffText, Outcome: outcomeRejected, Detail: err.Error()}
			sess.Attempts = append(sess.Attempts, a)
			recordAttempt(cfg, logger, a)

			continue
		}

		touched := patch.TouchedPaths()
		patchBytes := len(diffpatch.Serialize(patch))

		if evalResult := cfg.Policy.EvaluatePatch(touched, patchBytes); !evalResult.Allowed {
			a := Attempt{Index: index, ProposedDiff: diffText, Outcome: outcomeRejected, Detail: string(evalResult.Reason) + ": " + evalResult.Detail}
			sess.Attempts = append(sess.Attempts, a)
			recordAttempt(cfg, logger, a)

			continue
		}

		if err := applier.Apply(ctx, patch); err != nil {
			a := Attempt{Index: index, ProposedDiff: diffText, Outcome: outcomeRejected, Detail: err.Error()}
			sess.Attempts = append(sess.Attempts, a)
			recordAttempt(cfg, logger, a)

			continue
		}

		*verify, err = runVerify(ctx, opts.Target, runnerOpts, cfg.Metrics)
		if err != nil {
			a := Attempt{Index: index, ProposedDiff: diffText, AppliedPatch: diffText, Verify: *verify, Outcome: outcomeError, Detail: err.Error()}
			sess.Attempts = append(sess.Attempts, a)
			recordAttempt(cfg, logger, a)

			return outcomeError, attemptsUsed
		}

		a := Attempt{Index: index, ProposedDiff: diffText, AppliedPatch: diffText, Verify: *verify, Outcome: outcomeOf(verify.Passed())}
		sess.Attempts = append(sess.Attempts, a)
		recordAttempt(cfg, logger, a)

		if verify.Passed() {
			return outcomePass, attemptsUsed
		}
	}

	return outcomeFail, attemptsUsed
}

// proposeOnce calls the proposer once, and if the result parses to an
// empty patch or is blank, retries exactly once with an amended prompt
// requesting a diff or a single-file rewrite (spec.md §4.A step 4: "reject
// empty or no-op diffs and request once more"). noOp is true only if both
// calls come back empty/no-op.
func proposeOnce(ctx context.Context, p Proposer, prompt string) (diffText string, noOp bool, err error) {
	retryPrompt := proposer.RewritePrompt(prompt)

	diffText, err = p.Propose(ctx, prompt, retryPrompt)
	if err != nil {
		return "", false, errs.Wrap(errs.ProposerError, err, "proposer call failed")
	}

	if !isNoOp(diffText) {
		return diffText, false, nil
	}

	diffText, err = p.Propose(ctx, retryPrompt, retryPrompt)
	if err != nil {
		return "", false, errs.Wrap(errs.ProposerError, err, "proposer retry call failed")
	}

	if isNoOp(diffText) {
		return diffText, true, nil
	}

	return diffText, false, nil
}

func isNoOp(diffText string) bool {
	if strings.TrimSpace(diffText) == "" {
		return true
	}

	patch, err := diffpatch.Parse(diffText)

	return err == nil && patch.IsEmpty()
}

func runVerify(ctx context.Context, target policy.ProofTarget, opts runner.Options, m *metrics.Registry) (runner.Result, error) {
	result, err := runner.Run(ctx, runner.Target{Cmd: target.Cmd, Argv: target.Argv}, opts)
	if err != nil {
		return result, err
	}

	if m != nil {
		m.RecordVerifyDuration(float64(result.DurationMs) / 1000)
	}

	return result, nil
}

func outcomeOf(passed bool) string {
	if passed {
		return outcomePass
	}

	return outcomeFail
}

func recordAttempt(cfg Config, logger hclog.Logger, a Attempt) {
	if cfg.Metrics != nil {
		cfg.Metrics.RecordAttempt(a.Outcome)
	}

	logger.Debug("attempt outcome", "index", a.Index, "outcome", a.Outcome, "exit_code", a.Verify.ExitCode)

	if cfg.OnAttempt != nil {
		cfg.OnAttempt(a)
	}
}

// minimizeFinal re-verifies candidate patches from scratch against a fresh
// copy of the workspace (spec.md §4.F), never mutating the session's real
// sandbox.
func minimizeFinal(ctx context.Context, cfg Config, opts Options, manifest workspace.Manifest, patch diffpatch.Patch) (diffpatch.Patch, bool, error) {
	verify := func(ctx context.Context, candidate diffpatch.Patch) (bool, error) {
		tmpDir, err := os.MkdirTemp("", "pp-minimize-*")
		if err != nil {
			return false, errs.Wrap(errs.IOError, err, "creating minimize scratch dir")
		}
		defer os.RemoveAll(tmpDir)

		if err := restoreManifest(opts.WorkspaceRoot, tmpDir, manifest); err != nil {
			return false, err
		}

		applier := &diffpatch.Applier{SandboxRoot: tmpDir, PathAllowed: cfg.Policy.PathAllowed}
		if err := applier.Apply(ctx, candidate); err != nil {
			return false, nil
		}

		result, err := runner.Run(ctx, runner.Target{Cmd: opts.Target.Cmd, Argv: opts.Target.Argv}, runner.Options{
			Dir:        tmpDir,
			TimeoutSec: cfg.Policy.Limits.PerCommandTimeoutSec,
			Env:        cfg.Env,
			Sandbox:    cfg.Policy.Sandbox,
			Network:    cfg.Policy.Network,
		})
		if err != nil {
			return false, err
		}

		return result.Passed(), nil
	}

	return minimize.Minimize(ctx, patch, verify)
}

func restoreManifest(sourceDir, destDir string, manifest workspace.Manifest) error {
	for _, f := range manifest.Files {
		data, err := os.ReadFile(filepath.Join(sourceDir, f.Path))
		if err != nil {
			return errs.Wrap(errs.IOError, err, "reading %s for minimize scratch copy", f.Path)
		}

		dst := filepath.Join(destDir, f.Path)

		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return errs.Wrap(errs.IOError, err, "mkdir %s", filepath.Dir(dst))
		}

		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return errs.Wrap(errs.IOError, err, "writing %s", dst)
		}
	}

	return nil
}

func writeBundle(cfg Config, opts Options, info gitinfo.Info, manifest workspace.Manifest, sess *Session, startedAt, endedAt time.Time, attemptsUsed int) error {
	attempts := make([]bundle.AttemptRecord, 0, len(sess.Attempts))

	for _, a := range sess.Attempts {
		attempts = append(attempts, bundle.AttemptRecord{
			Index:        a.Index,
			ProposedDiff: a.ProposedDiff,
			AppliedPatch: a.AppliedPatch,
			Outcome:      a.Outcome,
			Verify: bundle.VerifyRecord{
				ExitCode:   a.Verify.ExitCode,
				DurationMs: a.Verify.DurationMs,
				StdoutTail: a.Verify.Stdout,
				StderrTail: a.Verify.Stderr,
				TimedOut:   a.Verify.TimedOut,
			},
		})
	}

	env := map[string]string{
		"go_version": bundle.GoVersion(),
		"os_arch":    bundle.OSArch(),
	}

	if sourcePath, ok := cfg.Policy.Raw["source_path"].(string); ok {
		env["policy_source"] = sourcePath
	}

	data := bundle.Data{
		Policy:            cfg.Policy,
		Environment:       env,
		WorkspaceManifest: manifest,
		SourceGitDiff:     info.DirtyDiff,
		Attempts:          attempts,
		FinalPatch:        sess.FinalPatch,
		Repro: bundle.Repro{
			SessionID:      opts.SessionID,
			Command:        opts.Target.Cmd,
			Argv:           opts.Target.Argv,
			WorkspaceRoot:  opts.WorkspaceRoot,
			SandboxBackend: string(cfg.Policy.Sandbox.Backend),
			GitCommit:      info.Commit,
			GitBranch:      info.Branch,
			GitRemoteURL:   info.RemoteURL,
			GitDirty:       info.Dirty,
			StartedAt:      startedAt.Format(time.RFC3339),
			EndedAt:        endedAt.Format(time.RFC3339),
			DurationMs:     endedAt.Sub(startedAt).Milliseconds(),
			AttemptsUsed:   attemptsUsed,
			Result:         sess.Result,
		},
	}

	return bundle.Write(opts.ArtifactDir, data)
}
