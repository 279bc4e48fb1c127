// Package bundle implements the proof bundle writer (spec.md §4.G): it
// writes the canonical on-disk artifact tree -- policy.json,
// environment.json, workspace_manifest.json, optional source_git.diff,
// attempts/, final.patch, final_summary.md, and repro.json last -- using
// internal/canonjson for every JSON file so hashing is stable.
package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pp-engine/pp/internal/canonjson"
	"github.com/pp-engine/pp/internal/errs"
	"github.com/pp-engine/pp/internal/policy"
	"github.com/pp-engine/pp/internal/workspace"
)

// VerifyRecord mirrors spec §3 Attempt.verify for bundle storage.
type VerifyRecord struct {
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
	StdoutTail string `json:"stdout_tail"`
	StderrTail string `json:"stderr_tail"`
	TimedOut   bool   `json:"timed_out"`
}

// AttemptRecord is one Attempt (spec §3), index 0 is the baseline.
type AttemptRecord struct {
	Index        int          `json:"index"`
	ProposedDiff string       `json:"proposed_diff,omitempty"`
	AppliedPatch string       `json:"applied_patch,omitempty"`
	Verify       VerifyRecord `json:"verify"`
	Outcome      string       `json:"outcome"`
}

// Repro is the repro.json top-level record (spec §6).
type Repro struct {
	SessionID               string   `json:"session_id"`
	Command                 string   `json:"command"`
	Argv                    []string `json:"argv,omitempty"`
	PolicyHash              string   `json:"policy_hash"`
	WorkspaceRoot           string   `json:"workspace_root"`
	WorkspaceManifestSHA256 string   `json:"workspace_manifest_sha256"`
	Provider                string   `json:"provider,omitempty"`
	SandboxBackend          string   `json:"sandbox_backend"`
	ContainerRuntimeVersion string   `json:"container_runtime_version,omitempty"`
	GitCommit               string   `json:"git_commit,omitempty"`
	GitBranch               string   `json:"git_branch,omitempty"`
	GitRemoteURL            string   `json:"git_remote_url,omitempty"`
	GitDirty                bool     `json:"git_dirty"`
	StartedAt               string   `json:"started_at"`
	EndedAt                 string   `json:"ended_at"`
	DurationMs              int64    `json:"duration_ms"`
	AttemptsUsed            int      `json:"attempts_used"`
	Result                  string   `json:"result"`
}

// Data is everything Write needs to produce a complete bundle.
type Data struct {
	Policy            *policy.Policy
	Environment       map[string]string
	WorkspaceManifest workspace.Manifest
	SourceGitDiff     string
	Attempts          []AttemptRecord
	FinalPatch        string
	Repro             Repro
}

// Write renders data into dir in the exact file order spec §4.G fixes,
// with repro.json last because it references digests of the prior files.
func Write(dir string, data Data) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.IOError, err, "mkdir bundle dir %s", dir)
	}

	policyHash, err := data.Policy.Hash()
	if err != nil {
		return errs.Wrap(errs.IOError, err, "hashing policy")
	}

	if err := writeJSON(filepath.Join(dir, "policy.json"), data.Policy); err != nil {
		return err
	}

	if err := writeJSON(filepath.Join(dir, "environment.json"), data.Environment); err != nil {
		return err
	}

	manifestSHA := manifestDigest(data.WorkspaceManifest)

	if err := writeJSON(filepath.Join(dir, "workspace_manifest.json"), data.WorkspaceManifest); err != nil {
		return err
	}

	if data.SourceGitDiff != "" {
		if err := writeText(filepath.Join(dir, "source_git.diff"), data.SourceGitDiff); err != nil {
			return err
		}
	}

	if err := writeAttempts(dir, data.Attempts); err != nil {
		return err
	}

	if err := writeText(filepath.Join(dir, "final.patch"), data.FinalPatch); err != nil {
		return err
	}

	if err := writeText(filepath.Join(dir, "final_summary.md"), renderSummary(data)); err != nil {
		return err
	}

	data.Repro.PolicyHash = policyHash
	data.Repro.WorkspaceManifestSHA256 = manifestSHA

	return writeJSON(filepath.Join(dir, "repro.json"), data.Repro)
}

// writeAttempts lays out attempts/0_baseline/verify.json for the baseline
// and attempts/<n>/{proposed.json,applied.patch,verify.json} for every
// subsequent attempt (spec §4.G "Attempts directory").
func writeAttempts(dir string, attempts []AttemptRecord) error {
	for _, a := range attempts {
		var attemptDir string
		if a.Index == 0 {
			attemptDir = filepath.Join(dir, "attempts", "0_baseline")
		} else {
			attemptDir = filepath.Join(dir, "attempts", fmt.Sprintf("%d", a.Index))
		}

		if err := os.MkdirAll(attemptDir, 0o755); err != nil {
			return errs.Wrap(errs.IOError, err, "mkdir %s", attemptDir)
		}

		if a.Index == 0 {
			if err := writeJSON(filepath.Join(attemptDir, "verify.json"), a.Verify); err != nil {
				return err
			}

			continue
		}

		if err := writeJSON(filepath.Join(attemptDir, "proposed.json"), map[string]string{"diff": a.ProposedDiff}); err != nil {
			return err
		}

		if err := writeText(filepath.Join(attemptDir, "applied.patch"), a.AppliedPatch); err != nil {
			return err
		}

		if err := writeJSON(filepath.Join(attemptDir, "verify.json"), a.Verify); err != nil {
			return err
		}
	}

	return nil
}

func writeJSON(path string, v any) error {
	data, err := canonjson.MarshalSorted(v)
	if err != nil {
		return errs.Wrap(errs.IOError, err, "encoding %s", filepath.Base(path))
	}

	return writeBytes(path, data)
}

func writeText(path, content string) error {
	return writeBytes(path, []byte(content))
}

func writeBytes(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Wrap(errs.IOError, err, "writing %s", path)
	}

	return nil
}

// manifestDigest hashes the manifest's own canonical JSON, recorded as
// repro.json.workspace_manifest_sha256.
func manifestDigest(m workspace.Manifest) string {
	data, err := canonjson.MarshalSorted(m)
	if err != nil {
		return ""
	}

	return canonjson.SHA256Hex(data)
}

func renderSummary(data Data) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Proof bundle summary\n\n")
	fmt.Fprintf(&b, "- Result: **%s**\n", data.Repro.Result)
	fmt.Fprintf(&b, "- Attempts used: %d\n", data.Repro.AttemptsUsed)
	fmt.Fprintf(&b, "- Files changed: %d\n", countChangedFiles(data.FinalPatch))
	fmt.Fprintf(&b, "- Command: `%s`\n", data.Repro.Command)
	fmt.Fprintf(&b, "- Sandbox backend: %s\n", data.Repro.SandboxBackend)

	if len(data.Attempts) > 0 {
		b.WriteString("\n## Attempts\n\n")

		for _, a := range data.Attempts {
			fmt.Fprintf(&b, "- attempt %d: %s (exit=%d, %dms)\n", a.Index, a.Outcome, a.Verify.ExitCode, a.Verify.DurationMs)
		}
	}

	return b.String()
}

func countChangedFiles(patchText string) int {
	count := 0

	for _, line := range strings.Split(patchText, "\n") {
		if strings.HasPrefix(line, "--- ") {
			count++
		}
	}

	return count
}

// GoVersion and OS are recorded in environment.json by the caller
// (internal/orchestrator), which owns composing the full environment map;
// these helpers exist so callers don't have to import "runtime" themselves.
func GoVersion() string { return runtime.Version() }
func OSArch() string    { return runtime.GOOS + "/" + runtime.GOARCH }
