package bundle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pp-engine/pp/internal/policy"
	"github.com/pp-engine/pp/internal/workspace"
)

func testPolicy() *policy.Policy {
	return &policy.Policy{
		Network:         policy.NetworkDeny,
		AllowedCommands: []string{"go test ./..."},
		WriteAllowlist:  []string{"**"},
		Limits:          policy.Limits{MaxAttempts: 3, MaxFilesChanged: 5, MaxPatchBytes: 1000, PerCommandTimeoutSec: 30},
		Sandbox:         policy.Sandbox{Backend: policy.BackendCopy},
		Attestation:     policy.Attestation{Enabled: false, Mode: policy.AttestationNone},
	}
}

func TestWrite_CanonicalOrderAndFiles(t *testing.T) {
	dir := t.TempDir()

	data := Data{
		Policy:            testPolicy(),
		Environment:       map[string]string{"go_version": "go1.24"},
		WorkspaceManifest: workspace.Manifest{RootSHA256: "abc"},
		Attempts: []AttemptRecord{
			{Index: 0, Verify: VerifyRecord{ExitCode: 1}, Outcome: "fail"},
			{Index: 1, ProposedDiff: "diff text", AppliedPatch: "--- a/x\n+++ b/x\n", Verify: VerifyRecord{ExitCode: 0}, Outcome: "pass"},
		},
		FinalPatch: "--- a/x\n+++ b/x\n",
		Repro:      Repro{SessionID: "s1", Command: "go test ./...", Result: "pass", AttemptsUsed: 1},
	}

	if err := Write(dir, data); err != nil {
		t.Fatal(err)
	}

	for _, f := range []string{
		"policy.json", "environment.json", "workspace_manifest.json",
		"attempts/0_baseline/verify.json",
		"attempts/1/proposed.json", "attempts/1/applied.patch", "attempts/1/verify.json",
		"final.patch", "final_summary.md", "repro.json",
	} {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			t.Fatalf("expected %s to exist: %v", f, err)
		}
	}

	reproData, err := os.ReadFile(filepath.Join(dir, "repro.json"))
	if err != nil {
		t.Fatal(err)
	}

	if len(reproData) == 0 {
		t.Fatal("repro.json is empty")
	}
}

func TestWrite_NoSourceGitDiffWhenClean(t *testing.T) {
	dir := t.TempDir()

	if err := Write(dir, Data{Policy: testPolicy(), Repro: Repro{SessionID: "s1"}}); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "source_git.diff")); !os.IsNotExist(err) {
		t.Fatal("expected source_git.diff to be absent when SourceGitDiff is empty")
	}
}
