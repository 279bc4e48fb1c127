// Package replay implements bundle replay (spec.md §4.H "Replay"): given a
// bundle directory, it reconstructs a fresh sandbox from the recorded
// workspace manifest, applies final.patch, and reruns every recorded
// proof target under the bundle's recorded policy.
package replay

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pp-engine/pp/internal/attest"
	"github.com/pp-engine/pp/internal/diffpatch"
	"github.com/pp-engine/pp/internal/errs"
	"github.com/pp-engine/pp/internal/policy"
	"github.com/pp-engine/pp/internal/runner"
	"github.com/pp-engine/pp/internal/workspace"
)

// TargetResult is one proof target's replayed outcome.
type TargetResult struct {
	Name   string
	Result runner.Result
	Passed bool
}

// Options configures one Replay call (spec §6 "replay" subcommand flags).
type Options struct {
	// SourceDir overrides the workspace_root recorded in repro.json
	// (--cwd).
	SourceDir string
	// VerifyAttestation gates attest.Verify before anything else runs
	// (--verify-attestation); a failure short-circuits the whole replay.
	VerifyAttestation bool
	// AttestationKey is the resolved key_env value, required only when
	// VerifyAttestation is set and the bundle's attestation mode needs one.
	AttestationKey []byte
}

// Replay reconstructs a sandbox from bundleDir and reruns every proof
// target recorded in the bundle's policy.json.
func Replay(ctx context.Context, bundleDir string, opts Options) ([]TargetResult, error) {
	if opts.VerifyAttestation {
		if _, err := attest.Verify(bundleDir, opts.AttestationKey); err != nil {
			return nil, err
		}
	}

	pol, err := readPolicy(bundleDir)
	if err != nil {
		return nil, err
	}

	manifest, err := readManifest(bundleDir)
	if err != nil {
		return nil, err
	}

	repro, err := readRepro(bundleDir)
	if err != nil {
		return nil, err
	}

	sourceDir := opts.SourceDir
	if sourceDir == "" {
		sourceDir = repro["workspace_root"]
	}

	sandboxDir, err := os.MkdirTemp("", "pp-replay-*")
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "creating replay sandbox")
	}

	if err := restoreManifestedFiles(sourceDir, sandboxDir, manifest); err != nil {
		return nil, err
	}

	finalPatch, err := os.ReadFile(filepath.Join(bundleDir, "final.patch"))
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "reading final.patch")
	}

	if len(finalPatch) > 0 {
		patch, err := diffpatch.Parse(string(finalPatch))
		if err != nil {
			return nil, err
		}

		applier := &diffpatch.Applier{
			SandboxRoot: sandboxDir,
			PathAllowed: pol.PathAllowed,
		}

		if err := applier.Apply(ctx, patch); err != nil {
			return nil, err
		}
	}

	results := make([]TargetResult, 0, len(pol.ProofTargets))

	for _, target := range pol.ProofTargets {
		result, err := runner.Run(ctx, runner.Target{Cmd: target.Cmd, Argv: target.Argv}, runner.Options{
			Dir:        sandboxDir,
			TimeoutSec: pol.Limits.PerCommandTimeoutSec,
			Env:        os.Environ(),
			Sandbox:    pol.Sandbox,
			Network:    pol.Network,
		})
		if err != nil {
			return nil, err
		}

		results = append(results, TargetResult{Name: target.Name, Result: result, Passed: result.Passed()})
	}

	return results, nil
}

// restoreManifestedFiles copies every file the bundle's workspace manifest
// recorded from sourceDir into sandboxDir, per spec §4.H: "copy
// workspace_manifest-recorded files from the given source tree into a
// fresh temp sandbox." A manifested file missing from sourceDir is an
// io_error (spec §8 scenario 6: "against a workspace missing one
// manifested file, exits 4 with io_error").
func restoreManifestedFiles(sourceDir, sandboxDir string, manifest workspace.Manifest) error {
	for _, f := range manifest.Files {
		src := filepath.Join(sourceDir, f.Path)

		data, err := os.ReadFile(src)
		if err != nil {
			return errs.Wrap(errs.IOError, err, "replay: source tree missing manifested file %s", f.Path)
		}

		dst := filepath.Join(sandboxDir, f.Path)

		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return errs.Wrap(errs.IOError, err, "mkdir %s", filepath.Dir(dst))
		}

		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return errs.Wrap(errs.IOError, err, "writing %s", dst)
		}
	}

	return nil
}

func readPolicy(bundleDir string) (*policy.Policy, error) {
	data, err := os.ReadFile(filepath.Join(bundleDir, "policy.json"))
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "reading policy.json")
	}

	var pol policy.Policy
	if err := json.Unmarshal(data, &pol); err != nil {
		return nil, errs.Wrap(errs.IOError, err, "decoding policy.json")
	}

	return &pol, nil
}

func readManifest(bundleDir string) (workspace.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(bundleDir, "workspace_manifest.json"))
	if err != nil {
		return workspace.Manifest{}, errs.Wrap(errs.IOError, err, "reading workspace_manifest.json")
	}

	var manifest workspace.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return workspace.Manifest{}, errs.Wrap(errs.IOError, err, "decoding workspace_manifest.json")
	}

	return manifest, nil
}

func readRepro(bundleDir string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(bundleDir, "repro.json"))
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "reading repro.json")
	}

	var repro map[string]any

	if err := json.Unmarshal(data, &repro); err != nil {
		return nil, errs.Wrap(errs.IOError, err, "decoding repro.json")
	}

	out := make(map[string]string, len(repro))

	for k, v := range repro {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}

	return out, nil
}
