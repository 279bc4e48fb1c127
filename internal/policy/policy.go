// Package policy implements the pure, frozen Policy record (spec §3) and
// its evaluator (spec §4.D). It has no filesystem or network dependency;
// loading a Policy from disk is the job of internal/policyfile.
package policy

import (
	"fmt"

	"github.com/pp-engine/pp/internal/canonjson"
	"github.com/pp-engine/pp/internal/errs"
)

// Network is the sandbox's network posture.
type Network string

const (
	NetworkAllow Network = "allow"
	NetworkDeny  Network = "deny"
)

// SandboxBackend selects how the sandbox is materialized (spec §4.B).
type SandboxBackend string

const (
	BackendAuto        SandboxBackend = "auto"
	BackendCopy        SandboxBackend = "copy"
	BackendGitWorktree SandboxBackend = "git_worktree"
	BackendContainer   SandboxBackend = "container"
)

// AttestationMode selects the attestation signing scheme (spec §3).
type AttestationMode string

const (
	AttestationNone      AttestationMode = "none"
	AttestationHMACSHA256 AttestationMode = "hmac-sha256"
)

// ProofTarget is a named verification command (spec §3).
type ProofTarget struct {
	Name string   `json:"name" yaml:"name"`
	Cmd  string   `json:"cmd" yaml:"cmd"`
	Argv []string `json:"argv,omitempty" yaml:"argv,omitempty"`
}

// Limits bounds attempt/patch size (spec §3).
type Limits struct {
	MaxAttempts          int `json:"max_attempts" yaml:"max_attempts"`
	MaxFilesChanged      int `json:"max_files_changed" yaml:"max_files_changed"`
	MaxPatchBytes        int `json:"max_patch_bytes" yaml:"max_patch_bytes"`
	PerCommandTimeoutSec int `json:"per_command_timeout_sec" yaml:"per_command_timeout_sec"`
}

// Sandbox configures sandbox materialization (spec §3).
type Sandbox struct {
	Backend          SandboxBackend `json:"backend" yaml:"backend"`
	ContainerRuntime string         `json:"container_runtime,omitempty" yaml:"container_runtime,omitempty"`
	ContainerImage   string         `json:"container_image,omitempty" yaml:"container_image,omitempty"`
	ContainerWorkdir string         `json:"container_workdir,omitempty" yaml:"container_workdir,omitempty"`
	CPULimit         string         `json:"cpu_limit,omitempty" yaml:"cpu_limit,omitempty"`
	MemoryLimit      string         `json:"memory_limit,omitempty" yaml:"memory_limit,omitempty"`
}

// Attestation configures bundle signing (spec §3).
type Attestation struct {
	Enabled bool            `json:"enabled" yaml:"enabled"`
	Mode    AttestationMode `json:"mode" yaml:"mode"`
	KeyEnv  string          `json:"key_env,omitempty" yaml:"key_env,omitempty"`
}

// Policy is the immutable, hashed configuration for one session (spec §3).
//
// A Policy must not be mutated after construction; Hash() is only
// meaningful for a value that will never change again.
type Policy struct {
	Network         Network       `json:"network" yaml:"network"`
	AllowedCommands []string      `json:"allowed_commands,omitempty" yaml:"allowed_commands,omitempty"`
	AllowedArgv     [][]string    `json:"allowed_argv,omitempty" yaml:"allowed_argv,omitempty"`
	WriteAllowlist  []string      `json:"write_allowlist,omitempty" yaml:"write_allowlist,omitempty"`
	DenyWrite       []string      `json:"deny_write,omitempty" yaml:"deny_write,omitempty"`
	Limits          Limits        `json:"limits" yaml:"limits"`
	Minimize        bool          `json:"minimize" yaml:"minimize"`
	Sandbox         Sandbox       `json:"sandbox" yaml:"sandbox"`
	Attestation     Attestation   `json:"attestation" yaml:"attestation"`
	ProofTargets    []ProofTarget `json:"proof_targets,omitempty" yaml:"proof_targets,omitempty"`

	// Raw is populated by internal/policyfile purely for environment.json
	// provenance logging (e.g. which source file a policy was loaded
	// from); it plays no role in Canonical/Hash.
	Raw map[string]any `json:"-" yaml:"-"`
}

// Validate enforces the static invariants spec'd in §3/§8 that do not
// depend on the filesystem or environment.
func (p *Policy) Validate() error {
	if p.Limits.MaxAttempts < 1 {
		return errs.New(errs.InvalidConfig, "limits.max_attempts must be >= 1, got %d", p.Limits.MaxAttempts)
	}

	switch p.Network {
	case NetworkAllow, NetworkDeny:
	default:
		return errs.New(errs.InvalidConfig, "network must be %q or %q, got %q", NetworkAllow, NetworkDeny, p.Network)
	}

	switch p.Sandbox.Backend {
	case BackendAuto, BackendCopy, BackendGitWorktree, BackendContainer:
	default:
		return errs.New(errs.InvalidConfig, "sandbox.backend %q is not one of auto|copy|git_worktree|container", p.Sandbox.Backend)
	}

	if p.Sandbox.Backend == BackendContainer && p.Sandbox.ContainerRuntime == "" {
		return errs.New(errs.InvalidConfig, "sandbox.backend=container requires sandbox.container_runtime")
	}

	if p.Attestation.Enabled {
		switch p.Attestation.Mode {
		case AttestationHMACSHA256:
			if p.Attestation.KeyEnv == "" {
				return errs.New(errs.InvalidConfig, "attestation.enabled requires attestation.key_env")
			}
		case AttestationNone, "":
			return errs.New(errs.InvalidConfig, "attestation.enabled=true requires a non-none attestation.mode")
		default:
			return errs.New(errs.InvalidConfig, "attestation.mode %q is not supported", p.Attestation.Mode)
		}
	}

	return nil
}

// Canonical returns the canonical JSON serialization of the policy (spec
// §4.G), used both for policy.json and for Hash.
func (p *Policy) Canonical() ([]byte, error) {
	data, err := canonjson.MarshalSorted(p)
	if err != nil {
		return nil, fmt.Errorf("policy: canonical serialization: %w", err)
	}

	return data, nil
}

// Hash returns the sha256 hex digest of the policy's canonical
// serialization, recorded as repro.json.policy_hash (spec §3 invariant).
func (p *Policy) Hash() (string, error) {
	data, err := p.Canonical()
	if err != nil {
		return "", err
	}

	return canonjson.SHA256Hex(data), nil
}
