// Package policyfile loads a spec.md §3 Policy from a JSON, JSONC, or YAML
// document on disk (spec.md §1 lists "policy file parsing" as an external,
// lightly-tested collaborator, not part of the core's tested invariants).
//
// JSON/JSONC decoding is grounded directly on the teacher's own
// cmd/agent-sandbox/config.go parseConfigFile: standardize through
// tailscale/hujson (which strips comments/trailing commas), then decode
// with json.Decoder.DisallowUnknownFields so an unrecognized field is a
// load-time error rather than silently ignored, matching spec.md §9's
// "Unknown fields in the source policy document are rejected with
// invalid_config."
package policyfile

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/pp-engine/pp/internal/errs"
	"github.com/pp-engine/pp/internal/policy"
)

// Load reads a policy document from path, dispatching on extension: .yaml
// and .yml are parsed with gopkg.in/yaml.v3 (grounded on the pack's own
// direct yaml.v3 dependency), everything else is treated as JSON/JSONC via
// hujson.Standardize, the teacher's own config format.
func Load(path string) (*policy.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "reading policy file %s", path)
	}

	var pol policy.Policy

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = loadYAML(data, &pol)
	default:
		err = loadJSON(data, &pol)
	}

	if err != nil {
		return nil, err
	}

	applyDefaults(&pol)

	if err := pol.Validate(); err != nil {
		return nil, err
	}

	pol.Raw = map[string]any{"source_path": path}

	return &pol, nil
}

func loadJSON(data []byte, pol *policy.Policy) error {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return errs.Wrap(errs.InvalidConfig, err, "parsing policy JSON/JSONC")
	}

	decoder := json.NewDecoder(bytes.NewReader(standardized))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(pol); err != nil {
		return errs.Wrap(errs.InvalidConfig, err, "decoding policy JSON")
	}

	return nil
}

func loadYAML(data []byte, pol *policy.Policy) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(pol); err != nil {
		return errs.Wrap(errs.InvalidConfig, err, "decoding policy YAML")
	}

	return nil
}

// applyDefaults fills the handful of fields spec.md §3 implies have a
// sensible default when the document omits them entirely: network denial
// and the auto sandbox backend are the conservative choices.
func applyDefaults(pol *policy.Policy) {
	if pol.Network == "" {
		pol.Network = policy.NetworkDeny
	}

	if pol.Sandbox.Backend == "" {
		pol.Sandbox.Backend = policy.BackendAuto
	}

	if pol.Attestation.Mode == "" {
		pol.Attestation.Mode = policy.AttestationNone
	}
}
