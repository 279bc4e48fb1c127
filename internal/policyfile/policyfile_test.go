package policyfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pp-engine/pp/internal/policy"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	return path
}

const jsoncDoc = `{
  // allow only the unit test runner
  "network": "deny",
  "allowed_commands": ["python -m unittest discover -s tests -v"],
  "write_allowlist": ["math_utils.py"],
  "limits": {"max_attempts": 3, "max_files_changed": 1, "max_patch_bytes": 4096, "per_command_timeout_sec": 30},
  "sandbox": {"backend": "copy"},
  "attestation": {"enabled": false, "mode": "none"},
}`

func TestLoad_JSONC(t *testing.T) {
	path := writeTemp(t, "policy.jsonc", jsoncDoc)

	pol, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if pol.Limits.MaxAttempts != 3 {
		t.Fatalf("got max_attempts=%d", pol.Limits.MaxAttempts)
	}

	if pol.Sandbox.Backend != policy.BackendCopy {
		t.Fatalf("got backend=%q", pol.Sandbox.Backend)
	}
}

const yamlDoc = `
network: deny
allowed_commands:
  - "go test ./..."
write_allowlist:
  - "**"
limits:
  max_attempts: 2
  max_files_changed: 3
  max_patch_bytes: 2048
  per_command_timeout_sec: 10
sandbox:
  backend: auto
attestation:
  enabled: false
  mode: none
`

func TestLoad_YAML(t *testing.T) {
	path := writeTemp(t, "policy.yaml", yamlDoc)

	pol, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if pol.Limits.MaxAttempts != 2 {
		t.Fatalf("got max_attempts=%d", pol.Limits.MaxAttempts)
	}

	wantCommands := []string{"go test ./..."}
	if diff := cmp.Diff(wantCommands, pol.AllowedCommands); diff != "" {
		t.Fatalf("allowed_commands mismatch (-want +got):\n%s", diff)
	}

	wantAllowlist := []string{"**"}
	if diff := cmp.Diff(wantAllowlist, pol.WriteAllowlist); diff != "" {
		t.Fatalf("write_allowlist mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	path := writeTemp(t, "policy.json", `{"network":"deny","bogus_field":true,"limits":{"max_attempts":1,"max_files_changed":1,"max_patch_bytes":1,"per_command_timeout_sec":1},"sandbox":{"backend":"copy"},"attestation":{"mode":"none"}}`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected invalid_config error for unknown field")
	}
}

func TestLoad_InvalidMaxAttemptsRejected(t *testing.T) {
	path := writeTemp(t, "policy.json", `{"network":"deny","limits":{"max_attempts":0,"max_files_changed":1,"max_patch_bytes":1,"per_command_timeout_sec":1},"sandbox":{"backend":"copy"},"attestation":{"mode":"none"}}`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected invalid_config error for max_attempts=0 (spec §8 boundary)")
	}
}
