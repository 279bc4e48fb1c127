package policy_test

import (
	"testing"

	"github.com/pp-engine/pp/internal/errs"
	"github.com/pp-engine/pp/internal/policy"
)

func basePolicy() policy.Policy {
	return policy.Policy{
		Network:         policy.NetworkDeny,
		AllowedCommands: []string{"python -m unittest discover -s tests -v"},
		WriteAllowlist:  []string{"math_utils.py"},
		Limits: policy.Limits{
			MaxAttempts:          3,
			MaxFilesChanged:      5,
			MaxPatchBytes:        10_000,
			PerCommandTimeoutSec: 30,
		},
		Sandbox: policy.Sandbox{Backend: policy.BackendAuto},
	}
}

func TestValidate_RejectsZeroMaxAttempts(t *testing.T) {
	p := basePolicy()
	p.Limits.MaxAttempts = 0

	err := p.Validate()
	if err == nil {
		t.Fatal("expected error for max_attempts=0")
	}

	e, ok := errs.As(err)
	if !ok || e.Kind != errs.InvalidConfig {
		t.Fatalf("expected InvalidConfig, got %v", err)
	}
}

func TestValidate_MaxAttemptsOneIsAllowed(t *testing.T) {
	p := basePolicy()
	p.Limits.MaxAttempts = 1

	if err := p.Validate(); err != nil {
		t.Fatalf("max_attempts=1 should be valid: %v", err)
	}
}

func TestCommandAllowed_UnionOfCommandsAndArgv(t *testing.T) {
	p := basePolicy()
	p.AllowedArgv = [][]string{{"pytest", "-q"}}

	if !p.CommandAllowed("python -m unittest discover -s tests -v", nil) {
		t.Error("expected allowed_commands match to pass")
	}

	if !p.CommandAllowed("", []string{"pytest", "-q"}) {
		t.Error("expected allowed_argv match to pass")
	}

	if p.CommandAllowed("rm -rf /", []string{"rm", "-rf", "/"}) {
		t.Error("expected unrelated command to be rejected")
	}
}

func TestCommandAllowed_NoPrefixOrGlobMatch(t *testing.T) {
	p := basePolicy()

	if p.CommandAllowed("python -m unittest discover -s tests -v extra", nil) {
		t.Error("prefix match must not be allowed")
	}
}

func TestPathAllowed_DenyWinsOnOverlap(t *testing.T) {
	p := basePolicy()
	p.WriteAllowlist = []string{"**"}
	p.DenyWrite = []string{"secrets/**"}

	if p.PathAllowed("secrets/key") {
		t.Error("deny_write must win over an overlapping allowlist glob")
	}

	if !p.PathAllowed("math_utils.py") {
		t.Error("path outside deny glob should remain allowed")
	}
}

func TestPathAllowed_EmptyAllowlistRejectsEverything(t *testing.T) {
	p := basePolicy()
	p.WriteAllowlist = nil

	if p.PathAllowed("math_utils.py") {
		t.Error("empty write_allowlist must reject every patch")
	}
}

func TestPathAllowed_DoubleStarCrossesSegments(t *testing.T) {
	p := basePolicy()
	p.WriteAllowlist = []string{"src/**/*.go"}

	if !p.PathAllowed("src/a/b/c.go") {
		t.Error("** should match across multiple path segments")
	}

	if p.PathAllowed("src/a/b/c.txt") {
		t.Error("extension must still be respected")
	}
}

func TestNormalizeWritePath_RejectsEscapes(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"a/b.py", true},
		{"../etc/passwd", false},
		{"/etc/passwd", false},
		{"a/../../b.py", false},
		{"", false},
	}

	for _, tc := range cases {
		_, ok := policy.NormalizeWritePath(tc.in)
		if ok != tc.ok {
			t.Errorf("NormalizeWritePath(%q) ok=%v, want %v", tc.in, ok, tc.ok)
		}
	}
}

func TestEvaluatePatch_Limits(t *testing.T) {
	p := basePolicy()
	p.WriteAllowlist = []string{"**"}

	t.Run("too many files", func(t *testing.T) {
		p := p
		p.Limits.MaxFilesChanged = 1
		res := p.EvaluatePatch([]string{"a.py", "b.py"}, 10)
		if res.Allowed || res.Reason != policy.ReasonTooManyFiles {
			t.Fatalf("expected too_many_files, got %+v", res)
		}
	})

	t.Run("patch too large", func(t *testing.T) {
		p := p
		p.Limits.MaxPatchBytes = 100
		res := p.EvaluatePatch([]string{"a.py"}, 2048)
		if res.Allowed || res.Reason != policy.ReasonPatchTooLarge {
			t.Fatalf("expected patch_too_large, got %+v", res)
		}
	})

	t.Run("path not allowed", func(t *testing.T) {
		p := p
		p.WriteAllowlist = []string{"math_utils.py"}
		res := p.EvaluatePatch([]string{"secrets/key"}, 10)
		if res.Allowed || res.Reason != policy.ReasonPathNotAllowed {
			t.Fatalf("expected path_not_allowed, got %+v", res)
		}
	})

	t.Run("allowed", func(t *testing.T) {
		res := p.EvaluatePatch([]string{"a.py"}, 10)
		if !res.Allowed {
			t.Fatalf("expected allowed, got %+v", res)
		}
	})
}

func TestHash_DeterministicAndContentSensitive(t *testing.T) {
	p1 := basePolicy()
	p2 := basePolicy()

	h1, err := p1.Hash()
	if err != nil {
		t.Fatal(err)
	}

	h2, err := p2.Hash()
	if err != nil {
		t.Fatal(err)
	}

	if h1 != h2 {
		t.Errorf("identical policies hashed differently: %s vs %s", h1, h2)
	}

	p2.AllowedCommands = append([]string{}, p2.AllowedCommands...)
	p2.AllowedCommands[0] = "different command"

	h3, err := p2.Hash()
	if err != nil {
		t.Fatal(err)
	}

	if h3 == h1 {
		t.Error("differing policies must hash differently")
	}
}
