// Package envsnapshot implements the frozen environment read spec.md §5/§9
// requires: "Global state (environment variables) -> read once into a
// frozen EnvSnapshot at session start; all components receive it as an
// explicit input."
package envsnapshot

import "strings"

// Snapshot is the frozen, once-read view of the process environment that
// every downstream component is handed explicitly, rather than reading
// os.Environ() itself (spec §9 design note).
type Snapshot struct {
	Provider string

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	OpenAIMaxTokens string

	LocalBaseURL   string
	LocalModel     string
	LocalTimeoutSec string
	LocalAPIKey    string

	// AttestationKey holds the value of whatever environment variable the
	// policy's attestation.key_env names, read once here rather than
	// re-read from the environment at attest time (spec §5 "Shared
	// resources": "Environment variables named in key_env are read once at
	// session start and not logged.").
	AttestationKey string
	// attestationKeyPresent distinguishes "key_env set but empty" from
	// "key_env var absent" for HasAttestationKey; internal/attest itself
	// rejects an empty key the same way as a missing one.
	attestationKeyPresent bool
}

// secretPrefixes lists the environment variable name prefixes/names spec
// §4.C requires the command runner to strip from a verification command's
// child environment: "drop variables matching configured secret-name
// patterns -- minimally: names starting with PP_OPENAI_, PP_LOCAL_API_KEY,
// PP_ATTEST_".
var secretPrefixes = []string{"PP_OPENAI_", "PP_LOCAL_API_KEY", "PP_ATTEST_"}

// IsSecret reports whether name matches one of the secret-name patterns
// spec §4.C requires redacting from a spawned command's environment.
func IsSecret(name string) bool {
	for _, prefix := range secretPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}

	return false
}

// Take reads the fixed set of PP_* variables spec §6 enumerates, plus the
// policy-specified attestation key_env variable, out of env exactly once.
// env is typically os.Environ() turned into a map by the caller (cmd/pp),
// which keeps this package free of any direct os dependency and therefore
// trivially testable.
func Take(env map[string]string, attestationKeyEnv string) Snapshot {
	snap := Snapshot{
		Provider: env["PP_PROVIDER"],

		OpenAIAPIKey:    env["PP_OPENAI_API_KEY"],
		OpenAIBaseURL:   env["PP_OPENAI_BASE_URL"],
		OpenAIModel:     env["PP_OPENAI_MODEL"],
		OpenAIMaxTokens: env["PP_OPENAI_MAX_TOKENS"],

		LocalBaseURL:    env["PP_LOCAL_BASE_URL"],
		LocalModel:      env["PP_LOCAL_MODEL"],
		LocalTimeoutSec: env["PP_LOCAL_TIMEOUT_SEC"],
		LocalAPIKey:     env["PP_LOCAL_API_KEY"],
	}

	if attestationKeyEnv != "" {
		value, ok := env[attestationKeyEnv]
		snap.AttestationKey = value
		snap.attestationKeyPresent = ok
	}

	return snap
}

// HasAttestationKey reports whether the configured key_env variable was
// present (even if empty) when the snapshot was taken.
func (s Snapshot) HasAttestationKey() bool {
	return s.attestationKeyPresent
}

// RedactedChildEnv filters base (a "KEY=VALUE" slice, typically
// os.Environ()) down to the variables safe to inherit into a spawned
// verification command, per spec §4.C's "inherit a sanitized environment"
// requirement.
func RedactedChildEnv(base []string) []string {
	out := make([]string, 0, len(base))

	for _, kv := range base {
		name, _, ok := strings.Cut(kv, "=")
		if ok && IsSecret(name) {
			continue
		}

		out = append(out, kv)
	}

	return out
}
