// Package canonjson produces the canonical JSON encoding used throughout
// the proof bundle (spec §4.G "Canonical JSON"): object keys sorted
// lexicographically, UTF-8, LF line endings, two-space indentation, and no
// trailing newline. This is required for stable hashing of policy.json,
// environment.json, workspace_manifest.json, repro.json and the
// attestation manifest digest.
package canonjson

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Marshal encodes v as canonical JSON.
//
// v is first marshaled with the standard library (which already sorts map
// keys), then re-indented deterministically. Struct field order is
// controlled by the struct definition, so callers that need key sorting
// independent of field declaration order should marshal through a
// map[string]any or use MarshalSorted.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonjson: marshal: %w", err)
	}

	return reindent(raw)
}

// MarshalSorted encodes v as canonical JSON after round-tripping it through
// a generic map/slice representation, which guarantees object keys are
// sorted lexicographically regardless of the original struct's field order.
func MarshalSorted(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonjson: marshal: %w", err)
	}

	var generic any

	err = json.Unmarshal(raw, &generic)
	if err != nil {
		return nil, fmt.Errorf("canonjson: round-trip: %w", err)
	}

	return Marshal(generic)
}

// reindent re-serializes already-valid JSON bytes with two-space
// indentation, LF line endings, and no trailing newline. encoding/json
// already sorts map[string]any keys, which is what makes this canonical
// for our purposes (all serialized types are structs with fixed field
// order or maps).
func reindent(raw []byte) ([]byte, error) {
	var buf bytes.Buffer

	err := json.Indent(&buf, raw, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("canonjson: indent: %w", err)
	}

	out := buf.Bytes()
	out = bytes.ReplaceAll(out, []byte("\r\n"), []byte("\n"))
	out = bytes.TrimRight(out, "\n")

	return out, nil
}

// SHA256Hex returns the lowercase hex sha256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}
