// Package attest implements bundle attestation and verification (spec.md
// §4.H): a manifest of per-file sha256 digests over the bundle directory,
// a digest of that manifest's canonical serialization, and an optional
// HMAC-SHA256 signature over the digest.
package attest

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/pp-engine/pp/internal/canonjson"
	"github.com/pp-engine/pp/internal/errs"
	"github.com/pp-engine/pp/internal/policy"
)

// attestationFileName is excluded from its own manifest (spec §3
// invariant: "attestation.json is never listed in its own manifest.").
const attestationFileName = "attestation.json"

// Attestation is the on-disk attestation.json record (spec §3).
type Attestation struct {
	Mode           policy.AttestationMode `json:"mode"`
	BundleManifest map[string]string      `json:"bundle_manifest"`
	ManifestDigest string                 `json:"manifest_digest"`
	Signature      string                 `json:"signature,omitempty"`
}

// Sign walks bundleDir, computes bundle_manifest (spec §4.H "Sign"), and
// writes attestation.json. key is the raw bytes of whatever environment
// variable policy.Attestation.KeyEnv names; it must be non-empty when mode
// is hmac-sha256 (spec §4.H: "absent key => error").
func Sign(bundleDir string, mode policy.AttestationMode, key []byte) (*Attestation, error) {
	manifest, err := buildManifest(bundleDir)
	if err != nil {
		return nil, err
	}

	digest, err := manifestDigest(manifest)
	if err != nil {
		return nil, err
	}

	att := &Attestation{Mode: mode, BundleManifest: manifest, ManifestDigest: digest}

	if mode == policy.AttestationHMACSHA256 {
		if len(key) == 0 {
			return nil, errs.New(errs.IOError, "attestation mode hmac-sha256 requires a non-empty key")
		}

		att.Signature = hmacHex(key, digest)
	}

	if err := writeAttestation(bundleDir, att); err != nil {
		return nil, err
	}

	return att, nil
}

// Verify recomputes the bundle manifest and compares it against the
// recorded attestation.json, per spec §4.H "Verify". Any mismatch returns
// an *errs.E with Kind AttestationMismatch naming the first offending path.
func Verify(bundleDir string, key []byte) (*Attestation, error) {
	recorded, err := readAttestation(bundleDir)
	if err != nil {
		return nil, err
	}

	current, err := buildManifest(bundleDir)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(recorded.BundleManifest))
	for p := range recorded.BundleManifest {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	for _, p := range paths {
		got, ok := current[p]
		if !ok || got != recorded.BundleManifest[p] {
			return nil, errs.New(errs.AttestationMismatch, "file changed or missing: %s", p)
		}
	}

	for p := range current {
		if _, ok := recorded.BundleManifest[p]; !ok {
			return nil, errs.New(errs.AttestationMismatch, "unexpected file not in manifest: %s", p)
		}
	}

	digest, err := manifestDigest(current)
	if err != nil {
		return nil, err
	}

	if digest != recorded.ManifestDigest {
		return nil, errs.New(errs.AttestationMismatch, "manifest_digest mismatch")
	}

	if recorded.Mode == policy.AttestationHMACSHA256 {
		if len(key) == 0 {
			return nil, errs.New(errs.AttestationMismatch, "hmac-sha256 attestation requires a key to verify")
		}

		expected := hmacHex(key, digest)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(recorded.Signature)) != 1 {
			return nil, errs.New(errs.AttestationMismatch, "signature mismatch")
		}
	}

	return recorded, nil
}

func buildManifest(bundleDir string) (map[string]string, error) {
	manifest := map[string]string{}

	err := filepath.WalkDir(bundleDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(bundleDir, path)
		if err != nil {
			return err
		}

		rel = filepath.ToSlash(rel)
		if rel == attestationFileName {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		sum := sha256.Sum256(data)
		manifest[rel] = hex.EncodeToString(sum[:])

		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "walking bundle %s", bundleDir)
	}

	return manifest, nil
}

// manifestDigest hashes the canonical serialization of the manifest (keys
// sorted, per spec §3 "Attestation"); canonjson.MarshalSorted already
// sorts map keys.
func manifestDigest(manifest map[string]string) (string, error) {
	data, err := canonjson.MarshalSorted(manifest)
	if err != nil {
		return "", errs.Wrap(errs.IOError, err, "encoding bundle manifest")
	}

	return canonjson.SHA256Hex(data), nil
}

func hmacHex(key []byte, digest string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(digest))

	return hex.EncodeToString(mac.Sum(nil))
}

func writeAttestation(bundleDir string, att *Attestation) error {
	data, err := canonjson.MarshalSorted(att)
	if err != nil {
		return errs.Wrap(errs.IOError, err, "encoding attestation")
	}

	path := filepath.Join(bundleDir, attestationFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Wrap(errs.IOError, err, "writing %s", path)
	}

	return nil
}

func readAttestation(bundleDir string) (*Attestation, error) {
	path := filepath.Join(bundleDir, attestationFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "reading %s", path)
	}

	var att Attestation

	if err := json.Unmarshal(data, &att); err != nil {
		return nil, errs.Wrap(errs.IOError, err, "decoding %s", path)
	}

	return &att, nil
}
