package main

import (
	"context"
	"fmt"
	"io"

	flag "github.com/spf13/pflag"

	"github.com/pp-engine/pp/internal/attest"
	"github.com/pp-engine/pp/internal/policy"
)

// cmdAttest implements `pp attest <bundle> --mode hmac-sha256 --key-env
// <VAR>` (spec.md §6).
func cmdAttest(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string, env map[string]string) int {
	flags := flag.NewFlagSet("attest", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	mode := flags.String("mode", "hmac-sha256", "attestation mode (none|hmac-sha256)")
	keyEnv := flags.String("key-env", "", "environment variable naming the attestation key")
	jsonMode := flags.Bool("json", false, "emit a single JSON object to stdout")

	if err := flags.Parse(args); err != nil {
		fmt.Fprintln(stderr, "pp attest:", err)
		return exitPolicyOrInvalid
	}

	if flags.NArg() == 0 {
		fmt.Fprintln(stderr, "pp attest: missing <bundle_path>")
		return exitPolicyOrInvalid
	}

	bundleDir, err := expandHome(flags.Arg(0))
	if err != nil {
		fmt.Fprintln(stderr, "pp attest:", err)
		return exitInternalError
	}

	var key []byte
	if *keyEnv != "" {
		key = []byte(env[*keyEnv])
	}

	att, err := attest.Sign(bundleDir, policy.AttestationMode(*mode), key)
	if err != nil {
		fmt.Fprintln(stderr, "pp attest:", err)
		return exitCodeForErr(err)
	}

	if *jsonMode {
		_ = printJSON(stdout, map[string]any{"mode": att.Mode, "manifest_digest": att.ManifestDigest})
	} else {
		fmt.Fprintln(stdout, "attested:", bundleDir, "digest:", att.ManifestDigest)
	}

	return exitPass
}

// cmdVerifyAttestation implements `pp verify-attestation <bundle>
// [--key-env <VAR>]` (spec.md §6).
func cmdVerifyAttestation(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string, env map[string]string) int {
	flags := flag.NewFlagSet("verify-attestation", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	keyEnv := flags.String("key-env", "", "environment variable naming the attestation key")
	jsonMode := flags.Bool("json", false, "emit a single JSON object to stdout")

	if err := flags.Parse(args); err != nil {
		fmt.Fprintln(stderr, "pp verify-attestation:", err)
		return exitPolicyOrInvalid
	}

	if flags.NArg() == 0 {
		fmt.Fprintln(stderr, "pp verify-attestation: missing <bundle_path>")
		return exitPolicyOrInvalid
	}

	bundleDir, err := expandHome(flags.Arg(0))
	if err != nil {
		fmt.Fprintln(stderr, "pp verify-attestation:", err)
		return exitInternalError
	}

	var key []byte
	if *keyEnv != "" {
		key = []byte(env[*keyEnv])
	}

	att, err := attest.Verify(bundleDir, key)
	if err != nil {
		fmt.Fprintln(stderr, "pp verify-attestation:", err)
		return exitCodeForErr(err)
	}

	if *jsonMode {
		_ = printJSON(stdout, map[string]any{"mode": att.Mode, "manifest_digest": att.ManifestDigest, "valid": true})
	} else {
		fmt.Fprintln(stdout, "ok:", bundleDir)
	}

	return exitPass
}
