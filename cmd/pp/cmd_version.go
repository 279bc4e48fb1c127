package main

import (
	"context"
	"fmt"
	"io"
)

// cmdVersion implements the ambient `pp version` subcommand (SPEC_FULL.md
// §6 expansion), printing the same version/commit/date triple the
// teacher's --version flag formats.
func cmdVersion(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string, env map[string]string) int {
	fmt.Fprintln(stdout, formatVersion())
	return exitPass
}

func formatVersion() string {
	if version == "source" {
		return "pp (built from source)"
	}

	return fmt.Sprintf("pp %s (%s, %s)", version, commit, date)
}
