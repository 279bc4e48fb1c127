package orchestrator

import (
	"fmt"
	"strings"

	"github.com/pp-engine/pp/internal/policy"
	"github.com/pp-engine/pp/internal/runner"
)

// buildPrompt assembles the context bundle spec.md §4.A step 4 requires:
// the failing command, trimmed stdout/stderr tails, the paths the policy
// permits writes to, and every prior attempt's diff text.
func buildPrompt(target policy.ProofTarget, verify runner.Result, pol *policy.Policy, priorDiffs []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "The following verification command is failing:\n\n    %s\n\n", targetString(target))
	fmt.Fprintf(&b, "Exit code: %d\n\n", verify.ExitCode)

	if verify.Stdout != "" {
		fmt.Fprintf(&b, "--- stdout (tail) ---\n%s\n\n", verify.Stdout)
	}

	if verify.Stderr != "" {
		fmt.Fprintf(&b, "--- stderr (tail) ---\n%s\n\n", verify.Stderr)
	}

	b.WriteString("You may only write to paths matching:\n")
	for _, p := range pol.WriteAllowlist {
		fmt.Fprintf(&b, "  %s\n", p)
	}

	for _, p := range pol.DenyWrite {
		fmt.Fprintf(&b, "(except, denied: %s)\n", p)
	}

	if len(priorDiffs) > 0 {
		b.WriteString("\nPrior attempts already tried (and failed):\n")

		for i, d := range priorDiffs {
			fmt.Fprintf(&b, "\n--- attempt %d ---\n%s\n", i+1, d)
		}
	}

	b.WriteString("\nRespond with a unified diff (--- a/path / +++ b/path / @@ hunks) that fixes the failure. " +
		"Make no other changes.")

	return b.String()
}

func targetString(target policy.ProofTarget) string {
	if target.Cmd != "" {
		return target.Cmd
	}

	return strings.Join(target.Argv, " ")
}
