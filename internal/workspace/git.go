package workspace

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/pp-engine/pp/internal/errs"
)

// gitRun shells out to the host git binary the same way internal/gitinfo
// does, used here only for "git worktree add" during sandbox materialization.
func gitRun(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", errs.Wrap(errs.IOError, err, "git %s: %s", strings.Join(args, " "), strings.TrimSpace(stderr.String()))
		}

		return "", errs.Wrap(errs.IOError, err, "git %s", strings.Join(args, " "))
	}

	return stdout.String(), nil
}
