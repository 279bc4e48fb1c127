// Package gitinfo captures source provenance from a git working tree, used
// by the orchestrator to populate repro.json's git_* fields and
// source_git.diff (spec.md §4.A step 1, §6 repro.json fields). It shells
// out to the host git binary exactly the way the teacher's sandbox
// package shells out to bwrap/git apply: build argv, run under
// exec.CommandContext, and turn a non-zero exit into a typed error rather
// than panicking.
package gitinfo

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/pp-engine/pp/internal/errs"
)

// Info is the git provenance of a workspace root at the moment a session
// started (spec §4.A step 1).
type Info struct {
	IsRepo    bool
	Commit    string
	Branch    string
	RemoteURL string
	Dirty     bool
	// DirtyDiff is the working tree's uncommitted changes, recorded
	// verbatim as source_git.diff when Dirty is true.
	DirtyDiff string
}

// Capture inspects workspaceRoot and returns its git provenance. A
// workspace that is not a git repository at all is not an error: Info.IsRepo
// is simply false and every other field is zero.
func Capture(ctx context.Context, workspaceRoot string) (Info, error) {
	if !isGitRepo(ctx, workspaceRoot) {
		return Info{}, nil
	}

	info := Info{IsRepo: true}

	var err error

	info.Commit, err = runGit(ctx, workspaceRoot, "rev-parse", "HEAD")
	if err != nil {
		return Info{}, err
	}

	info.Branch, err = runGit(ctx, workspaceRoot, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return Info{}, err
	}

	info.RemoteURL, _ = runGit(ctx, workspaceRoot, "remote", "get-url", "origin")

	status, err := runGit(ctx, workspaceRoot, "status", "--porcelain")
	if err != nil {
		return Info{}, err
	}

	info.Dirty = status != ""

	if info.Dirty {
		diff, err := runGitCombined(ctx, workspaceRoot, "diff", "HEAD")
		if err != nil {
			return Info{}, err
		}

		info.DirtyDiff = diff
	}

	return info, nil
}

// IsClean reports whether the workspace is a git repository with no
// uncommitted changes, the precondition spec §4.B's "auto" backend uses
// to choose git_worktree over copy.
func IsClean(ctx context.Context, workspaceRoot string) bool {
	if !isGitRepo(ctx, workspaceRoot) {
		return false
	}

	status, err := runGit(ctx, workspaceRoot, "status", "--porcelain")

	return err == nil && status == ""
}

func isGitRepo(ctx context.Context, dir string) bool {
	_, err := runGit(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := runGitCombined(ctx, dir, args...)
	return strings.TrimSpace(out), err
}

func runGitCombined(ctx context.Context, dir string, args ...string) (string, error) {
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
