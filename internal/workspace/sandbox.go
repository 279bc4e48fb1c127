// Package workspace implements the sandbox manager (spec.md §4.B): it
// materializes a writable copy of a workspace root using one of four
// backends (copy, git_worktree, container, auto) and builds the
// WorkspaceManifest spec.md §3 requires.
package workspace

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pp-engine/pp/internal/errs"
	"github.com/pp-engine/pp/internal/gitinfo"
	"github.com/pp-engine/pp/internal/policy"
)

// Sandbox is a materialized, writable copy of a workspace root (spec §3
// "sandbox_path").
type Sandbox struct {
	// Path is the absolute path to the sandbox root.
	Path string
	// Backend is the backend actually used (after "auto" resolution).
	Backend policy.SandboxBackend
	// IsGitWorktree is true when Path is a git worktree, which is what
	// internal/diffpatch.Applier.IsGitWorktree gates tier-1 git-apply on.
	IsGitWorktree bool
}

// Materialize builds a sandbox at <artifactDir>/sandbox from workspaceRoot
// using the requested backend (spec §4.B "Contract"). The sandbox
// directory is retained on disk by design (spec §4.B "Teardown": "Retained
// on disk; not deleted, to support replay.") -- callers never call a
// cleanup function for it.
func Materialize(ctx context.Context, backend policy.Sandbox, workspaceRoot, artifactDir string) (*Sandbox, error) {
	resolved := backend.Backend
	if resolved == policy.BackendAuto {
		if gitinfo.IsClean(ctx, workspaceRoot) {
			resolved = policy.BackendGitWorktree
		} else {
			resolved = policy.BackendCopy
		}
	}

	sandboxPath := filepath.Join(artifactDir, "sandbox")

	switch resolved {
	case policy.BackendGitWorktree:
		if err := materializeGitWorktree(ctx, workspaceRoot, sandboxPath); err != nil {
			return nil, err
		}

		return &Sandbox{Path: sandboxPath, Backend: resolved, IsGitWorktree: true}, nil

	case policy.BackendCopy, policy.BackendContainer:
		// Container mode materializes identically to copy; the container
		// runtime is invoked by internal/runner at verification time,
		// mounting this same directory at container_workdir (spec §4.B).
		if err := copyTree(workspaceRoot, sandboxPath, artifactDir); err != nil {
			return nil, err
		}

		return &Sandbox{Path: sandboxPath, Backend: resolved, IsGitWorktree: false}, nil

	default:
		return nil, errs.New(errs.InvalidConfig, "sandbox.backend %q unresolved", resolved)
	}
}

// materializeGitWorktree invokes host git to create a detached worktree at
// the current HEAD (spec §4.B "git_worktree").
func materializeGitWorktree(ctx context.Context, workspaceRoot, sandboxPath string) error {
	if err := os.MkdirAll(filepath.Dir(sandboxPath), 0o755); err != nil {
		return errs.Wrap(errs.IOError, err, "mkdir %s", filepath.Dir(sandboxPath))
	}

	_, err := gitRun(ctx, workspaceRoot, "worktree", "add", "--detach", sandboxPath, "HEAD")
	if err != nil {
		return err
	}

	return nil
}

// copyTree recursively copies src into dst, excluding the artifact
// directory (which must not be copied into itself when it nests under the
// workspace root); everything else, .git included, is copied (spec §4.B
// "copy": "recursive file copy excluding the artifact directory").
func copyTree(src, dst, excludeDir string) error {
	excludeAbs, err := filepath.Abs(excludeDir)
	if err != nil {
		excludeAbs = excludeDir
	}

	excludeAbs = filepath.Clean(excludeAbs)

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		abs, absErr := filepath.Abs(path)
		if absErr == nil && filepath.Clean(abs) == excludeAbs {
			return fs.SkipDir
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		if rel == "." {
			return os.MkdirAll(dst, 0o755)
		}

		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		return copyFile(path, target, d)
	})
}

func copyFile(src, dst string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return errs.Wrap(errs.IOError, err, "stat %s", src)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return errs.Wrap(errs.IOError, err, "readlink %s", src)
		}

		return os.Symlink(target, dst)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errs.Wrap(errs.IOError, err, "mkdir %s", filepath.Dir(dst))
	}

	in, err := os.Open(src)
	if err != nil {
		return errs.Wrap(errs.IOError, err, "open %s", src)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return errs.Wrap(errs.IOError, err, "create %s", dst)
	}

	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()

	if copyErr != nil {
		return errs.Wrap(errs.IOError, copyErr, "copy %s", src)
	}

	if closeErr != nil {
		return errs.Wrap(errs.IOError, closeErr, "close %s", dst)
	}

	return nil
}
