package diffpatch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pp-engine/pp/internal/errs"
)

// PathAllowed is re-checked for every write path immediately before the
// write happens, per spec.md §4.E "Safety": "All write paths are
// re-validated against 4.D immediately before write."
type PathAllowed func(relPath string) bool

// Applier applies a Patch to a sandbox directory using the three-tier
// strategy spec.md §4.E requires: git apply in a git worktree, an in-process
// hunk applier, and a full-file rewrite fallback.
type Applier struct {
	// SandboxRoot is the absolute path the patch is applied relative to.
	SandboxRoot string
	// IsGitWorktree selects tier 1 (git apply) when true.
	IsGitWorktree bool
	// PathAllowed re-validates every write path before it touches disk.
	PathAllowed PathAllowed
}

// Apply applies patch to a.SandboxRoot. On any failure the sandbox is left
// byte-for-byte unchanged (spec.md §8 "transactional apply" invariant):
// every write in this call is staged against an in-memory undo list and
// reverted as a unit if any single file fails.
func (a *Applier) Apply(ctx context.Context, patch Patch) error {
	for _, fc := range patch.Files {
		if !a.PathAllowed(fc.mutatedPath()) {
			return errs.New(errs.PathNotAllowed, "path not allowed: %s", fc.mutatedPath())
		}
	}

	if a.IsGitWorktree {
		if err := a.applyWithGit(ctx, patch); err == nil {
			return nil
		}
	}

	return a.applyInProcess(patch)
}

// ApplyRewrite performs the tier-3 fallback (spec.md §4.E step 3): it
// overwrites a single file with the full content the proposer supplied,
// atomically, and only after re-validating the path against policy.
func (a *Applier) ApplyRewrite(rw Rewrite) error {
	if !a.PathAllowed(rw.Path) {
		return errs.New(errs.PathNotAllowed, "path not allowed: %s", rw.Path)
	}

	abs := filepath.Join(a.SandboxRoot, rw.Path)

	if err := writeFileAtomic(abs, []byte(rw.Content)); err != nil {
		return errs.Wrap(errs.PatchApplyFailed, err, "rewrite %s", rw.Path)
	}

	return nil
}

// applyWithGit is tier 1: "git apply --index --whitespace=nowarn <patch>"
// against a temp file holding the serialized patch, run inside the sandbox
// worktree (spec.md §4.E step 1).
func (a *Applier) applyWithGit(ctx context.Context, patch Patch) error {
	f, err := os.CreateTemp("", "pp-patch-*.diff")
	if err != nil {
		return errs.Wrap(errs.IOError, err, "creating temp patch file")
	}
	defer os.Remove(f.Name())

	_, err = f.WriteString(Serialize(patch))
	closeErr := f.Close()

	if err != nil {
		return errs.Wrap(errs.PatchApplyFailed, err, "writing temp patch file")
	}

	if closeErr != nil {
		return errs.Wrap(errs.PatchApplyFailed, closeErr, "closing temp patch file")
	}

	cmd := exec.CommandContext(ctx, "git", "apply", "--index", "--whitespace=nowarn", f.Name())
	cmd.Dir = a.SandboxRoot

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return errs.Wrap(errs.PatchApplyFailed, err, "git apply: %s", stderr.String())
	}

	return nil
}

// undoEntry records enough to revert one file's write.
type undoEntry struct {
	path    string
	existed bool
	content []byte
	mode    os.FileMode
}

// applyInProcess is tier 2: a three-way-unaware hunk applier (spec.md §4.E
// step 2). Every touched file's prior bytes are captured first so the whole
// apply can be rolled back on the first failure, satisfying the
// transactional-apply invariant in spec.md §8.
func (a *Applier) applyInProcess(patch Patch) error {
	var undo []undoEntry

	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			e := undo[i]
			if !e.existed {
				os.Remove(e.path)
				continue
			}

			os.WriteFile(e.path, e.content, e.mode)
		}
	}

	for _, fc := range patch.Files {
		entries, err := a.snapshot(fc)
		if err != nil {
			rollback()
			return err
		}

		undo = append(undo, entries...)

		if err := a.applyFileChange(fc); err != nil {
			rollback()
			return err
		}
	}

	return nil
}

// snapshot records the pre-apply state of every path fc is about to touch,
// so applyInProcess can revert it. A rename touches both the old path
// (removed) and the new path (written), so both are captured.
func (a *Applier) snapshot(fc FileChange) ([]undoEntry, error) {
	paths := []string{}

	switch fc.Mode {
	case ModeDelete:
		paths = append(paths, fc.OldPath)
	case ModeRename:
		paths = append(paths, fc.OldPath, fc.NewPath)
	default:
		paths = append(paths, fc.NewPath)
	}

	entries := make([]undoEntry, 0, len(paths))

	for _, p := range paths {
		abs := filepath.Join(a.SandboxRoot, p)

		info, err := os.Stat(abs)
		if err != nil {
			if os.IsNotExist(err) {
				entries = append(entries, undoEntry{path: abs, existed: false})
				continue
			}

			return nil, errs.Wrap(errs.IOError, err, "stat %s", p)
		}

		content, err := os.ReadFile(abs)
		if err != nil {
			return nil, errs.Wrap(errs.IOError, err, "read %s", p)
		}

		entries = append(entries, undoEntry{path: abs, existed: true, content: content, mode: info.Mode()})
	}

	return entries, nil
}

// applyFileChange performs one FileChange's hunk math against the sandbox,
// per spec.md §4.E step 2: "for each hunk, locate old_start..old_start+old_len
// in the file, verify every context+remove line matches verbatim; replace
// with context+add lines. Creates write new files, deletes remove them."
func (a *Applier) applyFileChange(fc FileChange) error {
	switch fc.Mode {
	case ModeDelete:
		abs := filepath.Join(a.SandboxRoot, fc.OldPath)

		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return errs.Wrap(errs.PatchApplyFailed, err, "delete %s", fc.OldPath)
		}

		return nil

	case ModeCreate:
		lines, err := renderCreatedFile(fc)
		if err != nil {
			return err
		}

		return writeFileAtomic(filepath.Join(a.SandboxRoot, fc.NewPath), lines)

	default:
		srcPath := fc.OldPath
		abs := filepath.Join(a.SandboxRoot, srcPath)

		original, err := os.ReadFile(abs)
		if err != nil {
			return errs.Wrap(errs.PatchApplyFailed, err, "read %s", srcPath)
		}

		patched, err := applyHunks(splitLines(original), fc.Hunks)
		if err != nil {
			return errs.Wrap(errs.PatchApplyFailed, err, "apply hunks to %s", srcPath)
		}

		destPath := fc.NewPath
		if fc.Mode == ModeRename && destPath != srcPath {
			if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
				return errs.Wrap(errs.PatchApplyFailed, err, "remove renamed source %s", srcPath)
			}
		}

		return writeFileAtomic(filepath.Join(a.SandboxRoot, destPath), joinLines(patched))
	}
}

func renderCreatedFile(fc FileChange) ([]byte, error) {
	patched, err := applyHunks(nil, fc.Hunks)
	if err != nil {
		return nil, errs.Wrap(errs.PatchApplyFailed, err, "render created file %s", fc.NewPath)
	}

	return joinLines(patched), nil
}

// applyHunks replays hunks against original (already split into lines,
// without newlines), returning the resulting lines. Every context and
// remove line must match the corresponding original line verbatim.
func applyHunks(original []string, hunks []Hunk) ([]string, error) {
	var out []string

	cursor := 0 // 0-based index into original

	for _, h := range hunks {
		start := h.OldStart - 1
		if h.OldLen == 0 {
			start = h.OldStart
		}

		if start < cursor || start > len(original) {
			return nil, fmt.Errorf("hunk @@ -%d,%d @@ out of order or out of range (cursor=%d, len=%d)", h.OldStart, h.OldLen, cursor, len(original))
		}

		out = append(out, original[cursor:start]...)
		cursor = start

		for _, l := range h.Lines {
			switch l.Tag {
			case LineContext, LineRemove:
				if cursor >= len(original) {
					return nil, fmt.Errorf("hunk @@ -%d,%d @@: expected line %q at %d, file has %d lines", h.OldStart, h.OldLen, l.Text, cursor+1, len(original))
				}

				if original[cursor] != l.Text {
					return nil, fmt.Errorf("hunk @@ -%d,%d @@: line %d mismatch: got %q, want %q", h.OldStart, h.OldLen, cursor+1, original[cursor], l.Text)
				}

				if l.Tag == LineContext {
					out = append(out, l.Text)
				}

				cursor++

			case LineAdd:
				out = append(out, l.Text)
			}
		}
	}

	out = append(out, original[cursor:]...)

	return out, nil
}

func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}

	normalized := bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	text := string(normalized)
	text = trimTrailingNewline(text)

	if text == "" {
		return []string{}
	}

	return splitOnNewline(text)
}

func trimTrailingNewline(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\n' {
		return s[:len(s)-1]
	}

	return s
}

func splitOnNewline(s string) []string {
	var lines []string

	start := 0

	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}

	lines = append(lines, s[start:])

	return lines
}

func joinLines(lines []string) []byte {
	var b bytes.Buffer

	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}

	return b.Bytes()
}

// writeFileAtomic writes data to path by writing a temp file in the same
// directory then renaming it into place, per spec.md §4.E step 3's "write
// temp + rename" instruction (applied here to every tier-2 write, not just
// the rewrite fallback, for the same atomicity reason).
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".pp-write-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()

	if writeErr != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, writeErr)
	}

	if closeErr != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file for %s: %w", path, closeErr)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename into %s: %w", path, err)
	}

	return nil
}
