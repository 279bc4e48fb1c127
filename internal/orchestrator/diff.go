package orchestrator

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/pp-engine/pp/internal/diffpatch"
	"github.com/pp-engine/pp/internal/errs"
	"github.com/pp-engine/pp/internal/workspace"
)

// diffContext is the number of unchanged context lines kept around each
// change region, matching the conventional unified-diff default.
const diffContext = 3

// finalPatch computes diff(workspaceRoot, sandboxPath) restricted to text
// files (spec.md §4.A step 6). Line-level unified-diff hunks are produced
// by github.com/pmezard/go-difflib, already part of this repo's dependency
// graph as testify's own diff engine; the resulting text is fed straight
// back through internal/diffpatch.Parse so the patch this package emits
// and the patch internal/replay later re-applies are built by the exact
// same code path.
func finalPatch(workspaceRoot, sandboxPath string, manifest workspace.Manifest) (diffpatch.Patch, error) {
	paths := unionPaths(manifest, sandboxPath)

	var patch diffpatch.Patch

	for _, rel := range paths {
		oldPath := filepath.Join(workspaceRoot, rel)
		newPath := filepath.Join(sandboxPath, rel)

		oldData, oldErr := os.ReadFile(oldPath)
		newData, newErr := os.ReadFile(newPath)

		oldExists := oldErr == nil
		newExists := newErr == nil

		if !oldExists && !newExists {
			continue
		}

		if oldExists && newExists && bytes.Equal(oldData, newData) {
			continue
		}

		if isBinary(oldData) || isBinary(newData) {
			continue
		}

		fc, err := fileChangeFor(rel, oldData, newData, oldExists, newExists)
		if err != nil {
			return diffpatch.Patch{}, err
		}

		if fc != nil {
			patch.Files = append(patch.Files, *fc)
		}
	}

	return patch, nil
}

func unionPaths(manifest workspace.Manifest, sandboxPath string) []string {
	seen := make(map[string]bool)

	for _, f := range manifest.Files {
		seen[f.Path] = true
	}

	addSandboxPaths(sandboxPath, seen)

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	return paths
}

func addSandboxPaths(sandboxPath string, seen map[string]bool) {
	walkFn := func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}

		if info.IsDir() {
			if info.Name() == ".git" && path != sandboxPath {
				return filepath.SkipDir
			}

			return nil
		}

		rel, err := filepath.Rel(sandboxPath, path)
		if err != nil {
			return nil
		}

		seen[filepath.ToSlash(rel)] = true

		return nil
	}

	_ = filepath.Walk(sandboxPath, walkFn)
}

func isBinary(data []byte) bool {
	return bytes.IndexByte(data, 0) >= 0
}

func fileChangeFor(rel string, oldData, newData []byte, oldExists, newExists bool) (*diffpatch.FileChange, error) {
	oldLines := splitKeepEmpty(oldData)
	newLines := splitKeepEmpty(newData)

	unified := difflib.UnifiedDiff{
		A:        oldLines,
		B:        newLines,
		FromFile: "a/" + rel,
		ToFile:   "b/" + rel,
		Context:  diffContext,
	}

	if !oldExists {
		unified.FromFile = "/dev/null"
	}

	if !newExists {
		unified.ToFile = "/dev/null"
	}

	text, err := difflib.GetUnifiedDiffString(unified)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "diffing %s", rel)
	}

	if text == "" {
		return nil, nil
	}

	patch, err := diffpatch.Parse(text)
	if err != nil {
		return nil, errs.Wrap(errs.PatchParseError, err, "reparsing generated diff for %s", rel)
	}

	if len(patch.Files) != 1 {
		return nil, nil
	}

	return &patch.Files[0], nil
}

// splitKeepEmpty splits data into lines the way difflib expects: each
// element retains its trailing "\n" except possibly the last, matching
// difflib.SplitLines' own convention.
func splitKeepEmpty(data []byte) []string {
	if len(data) == 0 {
		return nil
	}

	return difflib.SplitLines(string(data))
}
