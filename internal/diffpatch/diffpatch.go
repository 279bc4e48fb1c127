// Package diffpatch implements the unified-diff data model, parser, and
// three-tier applier described in spec.md §3/§4.E: ordered FileChanges made
// of Hunks, each hunk's line-count invariants enforced at parse time, and a
// transactional apply that leaves the sandbox untouched on any failure.
package diffpatch

import "fmt"

// Mode classifies how a FileChange affects its target file.
type Mode string

const (
	ModeModify Mode = "modify"
	ModeCreate Mode = "create"
	ModeDelete Mode = "delete"
	ModeRename Mode = "rename"
)

// LineTag classifies one line inside a Hunk.
type LineTag string

const (
	LineContext LineTag = "context"
	LineAdd     LineTag = "add"
	LineRemove  LineTag = "remove"
)

// Line is one tagged line of hunk content, without its leading diff marker.
type Line struct {
	Tag  LineTag
	Text string
}

// Hunk is one contiguous region of change within a file (spec §3).
//
// Invariant: len(lines tagged context|remove) == OldLen and
// len(lines tagged context|add) == NewLen; Parse rejects any hunk that
// violates this.
type Hunk struct {
	OldStart int
	OldLen   int
	NewStart int
	NewLen   int
	Lines    []Line
}

// oldLineCount returns how many lines this hunk consumes from the old file.
func (h Hunk) oldLineCount() int {
	n := 0

	for _, l := range h.Lines {
		if l.Tag == LineContext || l.Tag == LineRemove {
			n++
		}
	}

	return n
}

// newLineCount returns how many lines this hunk produces in the new file.
func (h Hunk) newLineCount() int {
	n := 0

	for _, l := range h.Lines {
		if l.Tag == LineContext || l.Tag == LineAdd {
			n++
		}
	}

	return n
}

// validate checks the line-count invariant spec.md §3 requires for a Hunk.
func (h Hunk) validate() error {
	if got := h.oldLineCount(); got != h.OldLen {
		return fmt.Errorf("diffpatch: hunk @@ -%d,%d +%d,%d @@: context+remove lines = %d, want %d", h.OldStart, h.OldLen, h.NewStart, h.NewLen, got, h.OldLen)
	}

	if got := h.newLineCount(); got != h.NewLen {
		return fmt.Errorf("diffpatch: hunk @@ -%d,%d +%d,%d @@: context+add lines = %d, want %d", h.OldStart, h.OldLen, h.NewStart, h.NewLen, got, h.NewLen)
	}

	return nil
}

// oldEnd returns the exclusive end of this hunk's range in the old file,
// using 1-based line numbers as spec.md's hunk header does.
func (h Hunk) oldEnd() int {
	return h.OldStart + h.OldLen
}

// FileChange is one file's worth of change within a Patch (spec §3).
type FileChange struct {
	OldPath string
	NewPath string
	Mode    Mode
	Hunks   []Hunk
}

// overlapsAny reports whether any two hunks in fc have intersecting old-file
// ranges, which spec.md §4.E requires rejecting.
func (fc FileChange) overlapsAny() (Hunk, Hunk, bool) {
	for i := 0; i < len(fc.Hunks); i++ {
		for j := i + 1; j < len(fc.Hunks); j++ {
			a, b := fc.Hunks[i], fc.Hunks[j]
			if a.OldStart < b.oldEnd() && b.OldStart < a.oldEnd() {
				return a, b, true
			}
		}
	}

	return Hunk{}, Hunk{}, false
}

// Patch is a fully parsed unified diff: an ordered sequence of FileChanges.
type Patch struct {
	Files []FileChange
}

// TouchedPaths returns the sandbox-relative path each FileChange mutates,
// in order, for policy evaluation (spec §4.D).
func (p Patch) TouchedPaths() []string {
	paths := make([]string, 0, len(p.Files))

	for _, fc := range p.Files {
		paths = append(paths, fc.mutatedPath())
	}

	return paths
}

// mutatedPath returns the path a FileChange mutates on disk: the removed
// path for a delete, the written path otherwise.
func (fc FileChange) mutatedPath() string {
	if fc.Mode == ModeDelete {
		return fc.OldPath
	}

	return fc.NewPath
}

// IsEmpty reports whether the patch changes nothing, which spec.md §4.A
// requires the orchestrator to reject as a no-op proposer response.
func (p Patch) IsEmpty() bool {
	return len(p.Files) == 0
}
