// Package minimize implements the hunk minimizer (spec.md §4.F): given a
// patch whose application makes verification pass, it greedily drops one
// hunk at a time, in reverse order, keeping each removal that still passes
// verification, until no single-hunk removal does.
package minimize

import (
	"context"
	"fmt"

	"github.com/pp-engine/pp/internal/diffpatch"
)

// VerifyFunc applies candidate to a fresh copy of the workspace and reports
// whether verification passes. Minimize never mutates the sandbox itself;
// every candidate is verified from scratch by the caller, which is what
// makes "restore and continue" (spec.md §4.F) unnecessary to implement
// here as an undo — there is simply no candidate state to undo.
type VerifyFunc func(ctx context.Context, candidate diffpatch.Patch) (bool, error)

// maxPassesPerHunk × (hunk count of the input patch) bounds the total
// number of single-hunk removal trials, which this repo adds as a safety net beyond spec.md's own termination
// condition: a non-deterministic verify command could otherwise prevent
// the greedy loop from ever reaching a fixed point.
const maxPassesPerHunk = 2

// Minimize runs the reverse-order greedy hunk removal spec.md §4.F
// describes: starting from the last hunk of the last file and walking
// backward, each hunk is tentatively dropped and candidate re-verified;
// the drop is kept if verification still passes, otherwise the hunk is
// restored. It terminates at a fixed point (no single-hunk removal still
// passes) or after maxPassesPerHunk × (hunk count) removal trials, whichever
// comes first — the latter is logged as incomplete by the caller rather
// than treated as an error (see internal/orchestrator).
func Minimize(ctx context.Context, patch diffpatch.Patch, verify VerifyFunc) (diffpatch.Patch, bool, error) {
	current := clonePatch(patch)

	totalHunks := countHunks(current)
	if totalHunks == 0 {
		return current, true, nil
	}

	budget := maxPassesPerHunk * totalHunks

	for pass := 0; ; pass++ {
		removedThisPass := false

		for fi := len(current.Files) - 1; fi >= 0; fi-- {
			for hi := len(current.Files[fi].Hunks) - 1; hi >= 0; hi-- {
				if budget <= 0 {
					return current, false, nil
				}

				budget--

				candidate, ok := withoutHunk(current, fi, hi)
				if !ok {
					continue
				}

				passed, err := verify(ctx, candidate)
				if err != nil {
					return current, false, fmt.Errorf("minimize: verify candidate: %w", err)
				}

				if passed {
					current = candidate
					removedThisPass = true
				}
			}
		}

		if !removedThisPass {
			return current, true, nil
		}
	}
}

// countHunks returns the total number of hunks across every file in p.
func countHunks(p diffpatch.Patch) int {
	n := 0

	for _, fc := range p.Files {
		n += len(fc.Hunks)
	}

	return n
}

// withoutHunk returns a copy of p with hunk hi of file fi removed. If that
// removal empties the file's hunk list and the file's mode is modify, the
// whole FileChange is dropped too, since a no-op modify has nothing left
// to apply. ok is false if fi/hi are out of range against p (defensive;
// never happens given how Minimize calls this).
func withoutHunk(p diffpatch.Patch, fi, hi int) (diffpatch.Patch, bool) {
	if fi < 0 || fi >= len(p.Files) {
		return diffpatch.Patch{}, false
	}

	fc := p.Files[fi]
	if hi < 0 || hi >= len(fc.Hunks) {
		return diffpatch.Patch{}, false
	}

	out := clonePatch(p)
	outFC := &out.Files[fi]
	outFC.Hunks = append(outFC.Hunks[:hi:hi], outFC.Hunks[hi+1:]...)

	if len(outFC.Hunks) == 0 && outFC.Mode == diffpatch.ModeModify {
		out.Files = append(out.Files[:fi:fi], out.Files[fi+1:]...)
	}

	return out, true
}

// clonePatch deep-copies p so mutating the clone's hunk slices never
// aliases the original.
func clonePatch(p diffpatch.Patch) diffpatch.Patch {
	files := make([]diffpatch.FileChange, len(p.Files))

	for i, fc := range p.Files {
		files[i] = fc
		files[i].Hunks = append([]diffpatch.Hunk(nil), fc.Hunks...)
	}

	return diffpatch.Patch{Files: files}
}
