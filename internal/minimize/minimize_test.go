package minimize_test

import (
	"context"
	"testing"

	"github.com/pp-engine/pp/internal/diffpatch"
	"github.com/pp-engine/pp/internal/minimize"
)

// makePatch builds a 3-hunk single-file patch where only the middle hunk
// is actually required for verification to pass (the other two are inert
// no-ops a proposer padded the diff with).
func makePatch() diffpatch.Patch {
	return diffpatch.Patch{
		Files: []diffpatch.FileChange{
			{
				OldPath: "f.py",
				NewPath: "f.py",
				Mode:    diffpatch.ModeModify,
				Hunks: []diffpatch.Hunk{
					{OldStart: 1, OldLen: 1, NewStart: 1, NewLen: 1, Lines: []diffpatch.Line{
						{Tag: diffpatch.LineContext, Text: "required-noop-1"},
					}},
					{OldStart: 5, OldLen: 1, NewStart: 5, NewLen: 1, Lines: []diffpatch.Line{
						{Tag: diffpatch.LineRemove, Text: "bad"},
						{Tag: diffpatch.LineAdd, Text: "good"},
					}},
					{OldStart: 9, OldLen: 1, NewStart: 9, NewLen: 1, Lines: []diffpatch.Line{
						{Tag: diffpatch.LineContext, Text: "required-noop-2"},
					}},
				},
			},
		},
	}
}

// requiredHunkSurvives verifies a candidate by checking whether it still
// contains the one hunk whose "add" line is "good" — standing in for an
// actual sandbox apply+verify cycle.
func requiredHunkSurvives(_ context.Context, p diffpatch.Patch) (bool, error) {
	for _, fc := range p.Files {
		for _, h := range fc.Hunks {
			for _, l := range h.Lines {
				if l.Tag == diffpatch.LineAdd && l.Text == "good" {
					return true, nil
				}
			}
		}
	}

	return false, nil
}

func TestMinimize_DropsInertHunks(t *testing.T) {
	result, complete, err := minimize.Minimize(t.Context(), makePatch(), requiredHunkSurvives)
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}

	if !complete {
		t.Fatal("expected minimization to reach a fixed point")
	}

	total := 0
	for _, fc := range result.Files {
		total += len(fc.Hunks)
	}

	if total != 1 {
		t.Fatalf("expected exactly 1 surviving hunk, got %d", total)
	}
}

func TestMinimize_IsFixedPoint(t *testing.T) {
	once, _, err := minimize.Minimize(t.Context(), makePatch(), requiredHunkSurvives)
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}

	twice, _, err := minimize.Minimize(t.Context(), once, requiredHunkSurvives)
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}

	if diffpatch.Serialize(once) != diffpatch.Serialize(twice) {
		t.Errorf("minimization is not a fixed point:\nonce:  %s\ntwice: %s", diffpatch.Serialize(once), diffpatch.Serialize(twice))
	}
}

func TestMinimize_NoHunksIsTriviallyComplete(t *testing.T) {
	empty := diffpatch.Patch{}

	result, complete, err := minimize.Minimize(t.Context(), empty, requiredHunkSurvives)
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}

	if !complete || len(result.Files) != 0 {
		t.Fatalf("expected trivially complete empty result, got complete=%v result=%+v", complete, result)
	}
}

func TestMinimize_AllHunksRequiredLeavesPatchUnchanged(t *testing.T) {
	allRequired := func(_ context.Context, p diffpatch.Patch) (bool, error) {
		total := 0
		for _, fc := range p.Files {
			total += len(fc.Hunks)
		}

		return total == 3, nil
	}

	result, complete, err := minimize.Minimize(t.Context(), makePatch(), allRequired)
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}

	if !complete {
		t.Fatal("expected fixed point")
	}

	total := 0
	for _, fc := range result.Files {
		total += len(fc.Hunks)
	}

	if total != 3 {
		t.Fatalf("expected all 3 hunks retained, got %d", total)
	}
}
