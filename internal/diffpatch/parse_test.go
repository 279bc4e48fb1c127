package diffpatch_test

import (
	"testing"

	"github.com/pp-engine/pp/internal/diffpatch"
)

const nameErrorDiff = `--- a/math_utils.py
+++ b/math_utils.py
@@ -1,2 +1,2 @@
 def add(a, b):
-    return resultx
+    return result

`

func TestParse_SimpleModify(t *testing.T) {
	patch, err := diffpatch.Parse(nameErrorDiff)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(patch.Files) != 1 {
		t.Fatalf("expected 1 file change, got %d", len(patch.Files))
	}

	fc := patch.Files[0]

	if fc.Mode != diffpatch.ModeModify {
		t.Errorf("expected ModeModify, got %s", fc.Mode)
	}

	if fc.OldPath != "math_utils.py" || fc.NewPath != "math_utils.py" {
		t.Errorf("unexpected paths: old=%q new=%q", fc.OldPath, fc.NewPath)
	}

	if len(fc.Hunks) != 1 {
		t.Fatalf("expected 1 hunk, got %d", len(fc.Hunks))
	}

	h := fc.Hunks[0]
	if h.OldStart != 1 || h.OldLen != 2 || h.NewStart != 1 || h.NewLen != 2 {
		t.Errorf("unexpected hunk header: %+v", h)
	}
}

func TestParse_Create(t *testing.T) {
	diff := `--- /dev/null
+++ b/new_file.py
@@ -0,0 +1,2 @@
+line one
+line two
`

	patch, err := diffpatch.Parse(diff)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	fc := patch.Files[0]
	if fc.Mode != diffpatch.ModeCreate {
		t.Errorf("expected ModeCreate, got %s", fc.Mode)
	}

	if fc.NewPath != "new_file.py" {
		t.Errorf("unexpected new path %q", fc.NewPath)
	}
}

func TestParse_Delete(t *testing.T) {
	diff := `--- a/gone.py
+++ /dev/null
@@ -1,2 +0,0 @@
-line one
-line two
`

	patch, err := diffpatch.Parse(diff)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	fc := patch.Files[0]
	if fc.Mode != diffpatch.ModeDelete {
		t.Errorf("expected ModeDelete, got %s", fc.Mode)
	}

	if fc.OldPath != "gone.py" {
		t.Errorf("unexpected old path %q", fc.OldPath)
	}
}

func TestParse_Rename(t *testing.T) {
	diff := `rename from old_name.py
rename to new_name.py
--- a/old_name.py
+++ b/new_name.py
`

	patch, err := diffpatch.Parse(diff)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	fc := patch.Files[0]
	if fc.Mode != diffpatch.ModeRename {
		t.Errorf("expected ModeRename, got %s", fc.Mode)
	}

	if fc.OldPath != "old_name.py" || fc.NewPath != "new_name.py" {
		t.Errorf("unexpected rename paths: old=%q new=%q", fc.OldPath, fc.NewPath)
	}
}

func TestParse_RejectsHunkSizeMismatch(t *testing.T) {
	diff := `--- a/math_utils.py
+++ b/math_utils.py
@@ -1,3 +1,3 @@
 def add(a, b):
-    return resultx
`

	_, err := diffpatch.Parse(diff)
	if err == nil {
		t.Fatal("expected hunk size mismatch error")
	}
}

func TestParse_RejectsOverlappingHunks(t *testing.T) {
	diff := `--- a/f.py
+++ b/f.py
@@ -1,3 +1,3 @@
 a
-b
+B
 c
@@ -2,2 +2,2 @@
-b
+X
 c
`

	_, err := diffpatch.Parse(diff)
	if err == nil {
		t.Fatal("expected overlapping hunk rejection")
	}
}

func TestParse_RejectsMalformedHeader(t *testing.T) {
	diff := `--- a/f.py
not a plus line
`

	_, err := diffpatch.Parse(diff)
	if err == nil {
		t.Fatal("expected malformed header error")
	}
}

func TestParse_EmptyTextIsEmptyPatch(t *testing.T) {
	patch, err := diffpatch.Parse("")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if !patch.IsEmpty() {
		t.Error("expected empty patch for empty input")
	}
}

func TestRoundTrip_ParseSerializeIsIdempotent(t *testing.T) {
	patch, err := diffpatch.Parse(nameErrorDiff)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	serialized := diffpatch.Serialize(patch)

	reparsed, err := diffpatch.Parse(serialized)
	if err != nil {
		t.Fatalf("Parse(Serialize(patch)): %v", err)
	}

	if len(reparsed.Files) != len(patch.Files) {
		t.Fatalf("file count changed across round-trip: %d vs %d", len(reparsed.Files), len(patch.Files))
	}

	reSerialized := diffpatch.Serialize(reparsed)
	if reSerialized != serialized {
		t.Errorf("serialize not idempotent:\n--- first ---\n%s\n--- second ---\n%s", serialized, reSerialized)
	}
}

func TestTouchedPaths(t *testing.T) {
	patch, err := diffpatch.Parse(nameErrorDiff)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	got := patch.TouchedPaths()
	if len(got) != 1 || got[0] != "math_utils.py" {
		t.Errorf("unexpected touched paths: %v", got)
	}
}
