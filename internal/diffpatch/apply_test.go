package diffpatch_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pp-engine/pp/internal/diffpatch"
)

func allowAll(string) bool { return true }

func writeTestFile(t *testing.T, dir, rel, content string) {
	t.Helper()

	abs := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readTestFile(t *testing.T, dir, rel string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(dir, rel))
	if err != nil {
		t.Fatal(err)
	}

	return string(data)
}

func TestApply_ModifyInProcess(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "math_utils.py", "def add(a, b):\n    return resultx\n")

	patch, err := diffpatch.Parse(nameErrorDiff)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	a := &diffpatch.Applier{SandboxRoot: dir, PathAllowed: allowAll}

	if err := a.Apply(t.Context(), patch); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got := readTestFile(t, dir, "math_utils.py")
	want := "def add(a, b):\n    return result\n"

	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestApply_RejectsDisallowedPath(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "math_utils.py", "def add(a, b):\n    return resultx\n")

	patch, err := diffpatch.Parse(nameErrorDiff)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	a := &diffpatch.Applier{SandboxRoot: dir, PathAllowed: func(string) bool { return false }}

	err = a.Apply(t.Context(), patch)
	if err == nil {
		t.Fatal("expected path_not_allowed rejection")
	}

	got := readTestFile(t, dir, "math_utils.py")
	if got != "def add(a, b):\n    return resultx\n" {
		t.Errorf("sandbox must be unchanged on rejection, got %q", got)
	}
}

func TestApply_TransactionalRevertOnPartialFailure(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.py", "line one\nline two\n")
	writeTestFile(t, dir, "b.py", "only one line\n")

	diff := `--- a/a.py
+++ b/a.py
@@ -1,2 +1,2 @@
 line one
-line two
+line TWO
--- a/b.py
+++ b/b.py
@@ -1,1 +1,1 @@
-this does not match
+replacement
`

	patch, err := diffpatch.Parse(diff)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	a := &diffpatch.Applier{SandboxRoot: dir, PathAllowed: allowAll}

	err = a.Apply(t.Context(), patch)
	if err == nil {
		t.Fatal("expected apply failure due to context mismatch in b.py")
	}

	if got := readTestFile(t, dir, "a.py"); got != "line one\nline two\n" {
		t.Errorf("a.py must be reverted, got %q", got)
	}

	if got := readTestFile(t, dir, "b.py"); got != "only one line\n" {
		t.Errorf("b.py must be unchanged, got %q", got)
	}
}

func TestApply_Create(t *testing.T) {
	dir := t.TempDir()

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

	a := &diffpatch.Applier{SandboxRoot: dir, PathAllowed: allowAll}

	if err := a.Apply(t.Context(), patch); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got := readTestFile(t, dir, "new_file.py")
	if got != "line one\nline two\n" {
		t.Errorf("unexpected created file content: %q", got)
	}
}

func TestApply_Delete(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "gone.py", "line one\nline two\n")

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

	a := &diffpatch.Applier{SandboxRoot: dir, PathAllowed: allowAll}

	if err := a.Apply(t.Context(), patch); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "gone.py")); !os.IsNotExist(err) {
		t.Errorf("expected gone.py to be removed, stat err = %v", err)
	}
}

func TestApplyRewrite(t *testing.T) {
	dir := t.TempDir()

	a := &diffpatch.Applier{SandboxRoot: dir, PathAllowed: allowAll}

	rw := diffpatch.Rewrite{Path: "math_utils.py", Content: "def add(a, b):\n    return result\n"}

	if err := a.ApplyRewrite(rw); err != nil {
		t.Fatalf("ApplyRewrite: %v", err)
	}

	got := readTestFile(t, dir, "math_utils.py")
	if got != rw.Content {
		t.Errorf("got %q, want %q", got, rw.Content)
	}
}

func TestApplyRewrite_RejectsDisallowedPath(t *testing.T) {
	dir := t.TempDir()

	a := &diffpatch.Applier{SandboxRoot: dir, PathAllowed: func(string) bool { return false }}

	err := a.ApplyRewrite(diffpatch.Rewrite{Path: "secrets/key", Content: "x"})
	if err == nil {
		t.Fatal("expected path_not_allowed rejection")
	}
}
