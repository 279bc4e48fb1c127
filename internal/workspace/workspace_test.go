package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pp-engine/pp/internal/policy"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBuildManifest_ExcludesArtifactDirAndGit(t *testing.T) {
	root := t.TempDir()
	artifact := filepath.Join(root, ".pp-artifacts")

	writeFile(t, filepath.Join(root, "a.txt"), "hello")
	writeFile(t, filepath.Join(root, "sub", "b.txt"), "world")
	writeFile(t, filepath.Join(root, ".git", "HEAD"), "ref: refs/heads/main")
	writeFile(t, filepath.Join(artifact, "repro.json"), "{}")

	m, err := BuildManifest(root, artifact)
	if err != nil {
		t.Fatal(err)
	}

	if len(m.Files) != 2 {
		t.Fatalf("expected 2 files, got %d: %+v", len(m.Files), m.Files)
	}

	if m.Files[0].Path != "a.txt" || m.Files[1].Path != "sub/b.txt" {
		t.Fatalf("unexpected file set: %+v", m.Files)
	}

	if m.RootSHA256 == "" {
		t.Fatal("expected non-empty root digest")
	}
}

func TestBuildManifest_DeterministicDigest(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "hello")

	m1, err := BuildManifest(root)
	if err != nil {
		t.Fatal(err)
	}

	m2, err := BuildManifest(root)
	if err != nil {
		t.Fatal(err)
	}

	if m1.RootSHA256 != m2.RootSHA256 {
		t.Fatalf("digest not deterministic: %s vs %s", m1.RootSHA256, m2.RootSHA256)
	}
}

func TestMaterialize_Copy(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "hello")

	artifact := t.TempDir()

	sb, err := Materialize(context.Background(), policy.Sandbox{Backend: policy.BackendCopy}, root, artifact)
	if err != nil {
		t.Fatal(err)
	}

	if sb.IsGitWorktree {
		t.Fatal("copy backend must not report IsGitWorktree")
	}

	data, err := os.ReadFile(filepath.Join(sb.Path, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}

	if string(data) != "hello" {
		t.Fatalf("got %q, want %q", data, "hello")
	}
}

func TestMaterialize_UnknownBackend(t *testing.T) {
	root := t.TempDir()
	artifact := t.TempDir()

	_, err := Materialize(context.Background(), policy.Sandbox{Backend: "bogus"}, root, artifact)
	if err == nil {
		t.Fatal("expected error for unresolved backend")
	}
}
