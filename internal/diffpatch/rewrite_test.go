package diffpatch_test

import (
	"testing"

	"github.com/pp-engine/pp/internal/diffpatch"
)

func TestParseRewrite_Recognizes(t *testing.T) {
	text := "file: math_utils.py\n```\ndef add(a, b):\n    return result\n```\n"

	rw, ok, err := diffpatch.ParseRewrite(text)
	if err != nil {
		t.Fatalf("ParseRewrite: %v", err)
	}

	if !ok {
		t.Fatal("expected a rewrite block to be recognized")
	}

	if rw.Path != "math_utils.py" {
		t.Errorf("unexpected path %q", rw.Path)
	}

	if rw.Content != "def add(a, b):\n    return result\n" {
		t.Errorf("unexpected content %q", rw.Content)
	}
}

func TestParseRewrite_AbsentReturnsFalse(t *testing.T) {
	_, ok, err := diffpatch.ParseRewrite("--- a/f.py\n+++ b/f.py\n")
	if err != nil {
		t.Fatalf("ParseRewrite: %v", err)
	}

	if ok {
		t.Fatal("expected no rewrite block to be found")
	}
}

func TestParseRewrite_UnterminatedFence(t *testing.T) {
	text := "file: f.py\n```\nmissing close fence\n"

	_, _, err := diffpatch.ParseRewrite(text)
	if err == nil {
		t.Fatal("expected unterminated fence error")
	}
}
