package worktree

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSafeDirName(t *testing.T) {
	cases := map[string]string{
		"feature/foo":  "feature-foo",
		"--leading--":  "leading",
		"a.b_c-d":      "a.b_c-d",
		"!!!":          "worktree",
		"":             "worktree",
		"feat@ture":    "feat-ture",
	}
	for in, want := range cases {
		if got := SafeDirName(in); got != want {
			t.Errorf("SafeDirName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAllocateUniqueDirFirstFree(t *testing.T) {
	dir := t.TempDir()
	got, err := allocateUniqueDir(dir, "feature")
	if err != nil {
		t.Fatalf("allocateUniqueDir: %v", err)
	}
	want := filepath.Join(dir, "feature")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestAllocateUniqueDirSuffixesOnCollision(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "feature"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "feature-2"), 0o755); err != nil {
		t.Fatal(err)
	}
	got, err := allocateUniqueDir(dir, "feature")
	if err != nil {
		t.Fatalf("allocateUniqueDir: %v", err)
	}
	want := filepath.Join(dir, "feature-3")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestIsNotAWorkingTree(t *testing.T) {
	if !isNotAWorkingTree(errMsg("fatal: '/tmp/x' is not a working tree")) {
		t.Fatal("expected match")
	}
	if isNotAWorkingTree(errMsg("some other error")) {
		t.Fatal("expected no match")
	}
}

type errMsg string

func (e errMsg) Error() string { return string(e) }
