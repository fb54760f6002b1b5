package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/codexmonitor/daemon/internal/workspace"
)

func TestOpenCreatesLayout(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	s, err := Open(dataDir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for _, sub := range []string{"", "worktrees", "worktree-setup"} {
		if _, err := statDir(filepath.Join(dataDir, sub)); err != nil {
			t.Fatalf("expected %s to exist: %v", sub, err)
		}
	}
	_ = s
}

func TestSaveAndLoadWorkspacesRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	records := []*workspace.Record{
		{ID: "w1", Name: "proj", Path: "/tmp/proj", Kind: workspace.KindMain},
	}
	if err := s.SaveWorkspaces(records); err != nil {
		t.Fatalf("SaveWorkspaces: %v", err)
	}

	loaded, err := s.LoadWorkspaces()
	if err != nil {
		t.Fatalf("LoadWorkspaces: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "w1" || loaded[0].Path != "/tmp/proj" {
		t.Fatalf("unexpected round-trip: %+v", loaded)
	}
}

func TestLoadWorkspacesMissingFileIsEmpty(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	loaded, err := s.LoadWorkspaces()
	if err != nil {
		t.Fatalf("LoadWorkspaces: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected empty slice, got %+v", loaded)
	}
}

func statDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}
