package workspace

import (
	"log/slog"
	"testing"

	"github.com/codexmonitor/daemon/internal/eventsink"
	"github.com/codexmonitor/daemon/internal/persistence"
)

type discardSink struct{}

func (discardSink) Publish(eventsink.Event) {}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := persistence.Open(t.TempDir())
	if err != nil {
		t.Fatalf("persistence.Open: %v", err)
	}
	reg, err := New(store, discardSink{}, "/usr/bin/true", slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return reg
}

func TestResolveCodexHomeInheritsFromParent(t *testing.T) {
	reg := newTestRegistry(t)
	parent := &Record{ID: "p1", Kind: KindMain, Settings: Settings{CodexHome: "/home/parent"}}
	child := &Record{ID: "c1", Kind: KindWorktree, ParentID: "p1"}
	reg.records["p1"] = parent
	reg.records["c1"] = child

	if got := reg.resolveCodexHome(child); got != "/home/parent" {
		t.Fatalf("got %q, want /home/parent", got)
	}

	child.Settings.CodexHome = "/home/override"
	if got := reg.resolveCodexHome(child); got != "/home/override" {
		t.Fatalf("got %q, want override to win", got)
	}
}

func TestResolveArgvInheritsFromParent(t *testing.T) {
	reg := newTestRegistry(t)
	parent := &Record{ID: "p1", Kind: KindMain, Settings: Settings{CodexArgs: "--flag value"}}
	child := &Record{ID: "c1", Kind: KindWorktree, ParentID: "p1"}
	reg.records["p1"] = parent
	reg.records["c1"] = child

	got := reg.resolveArgv(child)
	if len(got) != 2 || got[0] != "--flag" || got[1] != "value" {
		t.Fatalf("got %v", got)
	}
}

func TestRemoveMainRefusesWithLiveWorktrees(t *testing.T) {
	reg := newTestRegistry(t)
	reg.records["p1"] = &Record{ID: "p1", Kind: KindMain}
	reg.records["c1"] = &Record{ID: "c1", Kind: KindWorktree, ParentID: "p1"}

	if err := reg.RemoveWorkspace("p1", false); err == nil {
		t.Fatal("expected refusal to remove Main with live Worktree children")
	}
	if _, ok := reg.records["p1"]; !ok {
		t.Fatal("record should not have been removed")
	}
}

func TestChildInheritsChangedInputCodexHome(t *testing.T) {
	child := &Record{ID: "c1", Kind: KindWorktree, ParentID: "p1"}
	previous := Settings{CodexHome: "/old"}
	updated := Settings{CodexHome: "/new"}
	if !childInheritsChangedInput(child, previous, updated) {
		t.Fatal("expected inheriting child to be flagged when parent CodexHome changes")
	}
}

func TestChildInheritsChangedInputCodexArgs(t *testing.T) {
	child := &Record{ID: "c1", Kind: KindWorktree, ParentID: "p1"}
	previous := Settings{CodexArgs: "--a"}
	updated := Settings{CodexArgs: "--b"}
	if !childInheritsChangedInput(child, previous, updated) {
		t.Fatal("expected inheriting child to be flagged when parent CodexArgs changes")
	}
}

func TestChildWithOwnOverrideUnaffectedByParentChange(t *testing.T) {
	child := &Record{ID: "c1", Kind: KindWorktree, ParentID: "p1", Settings: Settings{CodexHome: "/own"}}
	previous := Settings{CodexHome: "/old"}
	updated := Settings{CodexHome: "/new"}
	if childInheritsChangedInput(child, previous, updated) {
		t.Fatal("child with its own CodexHome override must not be flagged")
	}
}

func TestChildUnaffectedWhenNothingChanged(t *testing.T) {
	child := &Record{ID: "c1", Kind: KindWorktree, ParentID: "p1"}
	same := Settings{CodexHome: "/same", CodexArgs: "--x"}
	if childInheritsChangedInput(child, same, same) {
		t.Fatal("no change should never flag a child")
	}
}

// TestUpdateSettingsCascadesCodexHomeWithoutSetupScriptChange checks that a
// parent's codex_home change with no setup-script change succeeds and that
// a child whose own codex_home is empty then resolves to the new value. The
// child has no live session here, so no respawn is exercised.
func TestUpdateSettingsCascadesCodexHomeWithoutSetupScriptChange(t *testing.T) {
	reg := newTestRegistry(t)
	reg.records["p1"] = &Record{ID: "p1", Kind: KindMain, Settings: Settings{CodexHome: "/old"}}
	reg.records["c1"] = &Record{ID: "c1", Kind: KindWorktree, ParentID: "p1"}

	if _, err := reg.UpdateSettings(t.Context(), "p1", Settings{CodexHome: "/new"}); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	if got := reg.resolveCodexHome(reg.records["c1"]); got != "/new" {
		t.Fatalf("child should inherit the new parent codex_home, got %q", got)
	}
}

func TestRemoveMainCascades(t *testing.T) {
	reg := newTestRegistry(t)
	reg.records["p1"] = &Record{ID: "p1", Kind: KindMain}
	reg.records["c1"] = &Record{ID: "c1", Kind: KindWorktree, ParentID: "p1"}

	if err := reg.RemoveWorkspace("p1", true); err != nil {
		t.Fatalf("RemoveWorkspace: %v", err)
	}
	if _, ok := reg.records["p1"]; ok {
		t.Fatal("parent should be removed")
	}
	if _, ok := reg.records["c1"]; ok {
		t.Fatal("child should cascade-remove")
	}
}
