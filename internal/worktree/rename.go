package worktree

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/codexmonitor/daemon/internal/codexerr"
	"github.com/codexmonitor/daemon/internal/workspace"
)

// Rename implements §4.9: a three-step safety net around `git branch -m`
// and `git worktree move`, rolling the branch rename back if the move (step
// 3) fails, plus
// best-effort session respawn and optional upstream rename.
func (m *Manager) Rename(ctx context.Context, id, newBranch string) (*workspace.Record, error) {
	rec, ok := m.registry.Get(id)
	if !ok || rec.Kind != workspace.KindWorktree || rec.WorktreeMeta == nil {
		return nil, codexerr.New(codexerr.KindInvalid, "%q is not a live Worktree", id)
	}
	oldBranch := rec.WorktreeMeta.Branch
	if newBranch == oldBranch {
		return nil, codexerr.New(codexerr.KindInvalid, "new branch name is unchanged")
	}

	uniqueBranch, err := m.allocateUniqueBranchName(ctx, rec.Path, newBranch)
	if err != nil {
		return nil, err
	}

	// Step 2: git branch -m old new.
	if _, err := runGit(ctx, rec.Path, "branch", "-m", oldBranch, uniqueBranch); err != nil {
		return nil, err
	}

	// Step 3: compute a unique target path and move if it differs.
	parent, _ := m.registry.Get(rec.ParentID)
	worktreeRoot := m.store.WorktreesDir(rec.ParentID)
	newDirName := SafeDirName(uniqueBranch)
	newPath := rec.Path
	if filepath.Base(rec.Path) != newDirName {
		allocated, err := allocateUniqueDir(worktreeRoot, newDirName)
		if err != nil {
			_, _ = runGit(ctx, rec.Path, "branch", "-m", uniqueBranch, oldBranch)
			return nil, err
		}
		newPath = allocated
	}
	if newPath != rec.Path {
		if _, err := runGit(ctx, rec.Path, "worktree", "move", rec.Path, newPath); err != nil {
			// Rollback the branch rename and surface the underlying error.
			_, _ = runGit(ctx, rec.Path, "branch", "-m", uniqueBranch, oldBranch)
			return nil, err
		}
	}

	updated, err := m.registry.UpdateWorktreeLocation(id, filepath.Base(newPath), uniqueBranch, newPath)
	if err != nil {
		return nil, err
	}

	if s, ok := m.registry.Session(id); ok {
		if err := m.respawnAfterRename(ctx, updated); err != nil {
			m.logger.Error("respawn after worktree rename failed", "workspace_id", id, "error", err)
		} else {
			_ = s.Close()
		}
	}

	_ = parent
	return updated, nil
}

// respawnAfterRename opens a fresh session for rec's new path and swaps it
// into the registry. Failure is logged, not surfaced (§4.9 step 4).
func (m *Manager) respawnAfterRename(ctx context.Context, rec *workspace.Record) error {
	return m.registry.OpenSession(ctx, rec.ID)
}

// allocateUniqueBranchName finds the first of newBranch, newBranch-2,
// newBranch-3, ... newBranch-999 that does not already exist as a local
// branch in dir (§4.9 step 1), the same suffixing scheme allocateUniqueDir
// uses for worktree directories (§4.8 step 2).
func (m *Manager) allocateUniqueBranchName(ctx context.Context, dir, newBranch string) (string, error) {
	if !branchExists(ctx, dir, newBranch) {
		return newBranch, nil
	}
	for n := 2; n <= 999; n++ {
		candidate := fmt.Sprintf("%s-%d", newBranch, n)
		if !branchExists(ctx, dir, candidate) {
			return candidate, nil
		}
	}
	return "", codexerr.New(codexerr.KindInvalid, "could not allocate a unique branch name for %q after 999 attempts", newBranch)
}

// UpstreamRename performs the optional upstream-rename sequence from §4.9:
// push remote new:new, push remote :old, branch --set-upstream-to
// remote/new new; or, when remote is empty (the old branch had no tracked
// remote), a single push origin new.
func (m *Manager) UpstreamRename(ctx context.Context, id, remote, oldBranch, newBranch string) error {
	rec, ok := m.registry.Get(id)
	if !ok {
		return codexerr.New(codexerr.KindNotFound, "workspace %q not found", id)
	}
	if remote == "" {
		_, err := runGit(ctx, rec.Path, "push", "origin", newBranch)
		return err
	}
	if _, err := runGit(ctx, rec.Path, "push", remote, newBranch+":"+newBranch); err != nil {
		return err
	}
	if _, err := runGit(ctx, rec.Path, "push", remote, ":"+oldBranch); err != nil {
		return err
	}
	_, err := runGit(ctx, rec.Path, "branch", "--set-upstream-to", remote+"/"+newBranch, newBranch)
	return err
}
