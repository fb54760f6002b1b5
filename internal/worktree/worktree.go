// Package worktree implements the Worktree Manager (component H):
// git-worktree create, rename, and remove, with unique branch/path
// allocation and respawn of affected sessions. It is grounded in the
// teacher's internal/server/worktrees.go (directory-name sanitizing, git
// command sequencing, stderr-based error classification) re-targeted at the
// exact algorithms of SPEC_FULL.md §4.8/§4.9 instead of the teacher's
// devcontainer/HTTP-handler framing.
package worktree

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/codexmonitor/daemon/internal/codexerr"
	"github.com/codexmonitor/daemon/internal/logging"
	"github.com/codexmonitor/daemon/internal/persistence"
	"github.com/codexmonitor/daemon/internal/workspace"
)

// Manager creates, renames, and removes git worktrees on behalf of the
// Workspace Registry.
type Manager struct {
	registry *workspace.Registry
	store    *persistence.Store
	logger   *slog.Logger
}

// New builds a Manager backed by registry and store.
func New(registry *workspace.Registry, store *persistence.Store, logger *slog.Logger) *Manager {
	return &Manager{registry: registry, store: store, logger: logging.Component(logger, "worktree_manager")}
}

// SafeDirName computes a filesystem-safe directory name from a branch name
// (§4.8 step 1): characters outside [A-Za-z0-9._-] become '-', leading and
// trailing '-' are stripped, and an empty result becomes "worktree".
func SafeDirName(branch string) string {
	var b strings.Builder
	for _, r := range branch {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	safe := strings.Trim(b.String(), "-")
	if safe == "" {
		return "worktree"
	}
	return safe
}

// allocateUniqueDir finds the first of base, base-2, base-3, ... base-999
// under dir that does not already exist (§4.8 step 2).
func allocateUniqueDir(dir, base string) (string, error) {
	candidate := filepath.Join(dir, base)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate, nil
	}
	for n := 2; n <= 999; n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s-%d", base, n))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", codexerr.New(codexerr.KindInvalid, "could not allocate a unique worktree directory for %q after 999 attempts", base)
}

// Create implements §4.8: validates the parent, allocates a unique
// directory, decides the branch-creation mode, runs `git worktree add`,
// persists the new Worktree record, and opens a session for it.
func (m *Manager) Create(ctx context.Context, parentID, branch string) (*workspace.Record, error) {
	parent, ok := m.registry.Get(parentID)
	if !ok || parent.Kind != workspace.KindMain {
		return nil, codexerr.New(codexerr.KindInvalid, "parent %q is not a live Main workspace", parentID)
	}

	dirName := SafeDirName(branch)
	worktreeRoot := m.store.WorktreesDir(parentID)
	if err := os.MkdirAll(worktreeRoot, 0o755); err != nil {
		return nil, codexerr.Wrap(codexerr.KindIO, err)
	}
	path, err := allocateUniqueDir(worktreeRoot, dirName)
	if err != nil {
		return nil, err
	}

	if err := m.addWorktree(ctx, parent.Path, path, branch); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	rec, err := m.registry.InsertWorktreeRecord(parentID, id, filepath.Base(path), path, branch)
	if err != nil {
		return nil, err
	}

	if err := m.registry.OpenSession(ctx, rec.ID); err != nil {
		return nil, err
	}
	return rec, nil
}

// addWorktree decides the branch-creation mode (§4.8 step 3) and runs the
// resulting `git worktree add` in parentPath.
func (m *Manager) addWorktree(ctx context.Context, parentPath, path, branch string) error {
	switch {
	case branchExists(ctx, parentPath, branch):
		_, err := runGit(ctx, parentPath, "worktree", "add", path, branch)
		return err
	default:
		if remote := remoteTrackingRef(ctx, parentPath, branch); remote != "" {
			_, err := runGit(ctx, parentPath, "worktree", "add", "-b", branch, path, remote+"/"+branch)
			return err
		}
		_, err := runGit(ctx, parentPath, "worktree", "add", "-b", branch, path)
		return err
	}
}

// Remove implements §4.9's removal cousin: `git worktree remove`, with the
// "is not a working tree" git error special-cased to filesystem-only
// cleanup (§7), then the record is dropped from the registry.
func (m *Manager) Remove(ctx context.Context, id string, force bool) error {
	rec, ok := m.registry.Get(id)
	if !ok || rec.Kind != workspace.KindWorktree {
		return codexerr.New(codexerr.KindInvalid, "%q is not a live Worktree", id)
	}
	parent, ok := m.registry.Get(rec.ParentID)
	if !ok {
		return codexerr.New(codexerr.KindNotFound, "parent %q not found", rec.ParentID)
	}

	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, rec.Path)
	if _, err := runGit(ctx, parent.Path, args...); err != nil {
		if !isNotAWorkingTree(err) {
			return err
		}
		if rmErr := os.RemoveAll(rec.Path); rmErr != nil {
			return codexerr.Wrap(codexerr.KindIO, rmErr)
		}
	}

	return m.registry.RemoveWorkspace(id, false)
}
