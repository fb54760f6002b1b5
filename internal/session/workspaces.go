package session

import "sync"

// attachedWorkspaces tracks a Session's workspace_ids and workspace_roots:
// the set of workspace ids sharing this session, and their canonicalized
// roots. Attachment is append-only during the Session's life (§3).
type attachedWorkspaces struct {
	mu    sync.Mutex
	ids   map[string]bool
	roots map[string]string // workspace_id -> canonicalized root
}

func newAttachedWorkspaces(ownerID, ownerRoot string) *attachedWorkspaces {
	w := &attachedWorkspaces{
		ids:   map[string]bool{ownerID: true},
		roots: map[string]string{ownerID: ownerRoot},
	}
	return w
}

// attach adds workspaceID (with its root) to this session's set. If
// workspaceID is already attached, its recorded root is replaced by root.
func (w *attachedWorkspaces) attach(workspaceID, root string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ids[workspaceID] = true
	w.roots[workspaceID] = root
}

// snapshotIDs returns a copy of the currently-attached workspace ids, safe
// to range over without holding the lock (used for global fan-out, §4.2).
func (w *attachedWorkspaces) snapshotIDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.ids))
	for id := range w.ids {
		ids = append(ids, id)
	}
	return ids
}

// snapshotRoots returns a copy of the workspace_id -> root map, used by the
// Thread Router to resolve thread/list cwd entries (§4.4) without holding
// this lock across that computation.
func (w *attachedWorkspaces) snapshotRoots() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]string, len(w.roots))
	for k, v := range w.roots {
		out[k] = v
	}
	return out
}
