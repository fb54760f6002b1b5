package workspace

import (
	"github.com/codexmonitor/daemon/internal/codexerr"
)

// Children returns the live Worktree records whose ParentID is parentID.
func (r *Registry) Children(parentID string) []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Record
	for _, rec := range r.records {
		if rec.Kind == KindWorktree && rec.ParentID == parentID {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// InsertWorktreeRecord persists a new Worktree record (§4.8 step 4),
// inheriting agent_binary_override and worktree_setup_script from the
// parent.
func (r *Registry) InsertWorktreeRecord(parentID, id, name, path, branch string) (*Record, error) {
	r.mu.Lock()
	parent, ok := r.records[parentID]
	if !ok || parent.Kind != KindMain {
		r.mu.Unlock()
		return nil, codexerr.New(codexerr.KindInvalid, "parent %q is not a live Main workspace", parentID)
	}
	rec := &Record{
		ID:                  id,
		Name:                name,
		Path:                path,
		Kind:                KindWorktree,
		ParentID:            parentID,
		WorktreeMeta:        &WorktreeMeta{Branch: branch},
		AgentBinaryOverride: parent.AgentBinaryOverride,
		Settings: Settings{
			WorktreeSetupScript: parent.Settings.WorktreeSetupScript,
		},
	}
	r.records[id] = rec
	r.mu.Unlock()

	if err := r.persistLocked(); err != nil {
		r.mu.Lock()
		delete(r.records, id)
		r.mu.Unlock()
		return nil, err
	}
	return rec.Clone(), nil
}

// UpdateWorktreeLocation updates name/branch/path after a rename (§4.9
// step 4) and persists.
func (r *Registry) UpdateWorktreeLocation(id, name, branch, path string) (*Record, error) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return nil, codexerr.New(codexerr.KindNotFound, "workspace %q not found", id)
	}
	rec.Name = name
	rec.Path = path
	if rec.WorktreeMeta != nil {
		rec.WorktreeMeta.Branch = branch
	}
	r.mu.Unlock()

	if err := r.persistLocked(); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// RemoveWorkspace removes id. Removing a Main with live Worktree children
// either removes them too (cascade) or, if cascade is false, refuses
// (i4). Removing a Worktree never cascades.
func (r *Registry) RemoveWorkspace(id string, cascade bool) error {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return codexerr.New(codexerr.KindNotFound, "workspace %q not found", id)
	}

	var children []string
	if rec.Kind == KindMain {
		for cid, crec := range r.records {
			if crec.Kind == KindWorktree && crec.ParentID == id {
				children = append(children, cid)
			}
		}
		if len(children) > 0 && !cascade {
			r.mu.Unlock()
			return codexerr.New(codexerr.KindInvalid,
				"workspace %q has %d live worktree(s); remove them first or pass cascade", id, len(children))
		}
	}

	delete(r.records, id)
	for _, cid := range children {
		delete(r.records, cid)
	}
	r.mu.Unlock()

	for _, cid := range append(children, id) {
		r.mu.Lock()
		s, hasSession := r.sessions[cid]
		delete(r.sessions, cid)
		r.mu.Unlock()
		if hasSession {
			_ = s.Close()
		}
	}

	return r.persistLocked()
}
