// Package workspace implements the Workspace Registry (component G): the
// owner of WorkspaceRecords and the map from workspace id to the Session
// object(s) serving it, plus the respawn-on-settings-change policy of
// SPEC_FULL.md §4.7.
package workspace

// Kind distinguishes a primary checkout from a git-worktree sibling.
type Kind string

const (
	KindMain     Kind = "main"
	KindWorktree Kind = "worktree"
)

// WorktreeMeta is present iff Kind == KindWorktree.
type WorktreeMeta struct {
	Branch string `json:"branch"`
}

// Settings holds the per-workspace session-derived inputs plus display
// preferences (§3).
type Settings struct {
	CodexHome           string `json:"codexHome,omitempty"`
	CodexArgs           string `json:"codexArgs,omitempty"`
	WorktreeSetupScript string `json:"worktreeSetupScript,omitempty"`
	SortOrder           uint32 `json:"sortOrder,omitempty"`
}

// Record is the persisted WorkspaceRecord (§3).
type Record struct {
	ID                  string        `json:"id"`
	Name                string        `json:"name"`
	Path                string        `json:"path"`
	Kind                Kind          `json:"kind"`
	ParentID            string        `json:"parentId,omitempty"`
	WorktreeMeta        *WorktreeMeta `json:"worktreeMeta,omitempty"`
	Settings            Settings      `json:"settings"`
	AgentBinaryOverride string        `json:"agentBinaryOverride,omitempty"`
}

// Clone returns a deep-enough copy safe for a caller to mutate without
// affecting the registry's copy (§5: "readers take a full clone").
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if r.WorktreeMeta != nil {
		wm := *r.WorktreeMeta
		cp.WorktreeMeta = &wm
	}
	return &cp
}
