package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/codexmonitor/daemon/internal/codexerr"
	"github.com/codexmonitor/daemon/internal/eventsink"
	"github.com/codexmonitor/daemon/internal/logging"
	"github.com/codexmonitor/daemon/internal/pathnorm"
	"github.com/codexmonitor/daemon/internal/persistence"
	"github.com/codexmonitor/daemon/internal/session"
)

// Registry is the Workspace Registry (component G): it owns WorkspaceRecords
// and the workspace_id -> Session map, and implements the §4.7
// update-settings respawn policy. Record mutation always goes through here
// so that the persisted list and the in-memory list never diverge (P7).
type Registry struct {
	mu       sync.RWMutex
	records  map[string]*Record
	sessions map[string]*session.Session

	store        *persistence.Store
	sink         eventsink.Sink
	defaultAgent string
	logger       *slog.Logger
}

// New loads existing records from store (sessions are not eagerly opened;
// callers reopen via OpenSession as needed).
func New(store *persistence.Store, sink eventsink.Sink, defaultAgent string, logger *slog.Logger) (*Registry, error) {
	records, err := store.LoadWorkspaces()
	if err != nil {
		return nil, fmt.Errorf("load workspaces: %w", err)
	}
	byID := make(map[string]*Record, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}
	return &Registry{
		records:      byID,
		sessions:     make(map[string]*session.Session),
		store:        store,
		sink:         sink,
		defaultAgent: defaultAgent,
		logger:       logging.Component(logger, "workspace_registry"),
	}, nil
}

// Get returns a clone of the record for id.
func (r *Registry) Get(id string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// List returns a clone of every record, sorted by SortOrder then name.
func (r *Registry) List() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Settings.SortOrder != out[j].Settings.SortOrder {
			return out[i].Settings.SortOrder < out[j].Settings.SortOrder
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Session returns the Session currently serving workspace id, if any.
func (r *Registry) Session(id string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// AddWorkspace creates a new Main record for path, persists it, and opens a
// session for it (§8 scenario 1).
func (r *Registry) AddWorkspace(ctx context.Context, path, name string) (*Record, error) {
	normalized := pathnorm.Normalize(path)
	if normalized == "" {
		return nil, codexerr.New(codexerr.KindInvalid, "path is required")
	}

	r.mu.Lock()
	for _, rec := range r.records {
		if rec.Path == normalized {
			r.mu.Unlock()
			return nil, codexerr.New(codexerr.KindInvalid, "path %q is already registered", normalized)
		}
	}
	rec := &Record{
		ID:   uuid.NewString(),
		Name: name,
		Path: normalized,
		Kind: KindMain,
	}
	r.records[rec.ID] = rec
	r.mu.Unlock()

	if err := r.persistLocked(); err != nil {
		r.mu.Lock()
		delete(r.records, rec.ID)
		r.mu.Unlock()
		return nil, err
	}

	if err := r.openSession(ctx, rec); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// openSession spawns and registers a Session for rec using its currently
// resolved inputs.
func (r *Registry) openSession(ctx context.Context, rec *Record) error {
	cfg := session.SpawnConfig{
		AgentBinary: rec.AgentBinaryOverride,
		Default:     r.defaultAgent,
		Args:        r.resolveArgv(rec),
		CodexHome:   r.resolveCodexHome(rec),
		WorkDir:     rec.Path,
	}
	s, err := session.Open(ctx, cfg, rec.ID, rec.Path, r.sink, r.logger)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.sessions[rec.ID] = s
	r.mu.Unlock()
	return nil
}

// OpenSession spawns a session for an already-registered record id, e.g.
// after a worktree has been created and persisted (§4.8 step 5).
func (r *Registry) OpenSession(ctx context.Context, id string) error {
	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		return codexerr.New(codexerr.KindNotFound, "workspace %q not found", id)
	}
	return r.openSession(ctx, rec)
}

// CloseWorkspace closes the session serving id, if any.
func (r *Registry) CloseWorkspace(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close()
}

// resolveCodexHome resolves the effective CODEX_HOME for rec, inheriting
// from the parent Main when rec is a Worktree and has no override of its
// own (§4.7).
func (r *Registry) resolveCodexHome(rec *Record) string {
	if rec.Settings.CodexHome != "" {
		return rec.Settings.CodexHome
	}
	if rec.Kind == KindWorktree && rec.ParentID != "" {
		if parent, ok := r.records[rec.ParentID]; ok {
			return parent.Settings.CodexHome
		}
	}
	return ""
}

// resolveArgv resolves the effective argv for rec, inheriting CodexArgs from
// the parent Main when rec is a Worktree with no override of its own.
func (r *Registry) resolveArgv(rec *Record) []string {
	args := rec.Settings.CodexArgs
	if args == "" && rec.Kind == KindWorktree && rec.ParentID != "" {
		if parent, ok := r.records[rec.ParentID]; ok {
			args = parent.Settings.CodexArgs
		}
	}
	if args == "" {
		return nil
	}
	return strings.Fields(args)
}

// UpdateSettings implements §4.7: it recomputes the session-derived inputs
// before and after applying newSettings, respawning the live session with
// an atomic swap if either input changed, rolling back on respawn failure.
// If rec is a Main whose worktree_setup_script changed, the new value
// propagates to every child Worktree record and their live sessions are
// respawned best-effort.
func (r *Registry) UpdateSettings(ctx context.Context, id string, newSettings Settings) (*Record, error) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return nil, codexerr.New(codexerr.KindNotFound, "workspace %q not found", id)
	}
	previous := rec.Clone()
	oldCodexHome := r.resolveCodexHome(rec)
	oldArgv := r.resolveArgv(rec)

	setupScriptChanged := rec.Kind == KindMain && newSettings.WorktreeSetupScript != rec.Settings.WorktreeSetupScript
	previousSettings := rec.Settings
	rec.Settings = newSettings
	newCodexHome := r.resolveCodexHome(rec)
	newArgv := r.resolveArgv(rec)
	liveSession, hasSession := r.sessions[id]
	r.mu.Unlock()

	if hasSession && (oldCodexHome != newCodexHome || !equalArgv(oldArgv, newArgv)) {
		if err := r.respawn(ctx, id, rec, liveSession); err != nil {
			r.mu.Lock()
			r.records[id] = previous
			r.mu.Unlock()
			return nil, err
		}
	}

	if err := r.persistLocked(); err != nil {
		return nil, err
	}

	if setupScriptChanged {
		r.propagateSetupScript(ctx, id, newSettings.WorktreeSetupScript)
	}
	if rec.Kind == KindMain {
		r.propagateDerivedInputs(ctx, id, previousSettings, newSettings)
	}

	return rec.Clone(), nil
}

// respawn opens a replacement session with rec's current settings, swaps it
// in atomically on success, and kills the old one.
func (r *Registry) respawn(ctx context.Context, id string, rec *Record, old *session.Session) error {
	cfg := session.SpawnConfig{
		AgentBinary: rec.AgentBinaryOverride,
		Default:     r.defaultAgent,
		Args:        r.resolveArgv(rec),
		CodexHome:   r.resolveCodexHome(rec),
		WorkDir:     rec.Path,
	}
	replacement, err := session.Open(ctx, cfg, rec.ID, rec.Path, r.sink, r.logger)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.sessions[id] = replacement
	r.mu.Unlock()
	_ = old.Close()
	return nil
}

// propagateSetupScript copies the new worktree_setup_script to every child
// Worktree record of parentID, persists them, and respawns every such child
// that has a live session, whether or not its derived inputs changed;
// per-child failures are logged but not fatal (§4.7).
func (r *Registry) propagateSetupScript(ctx context.Context, parentID, script string) {
	r.mu.Lock()
	var children []*Record
	for _, rec := range r.records {
		if rec.Kind == KindWorktree && rec.ParentID == parentID {
			rec.Settings.WorktreeSetupScript = script
			children = append(children, rec)
		}
	}
	r.mu.Unlock()

	if len(children) == 0 {
		return
	}
	if err := r.persistLocked(); err != nil {
		r.logger.Error("failed to persist propagated worktree_setup_script", "error", err)
	}

	var g errgroup.Group
	for _, child := range children {
		child := child
		r.mu.RLock()
		live, hasSession := r.sessions[child.ID]
		r.mu.RUnlock()
		if !hasSession {
			continue
		}
		g.Go(func() error {
			if err := r.respawn(ctx, child.ID, child, live); err != nil {
				r.logger.Error("respawn failed during worktree_setup_script propagation",
					"workspace_id", child.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// propagateDerivedInputs respawns every live child Worktree whose inherited
// CODEX_HOME or codex_args now differ because the parent Main's own values
// changed, independent of whether worktree_setup_script changed (§4.7: "a
// parent's CODEX_HOME/codex_args change cascades to every currently-
// connected child Worktree whose derived inputs now differ"). A child with
// its own override for a field is unaffected by a change to that field.
func (r *Registry) propagateDerivedInputs(ctx context.Context, parentID string, previous, updated Settings) {
	if previous.CodexHome == updated.CodexHome && previous.CodexArgs == updated.CodexArgs {
		return
	}

	r.mu.RLock()
	var children []*Record
	for _, rec := range r.records {
		if rec.Kind == KindWorktree && rec.ParentID == parentID && childInheritsChangedInput(rec, previous, updated) {
			children = append(children, rec)
		}
	}
	r.mu.RUnlock()

	var g errgroup.Group
	for _, child := range children {
		child := child
		r.mu.RLock()
		live, hasSession := r.sessions[child.ID]
		r.mu.RUnlock()
		if !hasSession {
			continue
		}
		g.Go(func() error {
			if err := r.respawn(ctx, child.ID, child, live); err != nil {
				r.logger.Error("respawn failed during parent settings propagation",
					"workspace_id", child.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// childInheritsChangedInput reports whether rec, a child Worktree with no
// override of its own for a field, inherits a value for that field that
// changed between previous and updated.
func childInheritsChangedInput(rec *Record, previous, updated Settings) bool {
	homeChanged := rec.Settings.CodexHome == "" && previous.CodexHome != updated.CodexHome
	argsChanged := rec.Settings.CodexArgs == "" && previous.CodexArgs != updated.CodexArgs
	return homeChanged || argsChanged
}

// persistLocked snapshots the in-memory records and saves them via the
// store. Called with r.mu not held by the caller (it takes its own
// RLock), matching the "readers take a full clone" policy of §5.
func (r *Registry) persistLocked() error {
	r.mu.RLock()
	records := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		records = append(records, rec)
	}
	r.mu.RUnlock()
	return r.store.SaveWorkspaces(records)
}

func equalArgv(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
