package session

import (
	"encoding/json"
	"sync"

	"github.com/codexmonitor/daemon/internal/pathnorm"
)

// threadRouter is the Thread Router (component D): it maintains the
// thread_id -> workspace_id bindings and knows how to refresh them from a
// thread/list result (§4.4).
type threadRouter struct {
	mu     sync.Mutex
	byID   map[string]string // thread_id -> workspace_id
}

func newThreadRouter() *threadRouter {
	return &threadRouter{byID: make(map[string]string)}
}

// bind records (or overwrites) thread_id -> workspace_id. Most-recent-write
// wins (§9 open question (a)): an explicit request's binding always
// overwrites an earlier thread/list-derived one.
func (t *threadRouter) bind(threadID, workspaceID string) {
	if threadID == "" {
		return
	}
	t.mu.Lock()
	t.byID[threadID] = workspaceID
	t.mu.Unlock()
}

// lookup returns the workspace id bound to threadID, if any.
func (t *threadRouter) lookup(threadID string) (string, bool) {
	if threadID == "" {
		return "", false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byID[threadID]
	return id, ok
}

// unbind removes threadID's binding, used on thread/archived (§4.2 rule 3).
func (t *threadRouter) unbind(threadID string) {
	if threadID == "" {
		return
	}
	t.mu.Lock()
	delete(t.byID, threadID)
	t.mu.Unlock()
}

// ThreadListEntry is one binding candidate extracted by walkThreadList.
type ThreadListEntry struct {
	ThreadID string
	Cwd      string
}

// walkThreadList implements the §4.4 recursive result walk: arrays recurse
// into every element; objects yield a ThreadListEntry when an id is found
// (first of threadId, thread_id, id, or nested thread.id) with its cwd
// (from cwd or nested thread.cwd), and additionally recurse into the values
// at keys threads/items/results/data. Entries with no id are skipped.
func walkThreadList(result json.RawMessage) []ThreadListEntry {
	if len(result) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(result, &v); err != nil {
		return nil
	}
	var entries []ThreadListEntry
	walkValue(v, &entries)
	return entries
}

func walkValue(v any, out *[]ThreadListEntry) {
	switch t := v.(type) {
	case []any:
		for _, elem := range t {
			walkValue(elem, out)
		}
	case map[string]any:
		if e, ok := entryFromObject(t); ok {
			*out = append(*out, e)
		}
		for _, key := range []string{"threads", "items", "results", "data"} {
			if nested, ok := t[key]; ok {
				walkValue(nested, out)
			}
		}
	}
}

func entryFromObject(obj map[string]any) (ThreadListEntry, bool) {
	id := firstString(obj, "threadId", "thread_id", "id")
	if id == "" {
		id = nestedString(obj, "thread", "id")
	}
	if id == "" {
		return ThreadListEntry{}, false
	}
	cwd := firstString(obj, "cwd")
	if cwd == "" {
		cwd = nestedString(obj, "thread", "cwd")
	}
	return ThreadListEntry{ThreadID: id, Cwd: cwd}, true
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func nestedString(obj map[string]any, outerKey, innerKey string) string {
	nested, ok := obj[outerKey].(map[string]any)
	if !ok {
		return ""
	}
	if s, ok := nested[innerKey].(string); ok {
		return s
	}
	return ""
}

// applyThreadListResult updates t from a thread/list reply's result,
// resolving each entry's cwd against roots (longest-prefix match, §4.3) and
// binding the winning workspace id. Entries with no matching root are left
// unbound per §4.4.
func (t *threadRouter) applyThreadListResult(result json.RawMessage, roots map[string]string) {
	for _, entry := range walkThreadList(result) {
		if entry.Cwd == "" {
			continue
		}
		if wsID, ok := pathnorm.BestRoot(roots, entry.Cwd); ok {
			t.bind(entry.ThreadID, wsID)
		}
	}
}
