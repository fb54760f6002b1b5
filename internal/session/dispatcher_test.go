package session

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/codexmonitor/daemon/internal/eventsink"
	"github.com/codexmonitor/daemon/internal/rpc"
)

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type recordingSink struct {
	mu     sync.Mutex
	events []eventsink.Event
}

func (r *recordingSink) Publish(e eventsink.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) snapshot() []eventsink.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]eventsink.Event, len(r.events))
	copy(out, r.events)
	return out
}

func newTestSession(owner, ownerRoot string, sink eventsink.Sink) *Session {
	return &Session{
		ownerWorkspaceID: owner,
		registry:         newRegistry(),
		threads:          newThreadRouter(),
		workspaces:       newAttachedWorkspaces(owner, ownerRoot),
		background:       newBackgroundSubscribers(),
		sink:             sink,
		logger:           slog.Default(),
		stdin:            nopWriteCloser{io.Discard},
		closed:           make(chan struct{}),
	}
}

// Scenario 2 from §8: a request started on W2 replies with a threadId, then
// an unsolicited notification carrying that threadId routes to W2.
func TestThreadRoutingFromRequestReply(t *testing.T) {
	sink := &recordingSink{}
	s := newTestSession("W1", "/a", sink)
	s.workspaces.attach("W2", "/a/sub")

	id, ch := s.registry.allocate(RequestContext{WorkspaceID: "W2", Method: "start_thread"})
	s.dispatch(rpc.Message{ID: &id, Result: []byte(`{"threadId":"T"}`)})

	select {
	case res := <-ch:
		if res.err != nil {
			t.Fatalf("unexpected error: %v", res.err)
		}
	default:
		t.Fatal("expected response to be delivered")
	}

	if wsID, ok := s.threads.lookup("T"); !ok || wsID != "W2" {
		t.Fatalf("thread T bound to %q, %v; want W2", wsID, ok)
	}

	s.dispatch(rpc.Message{Method: "turn/started", Params: []byte(`{"threadId":"T"}`)})

	events := sink.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].WorkspaceID != "W2" {
		t.Fatalf("expected event routed to W2, got %q", events[0].WorkspaceID)
	}
}

// Scenario 3 from §8: a global notification with no thread id fans out to
// every attached workspace.
func TestGlobalNotificationFanOut(t *testing.T) {
	sink := &recordingSink{}
	s := newTestSession("W1", "/a", sink)
	s.workspaces.attach("W3", "/c")

	s.dispatch(rpc.Message{Method: "account/updated", Params: []byte(`{}`)})

	events := sink.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected 2 fan-out events, got %d", len(events))
	}
	seen := map[string]bool{}
	for _, e := range events {
		seen[e.WorkspaceID] = true
	}
	if !seen["W1"] || !seen["W3"] {
		t.Fatalf("expected fan-out to W1 and W3, got %+v", seen)
	}
}

// Scenario 4 from §8: a registered background subscriber receives the
// message and the broadcast sink receives nothing for it.
func TestBackgroundSuppression(t *testing.T) {
	sink := &recordingSink{}
	s := newTestSession("W1", "/a", sink)

	sub := s.RegisterBackgroundSubscriber("T")
	s.dispatch(rpc.Message{Method: "item/agentMessage/delta", Params: []byte(`{"threadId":"T","delta":"hi"}`)})

	msg, ok := sub.Pop()
	if !ok {
		t.Fatal("expected subscriber delivery")
	}
	if msg.Method != "item/agentMessage/delta" {
		t.Fatalf("unexpected subscriber message: %+v", msg)
	}

	if events := sink.snapshot(); len(events) != 0 {
		t.Fatalf("expected no broadcast events, got %d", len(events))
	}
}

func TestThreadArchivedRemovesBinding(t *testing.T) {
	sink := &recordingSink{}
	s := newTestSession("W1", "/a", sink)
	s.threads.bind("T", "W1")

	s.dispatch(rpc.Message{Method: "thread/archived", Params: []byte(`{"threadId":"T"}`)})

	if _, ok := s.threads.lookup("T"); ok {
		t.Fatal("expected binding to be removed")
	}
}

func TestParseErrorEmitsSyntheticEvent(t *testing.T) {
	sink := &recordingSink{}
	s := newTestSession("W1", "/a", sink)

	s.emitParseError("not json", context.DeadlineExceeded)

	events := sink.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	var probe struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(events[0].Message, &probe); err != nil || probe.Method != "codex/parseError" {
		t.Fatalf("expected codex/parseError event, got %s", events[0].Message)
	}
}

func TestThreadListResultBindsByContainment(t *testing.T) {
	sink := &recordingSink{}
	s := newTestSession("W1", "/a", sink)
	s.workspaces.attach("W2", "/a/sub")

	result := []byte(`{"threads":[{"threadId":"T1","cwd":"/a/sub/deep"},{"threadId":"T2","cwd":"/elsewhere"}]}`)
	id, _ := s.registry.allocate(RequestContext{WorkspaceID: "W1", Method: "thread/list"})
	s.dispatch(rpc.Message{ID: &id, Result: result})

	if wsID, ok := s.threads.lookup("T1"); !ok || wsID != "W2" {
		t.Fatalf("T1 bound to %q, %v; want W2", wsID, ok)
	}
	if _, ok := s.threads.lookup("T2"); ok {
		t.Fatal("T2 should be left unbound (no matching root)")
	}
}
