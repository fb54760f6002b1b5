package session

import (
	"encoding/json"

	"github.com/codexmonitor/daemon/internal/eventsink"
	"github.com/codexmonitor/daemon/internal/rpc"
)

// dispatch implements the Event Dispatcher (component E): for each message
// read from the agent's stdout, decide whether it resolves a pending
// request, routes to a background subscriber, or becomes a broadcast event,
// per the §4.2 decision table (first match wins).
func (s *Session) dispatch(msg rpc.Message) {
	maybeID := msg.HasID()
	hasResultOrError := msg.HasResultOrError()
	hasMethod := msg.HasMethod()
	threadID, hasThreadID := rpc.ExtractThreadID(msg)

	// Rule 1: response to one of our requests.
	if maybeID && hasResultOrError {
		id := *msg.ID
		ctx, hadCtx := s.registry.popContext(id)
		if hadCtx && ctx.Method == "thread/list" && msg.Error == nil {
			s.threads.applyThreadListResult(msg.Result, s.workspaces.snapshotRoots())
		}
		if hasThreadID && hadCtx {
			s.threads.bind(threadID, ctx.WorkspaceID)
		}
		var resultErr error
		if msg.Error != nil {
			resultErr = &deliveredError{message: msg.Error.Message}
		}
		s.registry.deliver(id, pendingResult{msg: msg, err: resultErr})
		return
	}

	// Rule 2: server-originated request (agent expects a respond() call).
	// Falls through to the same routing as rule 3; the client that receives
	// it is responsible for eventually answering via Session.Respond.
	if maybeID && !hasResultOrError && hasMethod {
		s.routeNotification(msg, threadID, hasThreadID)
		return
	}

	// Rule 3: notification (no id) with a method.
	if !maybeID && hasMethod {
		s.routeNotification(msg, threadID, hasThreadID)
		return
	}

	// Rule 4: an id with neither method nor result/error — still try to
	// resolve a pending slot (defensive; should not normally occur).
	if maybeID {
		s.registry.deliver(*msg.ID, pendingResult{msg: msg})
		return
	}

	// Rule 5 is handled by the caller for frames that failed to parse at
	// all (see Session.readLoop / emitParseError), since a parse failure
	// never reaches dispatch with a populated rpc.Message.
}

// routeNotification implements §4.2 rules 2/3's shared routing logic once a
// method + optional thread id are known.
func (s *Session) routeNotification(msg rpc.Message, threadID string, hasThreadID bool) {
	routed, ok := s.resolveRoutedWorkspace(threadID, hasThreadID)

	if msg.Method == "thread/archived" && hasThreadID {
		// Routing above already observed the pre-removal binding; now drop it.
		s.threads.unbind(threadID)
	}

	if hasThreadID && s.background.deliver(threadID, msg) {
		// Delivered to the private subscriber; broadcast is suppressed.
		return
	}

	if rpc.GlobalNotifications[msg.Method] && !hasThreadID && !ok {
		for _, wsID := range s.workspaces.snapshotIDs() {
			s.publishAppServerEvent(wsID, msg)
		}
		return
	}

	target := routed
	if !ok {
		target = s.ownerWorkspaceID
	}
	s.publishAppServerEvent(target, msg)
}

// resolveRoutedWorkspace resolves the routed workspace for a notification:
// the workspace bound to its thread id, if there is one. No request context
// is consulted here (rule 1 already consumed it for responses). ok is false
// when no binding applies; the caller then either fans a global
// notification out or falls back to the owner workspace.
func (s *Session) resolveRoutedWorkspace(threadID string, hasThreadID bool) (string, bool) {
	if hasThreadID {
		if wsID, ok := s.threads.lookup(threadID); ok {
			return wsID, true
		}
	}
	return "", false
}

// publishAppServerEvent wraps an agent-originated message in the
// app-server-event envelope (§6) and publishes it to the event sink.
func (s *Session) publishAppServerEvent(workspaceID string, msg rpc.Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	envelope, err := json.Marshal(struct {
		Method string `json:"method"`
		Params any    `json:"params"`
	}{
		Method: "app-server-event",
		Params: struct {
			WorkspaceID string          `json:"workspaceId"`
			Message     json.RawMessage `json:"message"`
		}{workspaceID, raw},
	})
	if err != nil {
		return
	}
	s.sink.Publish(eventsink.Event{WorkspaceID: workspaceID, Message: envelope})
}

// emitParseError implements §4.2 rule 5: a synthetic codex/parseError event
// on the owner workspace.
func (s *Session) emitParseError(raw string, cause error) {
	envelope, err := json.Marshal(struct {
		Method string `json:"method"`
		Params any    `json:"params"`
	}{
		Method: "codex/parseError",
		Params: struct {
			Error string `json:"error"`
			Raw   string `json:"raw"`
		}{cause.Error(), raw},
	})
	if err != nil {
		return
	}
	s.sink.Publish(eventsink.Event{WorkspaceID: s.ownerWorkspaceID, Message: envelope})
}

// deliveredError carries an agent-reported {error:{message}} into Go's
// error interface.
type deliveredError struct{ message string }

func (e *deliveredError) Error() string { return e.message }
