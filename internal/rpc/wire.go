// Package rpc defines the wire shapes of the agent's line-delimited
// JSON-RPC dialect (§6 of SPEC_FULL.md) and the reader that frames raw
// subprocess output into those shapes (the Message Framer, component B).
//
// This intentionally does not reuse a typed SDK: the dialect is defined by
// method name and id shape, not by a fixed schema (see DESIGN.md for why
// coder/acp-go-sdk was dropped). Messages are decoded once into a loosely
// typed envelope and the individual fields are pulled out on demand, the
// same way the teacher's message_extract.go pulls fields out of a loosely
// typed ACP notification.
package rpc

import "encoding/json"

// Message is the generic envelope for anything read from the agent's
// stdout, or written to its stdin. At most one of (Method) or
// (Result/Error) is meaningful for a given line.
type Message struct {
	ID     *uint64         `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError is the error shape inside a response, per §6.
type RPCError struct {
	Message string `json:"message"`
}

// HasID reports whether the message carries a request id.
func (m Message) HasID() bool { return m.ID != nil }

// HasResultOrError reports whether the message carries a result or error,
// i.e. it looks like a response rather than a request/notification.
func (m Message) HasResultOrError() bool {
	return len(m.Result) > 0 || m.Error != nil
}

// HasMethod reports whether the message carries a method name.
func (m Message) HasMethod() bool { return m.Method != "" }

// ExtractThreadID searches, in order, under Params then Result for the
// first of threadId, thread_id, or a nested thread.id that is a string,
// per §4.2.
func ExtractThreadID(m Message) (string, bool) {
	if id, ok := extractThreadIDFrom(m.Params); ok {
		return id, true
	}
	return extractThreadIDFrom(m.Result)
}

func extractThreadIDFrom(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var probe struct {
		ThreadID  string `json:"threadId"`
		ThreadID2 string `json:"thread_id"`
		Thread    struct {
			ID string `json:"id"`
		} `json:"thread"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", false
	}
	if probe.ThreadID != "" {
		return probe.ThreadID, true
	}
	if probe.ThreadID2 != "" {
		return probe.ThreadID2, true
	}
	if probe.Thread.ID != "" {
		return probe.Thread.ID, true
	}
	return "", false
}

// GlobalNotifications is the fixed set of account-scoped notification
// methods that are fanned out to every attached workspace id when they
// arrive with no thread id and no request context (§4.2).
var GlobalNotifications = map[string]bool{
	"account/updated":             true,
	"account/rateLimits/updated":  true,
	"account/login/completed":     true,
}

// OutboundRequest is what gets marshaled to stdin for Session.request: an id,
// a method, and params.
type OutboundRequest struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// OutboundNotification is what gets marshaled to stdin for Session.notify:
// no id.
type OutboundNotification struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// OutboundResponse is what gets marshaled to stdin for Session.respond: used
// when the subprocess is acting as a server and the core is answering one of
// its requests.
type OutboundResponse struct {
	ID     uint64 `json:"id"`
	Result any    `json:"result,omitempty"`
}
