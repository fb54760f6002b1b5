// Package controlplane implements the Control-Plane Server (component I):
// a TCP listener speaking newline-delimited JSON, with a token auth
// handshake, a bounded lossy broadcast channel per connection, and a
// dispatch table routing requests into the Workspace Registry, the
// Worktree Manager, and individual Sessions.
//
// The connection lifecycle — one reader goroutine, one writer goroutine
// draining a per-connection queue, line-delimited JSON framing — is
// grounded in the teacher's internal/server websocket hub (broadcaster
// goroutine draining a channel into a single writer), re-targeted at a raw
// net.Conn instead of a gorilla/websocket connection per SPEC_FULL.md's
// DOMAIN STACK note on why gorilla/websocket was dropped.
package controlplane

import "encoding/json"

// inboundEnvelope is the generic shape of anything a client writes to the
// control plane: a request carries ID, a notification omits it.
type inboundEnvelope struct {
	ID     *uint64         `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// outboundError is the wire shape of a failed response (§7: "All are
// flattened to {error:{message}} on the wire").
type outboundError struct {
	Message string `json:"message"`
}

type outboundResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *outboundError  `json:"error,omitempty"`
}

type outboundNotification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

func marshalResult(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
