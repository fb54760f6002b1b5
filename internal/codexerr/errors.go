// Package codexerr defines the error taxonomy shared by every layer of the
// daemon, from the Session Supervisor up to the control-plane server.
package codexerr

import "fmt"

// Kind classifies an error the way the control plane reports it to clients.
type Kind string

const (
	KindNotConnected Kind = "NotConnected"
	KindNotFound     Kind = "NotFound"
	KindInvalid      Kind = "Invalid"
	KindTimeout      Kind = "Timeout"
	KindUnauthorized Kind = "Unauthorized"
	KindIO           Kind = "Io"
	KindAgent        Kind = "Agent"
	KindCanceled     Kind = "RequestCanceled"
)

// Error is a typed error carrying a Kind and a human-readable message. The
// control-plane server flattens it to {error:{message}} on the wire; callers
// in this module match on Kind rather than parsing the message text.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an existing error, preserving it for errors.Is/As.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: err.Error(), Err: err}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, otherwise
// returns "" so callers can fall back to a generic classification.
func KindOf(err error) Kind {
	var e *Error
	if as(err, &e) {
		return e.Kind
	}
	return ""
}

// as is a tiny local errors.As to avoid importing errors just for this.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
