// ABOUTME: Typed errors for assistant service calls
// ABOUTME: Callers match on Kind rather than on SDK error types

package assistant

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an assistant failure.
type ErrorKind string

const (
	// KindTransport covers network failures, timeouts and cancelled contexts.
	KindTransport ErrorKind = "transport"
	// KindAPI means the service answered with an error status.
	KindAPI ErrorKind = "api"
	// KindEmptyReply means a completed run left no assistant text to deliver.
	KindEmptyReply ErrorKind = "empty_reply"
)

// ErrNoReply is wrapped by KindEmptyReply errors.
var ErrNoReply = errors.New("no assistant reply in thread")

// Error is returned by every Service implementation in this package.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("assistant %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of an assistant error, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}
