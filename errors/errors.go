// Package errors defines the coordinator error taxonomy.
// Every rejected operation maps to a stable wire code the client can branch on.
package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	ErrUnauthenticated  = fmt.Errorf("credential missing, invalid or expired")
	ErrAccountInactive  = fmt.Errorf("account is inactive")
	ErrSessionNotFound  = fmt.Errorf("chat session not found")
	ErrSessionClosed    = fmt.Errorf("chat session is closed")
	ErrAccessDenied     = fmt.Errorf("access denied")
	ErrUpstreamTimeout  = fmt.Errorf("upstream collaborator timed out")
	ErrConnectionClosed = fmt.Errorf("connection is closed")
	ErrInternal         = fmt.Errorf("internal error")

	ErrWorkerPanic = fmt.Errorf("worker panic")
)

const (
	CodeUnauthenticated  = "Unauthenticated"
	CodeAccountInactive  = "AccountInactive"
	CodeSessionNotFound  = "SessionNotFound"
	CodeSessionClosed    = "SessionClosed"
	CodeAccessDenied     = "AccessDenied"
	CodeUpstreamTimeout  = "UpstreamTimeout"
	CodeConnectionClosed = "ConnectionClosed"
	CodeInternal         = "InternalError"
)

// Code resolves any error to its stable wire code.
// Unknown errors collapse to InternalError so that internal details
// never leak into a client payload.
func Code(err error) string {
	switch {
	case stderrors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case stderrors.Is(err, ErrAccountInactive):
		return CodeAccountInactive
	case stderrors.Is(err, ErrSessionNotFound):
		return CodeSessionNotFound
	case stderrors.Is(err, ErrSessionClosed):
		return CodeSessionClosed
	case stderrors.Is(err, ErrAccessDenied):
		return CodeAccessDenied
	case stderrors.Is(err, ErrUpstreamTimeout):
		return CodeUpstreamTimeout
	case stderrors.Is(err, ErrConnectionClosed):
		return CodeConnectionClosed
	default:
		return CodeInternal
	}
}

// Message returns the text safe to expose on the wire for err.
// Internal faults are replaced by a generic message.
func Message(err error) string {
	if Code(err) == CodeInternal {
		return "internal error"
	}
	return err.Error()
}
