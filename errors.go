// Package bridge defines the shared error taxonomy for the cross-window MCP
// bridge transport (spec.md §7). Individual packages (outer, inner) wrap
// these sentinels with context via With/Withf, mirroring the teacher's
// root-level Err type.
package bridge

import "fmt"

////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	ErrSuccess Err = iota
	ErrProtocolVersionMismatch
	ErrOriginRejected
	ErrHandshakeTimeout
	ErrUnexpectedMessage
	ErrSetupFailure
	ErrPeerClosed
	ErrBadParameter
	ErrClosed
)

////////////////////////////////////////////////////////////////////////////
// TYPES

// Err is a taxonomy of transport-level error kinds (spec.md §7). It is not
// OriginDrift — that kind is dropped silently per spec and never surfaces.
type Err int

////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (e Err) Error() string {
	switch e {
	case ErrSuccess:
		return "success"
	case ErrProtocolVersionMismatch:
		return "protocol version mismatch"
	case ErrOriginRejected:
		return "origin rejected"
	case ErrHandshakeTimeout:
		return "handshake timeout"
	case ErrUnexpectedMessage:
		return "unexpected message for current state"
	case ErrSetupFailure:
		return "setup failed"
	case ErrPeerClosed:
		return "peer closed"
	case ErrBadParameter:
		return "bad parameter"
	case ErrClosed:
		return "transport closed"
	}
	return fmt.Sprintf("error code %d", int(e))
}

func (e Err) With(args ...interface{}) error {
	return fmt.Errorf("%w: %s", e, fmt.Sprint(args...))
}

func (e Err) Withf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", e, fmt.Sprintf(format, args...))
}
