// Package protoerr defines the typed error taxonomy shared across the
// transport, cache, auth, and game layers so callers can branch on error
// category without string matching.
package protoerr

import "fmt"

// Category distinguishes the layer an error originated in.
type Category byte

const (
	CategoryNetwork Category = iota
	CategoryProtocol
	CategoryCache
	CategoryAuth
	CategoryGame
)

func (c Category) String() string {
	switch c {
	case CategoryNetwork:
		return "network"
	case CategoryProtocol:
		return "protocol"
	case CategoryCache:
		return "cache"
	case CategoryAuth:
		return "auth"
	case CategoryGame:
		return "game"
	default:
		return "unknown"
	}
}

// NetworkKind distinguishes the recovery path a CategoryNetwork error needs:
// every one of them is handled by terminating the affected session,
// releasing its player index if assigned, and continuing to accept.
type NetworkKind byte

const (
	KindReadError NetworkKind = iota
	KindWriteError
	KindWriteBufferFull
	KindConnectionClosed
	KindSessionNotFound
	KindTooManyConnections
	KindWebSocket
)

func (k NetworkKind) String() string {
	switch k {
	case KindReadError:
		return "read_error"
	case KindWriteError:
		return "write_error"
	case KindWriteBufferFull:
		return "write_buffer_full"
	case KindConnectionClosed:
		return "connection_closed"
	case KindSessionNotFound:
		return "session_not_found"
	case KindTooManyConnections:
		return "too_many_connections"
	case KindWebSocket:
		return "websocket"
	default:
		return "unknown"
	}
}

// Error is the common shape for every typed error in this module: a
// category, a wire response code (where one applies), a message, and an
// optional wrapped cause. Kind only applies to CategoryNetwork errors.
type Error struct {
	Category Category
	Kind     NetworkKind
	Code     byte
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	prefix := e.Category.String()
	if e.Category == CategoryNetwork {
		prefix = fmt.Sprintf("%s[%s]", prefix, e.Kind)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// WireCode returns the byte this error should be reported to the peer as,
// when the category has a defined response code.
func (e *Error) WireCode() byte { return e.Code }

func newErr(cat Category, code byte, msg string, cause error) *Error {
	return &Error{Category: cat, Code: code, Message: msg, Cause: cause}
}

// Network wraps a transport-level failure (read/write/timeout/reset) with
// no more specific kind; its Kind is recorded as KindReadError.
func Network(msg string, cause error) *Error {
	return &Error{Category: CategoryNetwork, Kind: KindReadError, Message: msg, Cause: cause}
}

// NetworkKindError wraps a transport-level failure of a specific kind —
// used by callers that need to distinguish recovery paths (e.g. a full send
// queue vs. a failed WebSocket upgrade) rather than treat every network
// failure the same way.
func NetworkKindError(kind NetworkKind, msg string, cause error) *Error {
	return &Error{Category: CategoryNetwork, Kind: kind, Message: msg, Cause: cause}
}

// Protocol wraps a malformed or out-of-sequence packet.
func Protocol(msg string, cause error) *Error {
	return newErr(CategoryProtocol, 0, msg, cause)
}

// Cache wraps a cache-store failure (missing file, corrupt sector chain,
// unsupported compression).
func Cache(msg string, cause error) *Error {
	return newErr(CategoryCache, 0, msg, cause)
}

// Auth wraps an authentication failure, code is the LoginResponse byte to
// send back to the client.
func Auth(code byte, msg string, cause error) *Error {
	return newErr(CategoryAuth, code, msg, cause)
}

// Game wraps a world/session-level failure unrelated to the wire format.
func Game(msg string, cause error) *Error {
	return newErr(CategoryGame, 0, msg, cause)
}
