// Package session implements the per-connection state machine and the
// dispatcher that multiplexes a connection across the handshake, JS5,
// login and in-game protocol handlers.
package session

// State is a session's position in the connection lifecycle (§4.1). A
// session only moves forward: Connected leads to JS5, or to LoginHandshake,
// LoggingIn and InGame in turn, and closing sets Disconnected from any
// state; a session must not process packets belonging to a later phase
// before reaching it.
type State int32

const (
	StateConnected State = iota
	StateJS5
	StateLoginHandshake
	StateLoggingIn
	StateInGame
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJS5:
		return "js5"
	case StateLoginHandshake:
		return "login_handshake"
	case StateLoggingIn:
		return "logging_in"
	case StateInGame:
		return "in_game"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// CanReceiveGamePackets reports whether s is the InGame state.
func (s State) CanReceiveGamePackets() bool { return s == StateInGame }
