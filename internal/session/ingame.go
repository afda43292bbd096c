package session

import (
	"fmt"
	"log/slog"

	"github.com/rscore/rs530/internal/protocol"
)

// handleGamePacket dispatches one decoded in-game opcode. Movement and
// interface interaction are acknowledged but not simulated; the minimal
// required set just needs to keep the session alive and consistent, per
// the required-opcode table.
func handleGamePacket(sess *Session, opcode byte, payload []byte) error {
	switch opcode {
	case protocol.OpKeepAlive:
		return nil
	case protocol.OpFocusChange:
		return nil
	case protocol.OpChat:
		slog.Debug("chat", "session", sess.ID, "len", len(payload))
		return nil
	case protocol.OpWalkHere, protocol.OpWalkHereAlt:
		slog.Debug("walk request", "session", sess.ID, "len", len(payload))
		return nil
	case protocol.OpCommand:
		slog.Debug("command", "session", sess.ID, "text", string(payload))
		return nil
	case protocol.OpMapRegionLoaded:
		return nil
	case protocol.OpMouseClick:
		return nil
	case protocol.OpButtonClick:
		return nil
	case protocol.OpCloseInterface:
		return nil
	default:
		if !protocol.IsKnownOpcode(opcode) {
			return fmt.Errorf("unknown opcode %d", opcode)
		}
		return nil
	}
}
