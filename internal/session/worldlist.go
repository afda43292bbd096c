package session

import "github.com/rscore/rs530/internal/buffer"

// WorldListEntry describes this world for the supplemented opcode-255
// response. The original source stubs this response entirely; the spec
// only says "answered". We serve a minimal single-entry listing.
type WorldListEntry struct {
	ID          uint16
	Name        string
	PlayerCount uint16
	Host        string
}

// EncodeWorldList builds the opcode-255 response body: a single-entry
// world list encoded with the same binary-buffer primitives as every other
// packet in this protocol.
func EncodeWorldList(e WorldListEntry) []byte {
	buf := buffer.New(64)
	buf.WriteUShort(1) // entry count
	buf.WriteUShort(e.ID)
	buf.WriteStringJagex(e.Name)
	buf.WriteStringJagex(e.Host)
	buf.WriteUShort(e.PlayerCount)
	return buf.Bytes()
}
