package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rscore/rs530/internal/isaac"
	"github.com/rscore/rs530/internal/protoerr"
)

// Length-discipline sentinels for the in-game opcode table.
const (
	lenPrefixByte  int16 = -1 // one length byte follows, then that many payload bytes
	lenPrefixShort int16 = -2 // two big-endian length bytes follow, then that many payload bytes
	lenUnknown     int16 = -3 // opcode not recognized; connection should be dropped in strict mode
)

// Opcodes a minimal in-game handler must implement (spec's required set).
const (
	OpKeepAlive        byte = 0
	OpFocusChange       byte = 3
	OpChat              byte = 4
	OpWalkHere          byte = 14
	OpWalkHereAlt       byte = 98
	OpCommand           byte = 52
	OpMapRegionLoaded   byte = 77
	OpMouseClick        byte = 86
	OpButtonClick       byte = 164
	OpCloseInterface    byte = 210
)

// packetLengths is the 256-entry opcode length table. Every slot defaults to
// lenUnknown; known opcodes are filled in below. Unimplemented-but-known
// opcodes are drained and discarded by the dispatcher rather than acted on.
var packetLengths = func() [256]int16 {
	var t [256]int16
	for i := range t {
		t[i] = lenUnknown
	}

	t[OpKeepAlive] = 0
	t[OpFocusChange] = 1
	t[OpChat] = lenPrefixByte
	t[OpWalkHere] = lenPrefixByte
	t[OpWalkHereAlt] = lenPrefixByte
	t[OpCommand] = lenPrefixByte
	t[OpMapRegionLoaded] = 0
	t[OpMouseClick] = 6
	t[OpButtonClick] = 2
	t[OpCloseInterface] = 0

	return t
}()

// OpcodeLength returns the length discipline for a decoded in-game opcode.
func OpcodeLength(opcode byte) int16 { return packetLengths[opcode] }

// IsKnownOpcode reports whether the opcode table recognizes this opcode.
func IsKnownOpcode(opcode byte) bool { return packetLengths[opcode] != lenUnknown }

// ReadGamePacket reads one in-game packet from r: an ISAAC-decoded opcode
// byte followed by a length-disciplined payload. Returns the decoded opcode
// and its payload. An unrecognized opcode is a protocol error — per the
// framing contract, the caller should disconnect rather than try to resync.
func ReadGamePacket(r io.Reader, pair *isaac.Pair) (byte, []byte, error) {
	var opByte [1]byte
	if _, err := io.ReadFull(r, opByte[:]); err != nil {
		return 0, nil, protoerr.Network("read opcode", err)
	}
	opcode := pair.DecodeOpcode(opByte[0])

	length := OpcodeLength(opcode)
	switch length {
	case lenUnknown:
		return opcode, nil, protoerr.Protocol(fmt.Sprintf("unrecognized opcode %d", opcode), nil)

	case lenPrefixByte:
		var lb [1]byte
		if _, err := io.ReadFull(r, lb[:]); err != nil {
			return opcode, nil, protoerr.Network("read length byte", err)
		}
		payload := make([]byte, lb[0])
		if _, err := io.ReadFull(r, payload); err != nil {
			return opcode, nil, protoerr.Network("read payload", err)
		}
		return opcode, payload, nil

	case lenPrefixShort:
		var lb [2]byte
		if _, err := io.ReadFull(r, lb[:]); err != nil {
			return opcode, nil, protoerr.Network("read length short", err)
		}
		n := binary.BigEndian.Uint16(lb[:])
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			return opcode, nil, protoerr.Network("read payload", err)
		}
		return opcode, payload, nil

	default:
		payload := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(r, payload); err != nil {
				return opcode, nil, protoerr.Network("read payload", err)
			}
		}
		return opcode, payload, nil
	}
}

// EncodeGamePacket builds the wire bytes for an outgoing in-game packet: the
// opcode byte ISAAC-encoded, followed by the length discipline the opcode
// declares (callers are responsible for matching payload length to what the
// table expects for fixed-size opcodes).
func EncodeGamePacket(pair *isaac.Pair, opcode byte, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+3)
	out = append(out, pair.EncodeOpcode(opcode))

	switch OpcodeLength(opcode) {
	case lenPrefixByte:
		out = append(out, byte(len(payload)))
	case lenPrefixShort:
		var lb [2]byte
		binary.BigEndian.PutUint16(lb[:], uint16(len(payload)))
		out = append(out, lb[:]...)
	}

	return append(out, payload...)
}
