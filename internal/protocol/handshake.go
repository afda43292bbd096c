package protocol

import (
	"encoding/binary"

	"github.com/rscore/rs530/internal/protoerr"
)

// HandshakeOpcode identifies what kind of session a freshly connected
// client wants to start.
type HandshakeOpcode byte

const (
	HandshakeLogin          HandshakeOpcode = 14
	HandshakeJS5            HandshakeOpcode = 15
	HandshakeAccountCreate  HandshakeOpcode = 147
	HandshakeAccountRecover HandshakeOpcode = 186
	HandshakeWorldList      HandshakeOpcode = 255
)

// HandshakeErrorOutOfDate is sent when the client's revision does not match
// the server's, for both the JS5 and login handshakes.
const HandshakeErrorOutOfDate byte = 6

// ParseHandshakeRevision reads the big-endian revision that follows the
// opcode byte on a JS5 or login handshake.
func ParseHandshakeRevision(data []byte) (uint32, error) {
	if len(data) < 4 {
		return 0, protoerr.Protocol("handshake revision: need 4 bytes", nil)
	}
	return binary.BigEndian.Uint32(data[:4]), nil
}

// CheckRevision reports whether the client's revision matches expected.
func CheckRevision(revision, expected uint32) bool {
	return revision == expected
}

// EncodeJS5Success is the single-byte response when the JS5 revision check passes.
func EncodeJS5Success() []byte { return []byte{0} }

// EncodeJS5Error is the single-byte response when the JS5 revision check fails.
func EncodeJS5Error(code byte) []byte { return []byte{code} }

// EncodeLoginHandshakeSuccess is the { 0, server_key(8) } response sent when
// the login handshake's revision check passes. server_key is generated by
// the caller and stored on the session for later diagnostic use.
func EncodeLoginHandshakeSuccess(serverKey uint64) []byte {
	out := make([]byte, 9)
	out[0] = 0
	binary.BigEndian.PutUint64(out[1:], serverKey)
	return out
}

// EncodeLoginHandshakeError is the single-byte response sent when the login
// handshake's revision check fails.
func EncodeLoginHandshakeError(code byte) []byte { return []byte{code} }
