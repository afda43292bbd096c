package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHandshakeRevision(t *testing.T) {
	data := []byte{0, 0, 2, 18} // 530
	rev, err := ParseHandshakeRevision(data)
	require.NoError(t, err)
	require.EqualValues(t, 530, rev)
}

func TestParseHandshakeRevisionTooShort(t *testing.T) {
	_, err := ParseHandshakeRevision([]byte{0, 1})
	require.Error(t, err)
}

func TestCheckRevision(t *testing.T) {
	require.True(t, CheckRevision(530, 530))
	require.False(t, CheckRevision(500, 530))
}

func TestEncodeLoginHandshakeSuccess(t *testing.T) {
	out := EncodeLoginHandshakeSuccess(12345)
	require.Len(t, out, 9)
	require.EqualValues(t, 0, out[0])
}

func TestEncodeJS5Responses(t *testing.T) {
	require.Equal(t, []byte{0}, EncodeJS5Success())
	require.Equal(t, []byte{HandshakeErrorOutOfDate}, EncodeJS5Error(HandshakeErrorOutOfDate))
}
