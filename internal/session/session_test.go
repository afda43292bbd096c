package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pipeSession(t *testing.T) (*Session, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })
	sess, err := New(1, server, Config{SendQueueSize: 4, WriteTimeout: time.Second})
	require.NoError(t, err)
	return sess, client
}

func TestNewSessionStartsConnected(t *testing.T) {
	sess, _ := pipeSession(t)
	require.Equal(t, StateConnected, sess.State())
	require.Equal(t, int32(-1), sess.JS5Key())
	require.Equal(t, "", sess.Username())
}

func TestSessionSendDeliversBytes(t *testing.T) {
	sess, client := pipeSession(t)
	go sess.writePump()
	defer sess.Close()

	require.NoError(t, sess.Send([]byte{1, 2, 3}))

	buf := make([]byte, 3)
	client.SetReadDeadline(time.Now().Add(time.Second))
	_, err := readFull(client, buf)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, buf)
}

func TestSessionSendQueueFullDisconnects(t *testing.T) {
	sess, _ := pipeSession(t)
	// Don't start the write pump: fill the queue until it rejects.
	for i := 0; i < 4; i++ {
		require.NoError(t, sess.Send([]byte{byte(i)}))
	}
	err := sess.Send([]byte{99})
	require.Error(t, err)
	require.Equal(t, StateDisconnected, sess.State())
}

func TestStateCanReceiveGamePackets(t *testing.T) {
	require.False(t, StateConnected.CanReceiveGamePackets())
	require.False(t, StateLoggingIn.CanReceiveGamePackets())
	require.True(t, StateInGame.CanReceiveGamePackets())
}

func TestBytePoolRoundTrip(t *testing.T) {
	pool := NewBytePool(16)
	b := pool.Get(8)
	require.Len(t, b, 8)
	pool.Put(b)
	b2 := pool.Get(8)
	require.Len(t, b2, 8)
}

func TestEncodeWorldListShape(t *testing.T) {
	out := EncodeWorldList(WorldListEntry{ID: 1, Name: "Asgarnia", PlayerCount: 42, Host: "play.example.com"})
	require.NotEmpty(t, out)
	// entry count (2) + id (2) + name + host jagex strings + player count (2)
	require.Greater(t, len(out), 6)
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
