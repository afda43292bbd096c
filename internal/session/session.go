package session

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rscore/rs530/internal/isaac"
	"github.com/rscore/rs530/internal/protoerr"
)

// Session is one accepted connection, raw TCP or WebSocket-framed, driven
// by the dispatcher through the states in state.go.
type Session struct {
	ID        uint64
	conn      net.Conn
	remoteIP  string

	state atomic.Int32

	// serverKey is generated on a successful login handshake (opcode 14)
	// and echoed back to the client; js5Key stores a JS5 XOR key, while file
	// payloads are XORed by protocol.JS5Handler with the key it keeps itself.
	serverKey atomic.Uint64
	js5Key    atomic.Int32 // -1 until set; byte value otherwise

	// isaacMu guards both ISAAC streams. Per the design notes, hold this
	// lock only across the encode/decode of a single opcode byte — never
	// across a blocking I/O call.
	isaacMu sync.Mutex
	isaac   *isaac.Pair

	username     atomic.Value // string, canonical (lowercased, spaces→underscores)
	playerIndex  atomic.Uint32 // uint16 range; 0 = unassigned

	createdAt      time.Time
	lastActivity   atomic.Int64 // unix nanos

	outbound  chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once

	writePool    *BytePool
	writeTimeout time.Duration
}

// Config tunes per-session behavior; zero values fall back to defaults.
type Config struct {
	SendQueueSize int
	WriteTimeout  time.Duration
	WritePool     *BytePool
}

// New wraps conn in a Session in the Connected state.
func New(id uint64, conn net.Conn, cfg Config) (*Session, error) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}

	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	s := &Session{
		ID:           id,
		conn:         conn,
		remoteIP:     host,
		createdAt:    time.Now(),
		outbound:     make(chan []byte, cfg.SendQueueSize),
		closeCh:      make(chan struct{}),
		writePool:    cfg.WritePool,
		writeTimeout: cfg.WriteTimeout,
	}
	s.state.Store(int32(StateConnected))
	s.js5Key.Store(-1)
	s.username.Store("")
	s.lastActivity.Store(time.Now().UnixNano())
	return s, nil
}

func (s *Session) Conn() net.Conn    { return s.conn }
func (s *Session) RemoteIP() string  { return s.remoteIP }
func (s *Session) State() State      { return State(s.state.Load()) }
func (s *Session) SetState(st State) { s.state.Store(int32(st)) }

func (s *Session) Touch() { s.lastActivity.Store(time.Now().UnixNano()) }

func (s *Session) IdleFor() time.Duration {
	return time.Since(time.Unix(0, s.lastActivity.Load()))
}

func (s *Session) ServerKey() uint64      { return s.serverKey.Load() }
func (s *Session) SetServerKey(key uint64) { s.serverKey.Store(key) }

// NewServerKey generates and stores a random u64 server key (§4.5), using
// math/rand/v2 since this is non-cryptographic session bookkeeping, not a
// secret.
func (s *Session) NewServerKey() uint64 {
	key := rand.Uint64()
	s.SetServerKey(key)
	return key
}

// JS5Key returns the XOR key for JS5 payloads, or -1 if unset.
func (s *Session) JS5Key() int32        { return s.js5Key.Load() }
func (s *Session) SetJS5Key(key byte)   { s.js5Key.Store(int32(key)) }

func (s *Session) Username() string { return s.username.Load().(string) }
func (s *Session) SetUsername(u string) { s.username.Store(u) }

// PlayerIndex returns the assigned player index, or 0 if unassigned.
func (s *Session) PlayerIndex() uint16      { return uint16(s.playerIndex.Load()) }
func (s *Session) SetPlayerIndex(idx uint16) { s.playerIndex.Store(uint32(idx)) }

// SetISAAC attaches the server-side IsaacPair derived from the client's
// login seeds. Before this call, opcodes are sent/received unencrypted.
func (s *Session) SetISAAC(pair *isaac.Pair) {
	s.isaacMu.Lock()
	defer s.isaacMu.Unlock()
	s.isaac = pair
}

// ISAAC returns the session's IsaacPair, or nil if not yet established.
func (s *Session) ISAAC() *isaac.Pair {
	s.isaacMu.Lock()
	defer s.isaacMu.Unlock()
	return s.isaac
}

// Send queues an outbound packet for async delivery. Non-blocking: a full
// queue means a slow client, and the session is disconnected rather than
// allowed to back up memory.
func (s *Session) Send(packet []byte) error {
	select {
	case s.outbound <- packet:
		return nil
	default:
		if s.writePool != nil {
			s.writePool.Put(packet)
		}
		slog.Warn("session send queue full, disconnecting", "session", s.ID, "ip", s.remoteIP)
		s.CloseAsync()
		return protoerr.NetworkKindError(protoerr.KindWriteBufferFull,
			fmt.Sprintf("session %d: send queue full", s.ID), nil)
	}
}

// writePump drains the outbound queue to the connection, batching queued
// packets into a single net.Buffers writev call when more than one is ready.
func (s *Session) writePump() {
	bufs := make(net.Buffers, 0, 64)

	defer func() {
		for {
			select {
			case pkt := <-s.outbound:
				if s.writePool != nil {
					s.writePool.Put(pkt)
				}
			default:
				return
			}
		}
	}()

	for {
		select {
		case pkt, ok := <-s.outbound:
			if !ok {
				return
			}
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
				return
			}

			queued := len(s.outbound)
			if queued == 0 {
				_, err := s.conn.Write(pkt)
				if s.writePool != nil {
					s.writePool.Put(pkt)
				}
				if err != nil {
					slog.Warn("session write failed", "session", s.ID, "err", err)
					return
				}
				continue
			}

			bufs = bufs[:0]
			pending := make([][]byte, 0, queued+1)
			bufs = append(bufs, pkt)
			pending = append(pending, pkt)
			for range queued {
				p := <-s.outbound
				bufs = append(bufs, p)
				pending = append(pending, p)
			}

			_, err := bufs.WriteTo(s.conn)
			if s.writePool != nil {
				for _, b := range pending {
					s.writePool.Put(b)
				}
			}
			if err != nil {
				slog.Warn("session batch write failed", "session", s.ID, "err", err)
				return
			}

		case <-s.closeCh:
			return
		}
	}
}

// CloseAsync signals the write pump to stop and marks the session
// disconnected without blocking the caller. Safe to call multiple times.
func (s *Session) CloseAsync() {
	s.closeOnce.Do(func() {
		s.SetState(StateDisconnected)
		close(s.closeCh)
	})
}

// Close closes the underlying connection and stops the write pump.
func (s *Session) Close() error {
	s.CloseAsync()
	return s.conn.Close()
}
