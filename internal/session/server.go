package session

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Server accepts TCP connections and drives each through a Dispatcher,
// enforcing the per-IP connection cap, the fast-reconnect flood guard, and
// the idle-session sweep described in the recognized configuration options.
type Server struct {
	ListenAddr         string
	Dispatcher         *Dispatcher
	PerIPConnectionCap int
	IdleTimeout        time.Duration
	SendQueueSize      int
	WriteTimeout       time.Duration

	// FloodProtection, when true, rejects an IP that reconnects too many
	// times in quick succession. A reconnect counts as "fast" when it
	// arrives within FastConnectionTime of the previous one from the same
	// IP; once the fast count exceeds FastConnectionLimit, new connections
	// from that IP are rejected until the gap since the last one reaches
	// NormalConnectionTime, which resets the count.
	FloodProtection      bool
	FastConnectionLimit  int
	NormalConnectionTime time.Duration
	FastConnectionTime   time.Duration

	nextID atomic.Uint64
	pool   *BytePool

	mu       sync.Mutex
	perIP    map[string]int
	sessions map[uint64]*Session

	floodMu sync.Mutex
	flood   map[string]*floodState
}

type floodState struct {
	lastConnect time.Time
	fastCount   int
}

func NewServer(addr string, dispatcher *Dispatcher) *Server {
	return &Server{
		ListenAddr:         addr,
		Dispatcher:         dispatcher,
		PerIPConnectionCap: 10,
		IdleTimeout:        5 * time.Minute,
		SendQueueSize:      256,
		WriteTimeout:       5 * time.Second,

		FloodProtection:      true,
		FastConnectionLimit:  15,
		NormalConnectionTime: 700 * time.Millisecond,
		FastConnectionTime:   350 * time.Millisecond,

		pool:     NewBytePool(512),
		perIP:    make(map[string]int),
		sessions: make(map[uint64]*Session),
		flood:    make(map[string]*floodState),
	}
}

// Run listens and serves until ctx is cancelled. It starts an idle-sweep
// goroutine alongside the accept loop and returns once the accept loop
// stops; the sweep goroutine exits on its own when ctx is done.
func (s *Server) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.ListenAddr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	go s.sweepIdle(ctx)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("accept failed", "err", err)
			continue
		}
		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}

	if !s.admitFlood(host) {
		slog.Warn("fast-reconnect flood limit reached, rejecting", "ip", host)
		conn.Close()
		return
	}

	if !s.admit(host) {
		slog.Warn("per-ip connection cap reached, rejecting", "ip", host)
		conn.Close()
		return
	}
	defer s.release(host)

	id := s.nextID.Add(1)
	sess, err := New(id, conn, Config{
		SendQueueSize: s.SendQueueSize,
		WriteTimeout:  s.WriteTimeout,
		WritePool:     s.pool,
	})
	if err != nil {
		conn.Close()
		return
	}

	s.track(sess)
	defer s.untrack(sess)
	defer conn.Close()

	if err := s.Dispatcher.Run(ctx, sess); err != nil {
		slog.Debug("session ended", "session", id, "err", err)
	}
}

func (s *Server) admit(ip string) bool {
	if s.PerIPConnectionCap <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.perIP[ip] >= s.PerIPConnectionCap {
		return false
	}
	s.perIP[ip]++
	return true
}

// admitFlood reports whether ip may connect under the fast-reconnect flood
// guard, bumping its fast-reconnect count as a side effect.
func (s *Server) admitFlood(ip string) bool {
	if !s.FloodProtection {
		return true
	}

	now := time.Now()
	s.floodMu.Lock()
	defer s.floodMu.Unlock()

	st, ok := s.flood[ip]
	if !ok {
		s.flood[ip] = &floodState{lastConnect: now}
		return true
	}

	elapsed := now.Sub(st.lastConnect)
	st.lastConnect = now

	switch {
	case elapsed >= s.NormalConnectionTime:
		st.fastCount = 0
	case elapsed < s.FastConnectionTime:
		st.fastCount++
	}

	return st.fastCount <= s.FastConnectionLimit
}

func (s *Server) release(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perIP[ip]--
	if s.perIP[ip] <= 0 {
		delete(s.perIP, ip)
	}
}

func (s *Server) track(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

func (s *Server) untrack(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess.ID)
}

// sweepIdle periodically disconnects sessions that have exceeded IdleTimeout.
func (s *Server) sweepIdle(ctx context.Context) {
	if s.IdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(s.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			for _, sess := range s.sessions {
				if sess.IdleFor() > s.IdleTimeout {
					slog.Info("disconnecting idle session", "session", sess.ID, "idle", sess.IdleFor())
					sess.Close()
				}
			}
			s.mu.Unlock()

			s.sweepFlood()
		}
	}
}

// sweepFlood drops flood-tracking entries for IPs that have gone quiet long
// enough to already count as a normal (non-fast) reconnect, so the map
// doesn't grow unbounded with one-off connections.
func (s *Server) sweepFlood() {
	if !s.FloodProtection {
		return
	}
	now := time.Now()
	s.floodMu.Lock()
	defer s.floodMu.Unlock()
	for ip, st := range s.flood {
		if now.Sub(st.lastConnect) >= s.NormalConnectionTime {
			delete(s.flood, ip)
		}
	}
}
