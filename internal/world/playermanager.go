package world

import (
	"sort"
	"sync"

	"github.com/rscore/rs530/internal/playersync"
)

// PlayerManager owns the roster of in-game players and guarantees that
// lookups by index, by lowercased username, and by session id all resolve
// to the same Player (spec invariant: username/index/session bijections).
type PlayerManager struct {
	mu          sync.RWMutex
	byIndex     map[uint16]*Player
	byUsername  map[string]uint16
	bySessionID map[uint64]uint16
}

// NewPlayerManager returns an empty PlayerManager.
func NewPlayerManager() *PlayerManager {
	return &PlayerManager{
		byIndex:     make(map[uint16]*Player),
		byUsername:  make(map[string]uint16),
		bySessionID: make(map[uint64]uint16),
	}
}

// Register adds p to the roster. It is an error to register a username that
// is already registered under a different session — callers are expected to
// have checked this at login time (the session dispatcher already refused
// the second login), so Register simply overwrites any stale mapping.
func (m *PlayerManager) Register(p *Player) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byIndex[p.Index] = p
	m.byUsername[p.Username] = p.Index
	m.bySessionID[p.SessionID] = p.Index
}

// Unregister removes the player at index from all three maps.
func (m *PlayerManager) Unregister(index uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byIndex[index]
	if !ok {
		return
	}
	delete(m.byIndex, index)
	delete(m.byUsername, p.Username)
	delete(m.bySessionID, p.SessionID)
}

// ByIndex returns the player at index, if registered.
func (m *PlayerManager) ByIndex(index uint16) (*Player, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byIndex[index]
	return p, ok
}

// ByUsername returns the player registered under the (already-canonical)
// username, if any.
func (m *PlayerManager) ByUsername(username string) (*Player, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.byUsername[username]
	if !ok {
		return nil, false
	}
	return m.byIndex[idx], true
}

// BySessionID returns the player owned by sessionID, if any.
func (m *PlayerManager) BySessionID(sessionID uint64) (*Player, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.bySessionID[sessionID]
	if !ok {
		return nil, false
	}
	return m.byIndex[idx], true
}

// Count returns the number of registered players.
func (m *PlayerManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byIndex)
}

// Snapshot returns every registered player ordered by index. The slice is a
// point-in-time copy; callers must not assume it stays live. Ordering is
// deterministic across calls so tick-driven decisions built from it (e.g.
// add/remove-cap enforcement) don't vary run to run with an unchanged roster.
func (m *PlayerManager) Snapshot() []*Player {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Player, 0, len(m.byIndex))
	for _, p := range m.byIndex {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Get implements playersync.PlayerSource.
func (m *PlayerManager) Get(index uint16) (playersync.SyncPlayer, bool) {
	p, ok := m.ByIndex(index)
	if !ok {
		return nil, false
	}
	return syncView{p}, true
}

// Indices implements playersync.PlayerSource, returned in ascending order
// so callers that iterate the roster (add/remove-cap decisions, per-tick
// packet building) see a stable order across ticks for an unchanged roster.
func (m *PlayerManager) Indices() []uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uint16, 0, len(m.byIndex))
	for idx := range m.byIndex {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
