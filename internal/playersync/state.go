package playersync

import "sort"

const (
	// MaxLocalPlayers bounds how many other players one client tracks.
	MaxLocalPlayers = 255
	// DefaultViewDistance is the view radius in tiles.
	DefaultViewDistance uint16 = 15
	// PlayerUpdateOpcode is the outgoing player-update packet's opcode.
	PlayerUpdateOpcode = 81
)

// SyncConfig tunes the sync manager's behavior.
type SyncConfig struct {
	MaxLocalPlayers       int
	ViewDistance          uint16
	SendAppearanceOnAdd   bool
}

func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		MaxLocalPlayers:     MaxLocalPlayers,
		ViewDistance:        DefaultViewDistance,
		SendAppearanceOnAdd: true,
	}
}

// MovementType is what a player did this tick, for the self/other movement
// sub-section of the update packet.
type MovementType int

const (
	MovementNone MovementType = iota
	MovementWalk
	MovementRun
	MovementTeleport
)

// State is one player's per-tick synchronization bookkeeping.
type State struct {
	PlayerIndex       uint16
	LocalPlayers      map[uint16]struct{}
	PlayersToAdd      []uint16
	PlayersToRemove   []uint16
	UpdateData        UpdateData
	Movement          MovementType
	WalkDir           byte
	RunDir1, RunDir2  byte
	Teleported        bool
	AppearanceUpdated bool
	LastLocation      Location
}

func newState(index uint16, loc Location) *State {
	return &State{
		PlayerIndex:       index,
		LocalPlayers:      make(map[uint16]struct{}, MaxLocalPlayers),
		PlayersToAdd:      make([]uint16, 0, 32),
		PlayersToRemove:   make([]uint16, 0, 32),
		Movement:          MovementNone,
		AppearanceUpdated: true,
		LastLocation:      loc,
	}
}

func (s *State) resetTick() {
	s.PlayersToAdd = s.PlayersToAdd[:0]
	s.PlayersToRemove = s.PlayersToRemove[:0]
	s.UpdateData.Reset()
	s.Movement = MovementNone
	s.Teleported = false
	s.AppearanceUpdated = false
}

func (s *State) hasLocalPlayer(index uint16) bool {
	_, ok := s.LocalPlayers[index]
	return ok
}

func (s *State) addLocalPlayer(index uint16, max int) {
	if len(s.LocalPlayers) < max {
		s.LocalPlayers[index] = struct{}{}
		s.PlayersToAdd = append(s.PlayersToAdd, index)
	}
}

func (s *State) removeLocalPlayer(index uint16) {
	if s.hasLocalPlayer(index) {
		delete(s.LocalPlayers, index)
		s.PlayersToRemove = append(s.PlayersToRemove, index)
	}
}

// sortedLocalPlayers returns the tracked local-player indices in ascending
// order. Map iteration order is not stable across calls, and the client's
// other-player slots must land in the same order tick over tick whenever
// the tracked set itself hasn't changed.
func (s *State) sortedLocalPlayers() []uint16 {
	out := make([]uint16, 0, len(s.LocalPlayers))
	for idx := range s.LocalPlayers {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
