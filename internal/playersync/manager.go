package playersync

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/rscore/rs530/internal/buffer"
)

// Manager tracks per-player sync state and builds each player's update
// packet once per world tick.
type Manager struct {
	config SyncConfig

	mu     sync.RWMutex
	states map[uint16]*State
}

func NewManager() *Manager { return NewManagerWithConfig(DefaultSyncConfig()) }

func NewManagerWithConfig(cfg SyncConfig) *Manager {
	return &Manager{config: cfg, states: make(map[uint16]*State)}
}

// Register starts tracking index for synchronization.
func (m *Manager) Register(index uint16, loc Location) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[index] = newState(index, loc)
	slog.Debug("registered player for sync", "player_index", index)
}

// Unregister stops tracking index and drops it from every other player's
// local list.
func (m *Manager) Unregister(index uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.states {
		delete(s.LocalPlayers, index)
	}
	delete(m.states, index)
	slog.Debug("unregistered player from sync", "player_index", index)
}

func (m *Manager) withState(index uint16, fn func(*State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[index]; ok {
		fn(s)
	}
}

func (m *Manager) FlagAppearanceUpdate(index uint16) {
	m.withState(index, func(s *State) {
		s.UpdateData.FlagAppearance()
		s.AppearanceUpdated = true
	})
}

func (m *Manager) SetAnimation(index uint16, animationID int16, delay byte) {
	m.withState(index, func(s *State) { s.UpdateData.SetAnimation(animationID, delay) })
}

func (m *Manager) SetGraphics(index uint16, graphicsID, height, delay uint16) {
	m.withState(index, func(s *State) { s.UpdateData.SetGraphics(graphicsID, height, delay) })
}

func (m *Manager) SetChat(index uint16, effects uint16, rights byte, message []byte) {
	m.withState(index, func(s *State) { s.UpdateData.SetChat(effects, rights, message) })
}

func (m *Manager) SetHit(index uint16, damage uint16, hitType byte, currentHP, maxHP uint16) {
	m.withState(index, func(s *State) { s.UpdateData.SetHit(damage, hitType, currentHP, maxHP) })
}

func (m *Manager) SetForceChat(index uint16, text string) {
	m.withState(index, func(s *State) { s.UpdateData.SetForceChat(text) })
}

func (m *Manager) SetTeleported(index uint16) {
	m.withState(index, func(s *State) {
		s.Teleported = true
		s.Movement = MovementTeleport
	})
}

func (m *Manager) SetWalk(index uint16, dir byte) {
	m.withState(index, func(s *State) {
		s.Movement = MovementWalk
		s.WalkDir = dir
	})
}

func (m *Manager) SetRun(index uint16, dir1, dir2 byte) {
	m.withState(index, func(s *State) {
		s.Movement = MovementRun
		s.RunDir1, s.RunDir2 = dir1, dir2
	})
}

// ProcessTick runs one full sync pass: detects movement, updates local
// player lists by proximity, builds each registered player's update packet,
// then resets per-tick state. The returned map is keyed by player index.
func (m *Manager) ProcessTick(players PlayerSource) map[uint16][]byte {
	m.detectMovement(players)
	m.updateLocalPlayers(players)

	packets := make(map[uint16][]byte)

	m.mu.RLock()
	indices := make([]uint16, 0, len(m.states))
	for idx := range m.states {
		indices = append(indices, idx)
	}
	statesSnapshot := m.states
	for _, idx := range indices {
		player, ok := players.Get(idx)
		if !ok {
			continue
		}
		state := statesSnapshot[idx]
		packet := m.buildUpdatePacket(player, state, players, statesSnapshot)
		packets[idx] = packet
	}
	m.mu.RUnlock()

	m.mu.Lock()
	for idx, s := range m.states {
		if player, ok := players.Get(idx); ok {
			s.LastLocation = player.Location()
		}
		s.resetTick()
	}
	m.mu.Unlock()

	return packets
}

func (m *Manager) detectMovement(players PlayerSource) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for idx, s := range m.states {
		player, ok := players.Get(idx)
		if !ok {
			continue
		}
		cur := player.Location()
		if cur == s.LastLocation {
			continue
		}

		dx := absDiffInt(int(cur.X), int(s.LastLocation.X))
		dy := absDiffInt(int(cur.Y), int(s.LastLocation.Y))
		dz := cur.Z != s.LastLocation.Z

		switch {
		case dz || dx > 2 || dy > 2:
			s.Movement = MovementTeleport
			s.Teleported = true
		case dx <= 1 && dy <= 1 && (dx > 0 || dy > 0):
			s.Movement = MovementWalk
			s.WalkDir = calculateDirection(s.LastLocation.X, s.LastLocation.Y, cur.X, cur.Y)
		default:
			// 2-tile diagonal/run deltas collapse to a teleport: a full
			// implementation would track the intermediate tile instead.
			s.Movement = MovementTeleport
			s.Teleported = true
		}
	}
}

func absDiffInt(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

// calculateDirection maps an adjacent-tile delta to one of the 8 RS2
// movement directions, numbered 0-7 from NW to SE with +y as north.
func calculateDirection(fromX, fromY, toX, toY uint16) byte {
	dx := int(toX) - int(fromX)
	dy := int(toY) - int(fromY)
	switch {
	case dx == -1 && dy == 1:
		return 0 // NW
	case dx == 0 && dy == 1:
		return 1 // N
	case dx == 1 && dy == 1:
		return 2 // NE
	case dx == -1 && dy == 0:
		return 3 // W
	case dx == 1 && dy == 0:
		return 4 // E
	case dx == -1 && dy == -1:
		return 5 // SW
	case dx == 0 && dy == -1:
		return 6 // S
	case dx == 1 && dy == -1:
		return 7 // SE
	default:
		return 1 // N, arbitrary fallback for a non-adjacent delta
	}
}

func (m *Manager) updateLocalPlayers(players PlayerSource) {
	m.mu.Lock()
	defer m.mu.Unlock()

	indices := make([]uint16, 0, len(m.states))
	for idx := range m.states {
		indices = append(indices, idx)
	}
	// Sorted so that which players get admitted first when MaxLocalPlayers
	// caps out is deterministic across ticks instead of depending on map
	// iteration order.
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	for _, idx := range indices {
		state := m.states[idx]
		player, ok := players.Get(idx)
		if !ok {
			continue
		}
		loc := player.Location()

		for _, otherIdx := range indices {
			if otherIdx == idx {
				continue
			}
			other, ok := players.Get(otherIdx)
			if !ok {
				state.removeLocalPlayer(otherIdx)
				continue
			}
			if loc.WithinDistance(other.Location(), m.config.ViewDistance) {
				if !state.hasLocalPlayer(otherIdx) {
					state.addLocalPlayer(otherIdx, m.config.MaxLocalPlayers)
				}
			} else if state.hasLocalPlayer(otherIdx) {
				state.removeLocalPlayer(otherIdx)
			}
		}
	}
}

// buildUpdatePacket assembles opcode 81's body: a bit-packed movement
// section for self and each local player, followed by the byte-aligned
// update blocks for anyone flagged this tick.
func (m *Manager) buildUpdatePacket(player SyncPlayer, state *State, players PlayerSource, allStates map[uint16]*State) []byte {
	bits := buffer.New(2048)
	blocks := buffer.New(4096)

	bits.StartBitAccess()
	m.writeSelfMovement(bits, blocks, player, state)
	m.writeOtherPlayers(bits, blocks, state, players, allStates)
	bits.EndBitAccess()

	main := buffer.New(bits.Len() + blocks.Len() + 3)
	main.WriteBytes(bits.Bytes()[:bits.Pos()])
	main.WriteBytes(blocks.Bytes())

	packet := buffer.New(main.Len() + 3)
	packet.WriteUByte(PlayerUpdateOpcode)
	packet.WriteUShort(uint16(main.Len()))
	packet.WriteBytes(main.Bytes())
	return packet.Bytes()
}

func (m *Manager) writeSelfMovement(bits, blocks *buffer.Buffer, player SyncPlayer, state *State) {
	hasUpdate := state.UpdateData.HasUpdates() || state.AppearanceUpdated

	if state.Movement == MovementNone && !hasUpdate {
		bits.WriteBits(1, 0)
		return
	}
	bits.WriteBits(1, 1)

	switch state.Movement {
	case MovementNone:
		bits.WriteBits(2, 0)
	case MovementWalk:
		bits.WriteBits(2, 1)
		bits.WriteBits(3, uint32(state.WalkDir))
		bits.WriteBits(1, boolBit(hasUpdate))
	case MovementRun:
		bits.WriteBits(2, 2)
		bits.WriteBits(3, uint32(state.RunDir1))
		bits.WriteBits(3, uint32(state.RunDir2))
		bits.WriteBits(1, boolBit(hasUpdate))
	case MovementTeleport:
		bits.WriteBits(2, 3)
		loc := player.Location()
		bits.WriteBits(2, uint32(loc.Z))
		bits.WriteBits(1, 1)
		bits.WriteBits(1, boolBit(hasUpdate))
		bits.WriteBits(7, uint32(loc.LocalX()))
		bits.WriteBits(7, uint32(loc.LocalY()))
	}

	if hasUpdate {
		m.writeUpdateBlock(blocks, player, state)
	}
}

func (m *Manager) writeOtherPlayers(bits, blocks *buffer.Buffer, state *State, players PlayerSource, allStates map[uint16]*State) {
	bits.WriteBits(8, uint32(len(state.LocalPlayers)))

	removed := make(map[uint16]struct{}, len(state.PlayersToRemove))
	for _, idx := range state.PlayersToRemove {
		removed[idx] = struct{}{}
	}

	for _, otherIdx := range state.sortedLocalPlayers() {
		if _, gone := removed[otherIdx]; gone {
			bits.WriteBits(1, 1)
			bits.WriteBits(2, 3)
			continue
		}

		otherPlayer, ok1 := players.Get(otherIdx)
		otherState, ok2 := allStates[otherIdx]
		if !ok1 || !ok2 {
			bits.WriteBits(1, 1)
			bits.WriteBits(2, 3)
			continue
		}

		otherHasUpdate := otherState.UpdateData.HasUpdates()
		switch otherState.Movement {
		case MovementNone:
			if otherHasUpdate {
				bits.WriteBits(1, 1)
				bits.WriteBits(2, 0)
			} else {
				bits.WriteBits(1, 0)
			}
		case MovementWalk:
			bits.WriteBits(1, 1)
			bits.WriteBits(2, 1)
			bits.WriteBits(3, uint32(otherState.WalkDir))
			bits.WriteBits(1, boolBit(otherHasUpdate))
		case MovementRun:
			bits.WriteBits(1, 1)
			bits.WriteBits(2, 2)
			bits.WriteBits(3, uint32(otherState.RunDir1))
			bits.WriteBits(3, uint32(otherState.RunDir2))
			bits.WriteBits(1, boolBit(otherHasUpdate))
		case MovementTeleport:
			bits.WriteBits(1, 1)
			bits.WriteBits(2, 3)
			continue
		}

		if otherHasUpdate {
			m.writeUpdateBlock(blocks, otherPlayer, otherState)
		}
	}

	for _, addIdx := range state.PlayersToAdd {
		otherPlayer, ok1 := players.Get(addIdx)
		otherState, ok2 := allStates[addIdx]
		if !ok1 || !ok2 {
			continue
		}

		otherLoc := otherPlayer.Location()
		dx := int16(int(otherLoc.X) - int(state.LastLocation.X))
		dy := int16(int(otherLoc.Y) - int(state.LastLocation.Y))

		bits.WriteBits(11, uint32(addIdx))
		bits.WriteBits(1, 1)
		bits.WriteBits(1, 1)
		bits.WriteBits(5, uint32(dy)&0x1F)
		bits.WriteBits(5, uint32(dx)&0x1F)

		added := *otherState
		if m.config.SendAppearanceOnAdd {
			added.AppearanceUpdated = true
		}
		m.writeUpdateBlock(blocks, otherPlayer, &added)
	}

	bits.WriteBits(11, 2047)
}

func boolBit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// writeUpdateBlock writes one player's byte-aligned update block: a mask
// byte (or two, if extended), then each flagged sub-block in the fixed
// order the client expects.
func (m *Manager) writeUpdateBlock(buf *buffer.Buffer, player SyncPlayer, state *State) {
	flags := state.UpdateData.Flags
	mask := flags.ToMask()
	if state.AppearanceUpdated {
		mask |= 0x10
	}

	if mask >= 0x100 {
		mask |= 0x40
		buf.WriteUByte(byte(mask))
		buf.WriteUByte(byte(mask >> 8))
	} else {
		buf.WriteUByte(byte(mask))
	}

	if flags.needs(FlagGraphics) && state.UpdateData.Graphics != nil {
		g := state.UpdateData.Graphics
		buf.WriteUShortLE(g.ID)
		settings := (uint32(g.Height) << 16) | uint32(g.Delay)
		buf.WriteInt(int32(settings))
	}

	if flags.needs(FlagAnimation) && state.UpdateData.Animation != nil {
		a := state.UpdateData.Animation
		buf.WriteUShortLE(uint16(a.ID))
		buf.WriteUByte(a.Delay)
	}

	if flags.needs(FlagForceChat) && state.UpdateData.ForceChat != nil {
		buf.WriteStringJagex(*state.UpdateData.ForceChat)
	}

	if flags.needs(FlagChat) && state.UpdateData.Chat != nil {
		c := state.UpdateData.Chat
		buf.WriteUShortLE(c.Effects)
		buf.WriteUByte(c.Rights)
		buf.WriteUByte(byte(len(c.Message)))
		buf.WriteBytesReversed(c.Message)
	}

	if flags.needs(FlagFaceEntity) && state.UpdateData.FaceEntity != nil {
		buf.WriteUShortLE(*state.UpdateData.FaceEntity)
	}

	if state.AppearanceUpdated || flags.needs(FlagAppearance) {
		writeAppearanceBlock(buf, player)
	}

	if flags.needs(FlagFaceCoordinate) && state.UpdateData.FaceCoordinate != nil {
		c := state.UpdateData.FaceCoordinate
		buf.WriteUShortLE(c.X)
		buf.WriteUShortLE(c.Y)
	}

	if flags.needs(FlagHit) && state.UpdateData.Hit != nil {
		h := state.UpdateData.Hit
		buf.WriteUByte(byte(h.Damage))
		buf.WriteUByte(h.HitType)
		buf.WriteUByte(byte(h.CurrentHP))
		buf.WriteUByte(byte(h.MaxHP))
	}

	if flags.needs(FlagHit2) && state.UpdateData.Hit2 != nil {
		h := state.UpdateData.Hit2
		buf.WriteUByte(byte(h.Damage))
		buf.WriteUByte(h.HitType)
		buf.WriteUByte(byte(h.CurrentHP))
		buf.WriteUByte(byte(h.MaxHP))
	}
}
