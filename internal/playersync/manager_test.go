package playersync

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rscore/rs530/internal/buffer"
)

type fakePlayer struct {
	index   uint16
	loc     Location
	name    string
	combat  byte
	rights  byte
	app     Appearance
}

func (p *fakePlayer) Index() uint16          { return p.index }
func (p *fakePlayer) Location() Location     { return p.loc }
func (p *fakePlayer) Appearance() Appearance { return p.app }
func (p *fakePlayer) DisplayName() string    { return p.name }
func (p *fakePlayer) CombatLevel() byte      { return p.combat }
func (p *fakePlayer) Rights() byte           { return p.rights }

type fakeSource struct {
	players map[uint16]*fakePlayer
}

func newFakeSource() *fakeSource { return &fakeSource{players: make(map[uint16]*fakePlayer)} }

func (s *fakeSource) add(p *fakePlayer) { s.players[p.index] = p }

func (s *fakeSource) Get(index uint16) (SyncPlayer, bool) {
	p, ok := s.players[index]
	return p, ok
}

func (s *fakeSource) Indices() []uint16 {
	out := make([]uint16, 0, len(s.players))
	for idx := range s.players {
		out = append(out, idx)
	}
	return out
}

func TestManagerRegisterUnregister(t *testing.T) {
	m := NewManager()
	m.Register(1, Location{X: 3200, Y: 3200})
	require.Len(t, m.states, 1)

	m.Unregister(1)
	require.Len(t, m.states, 0)
}

func TestManagerProcessTickBuildsAppearanceOnFirstTick(t *testing.T) {
	m := NewManager()
	src := newFakeSource()
	src.add(&fakePlayer{index: 1, loc: Location{X: 3200, Y: 3200}, name: "zezima"})

	m.Register(1, Location{X: 3200, Y: 3200})

	packets := m.ProcessTick(src)
	packet, ok := packets[1]
	require.True(t, ok)
	require.Equal(t, byte(PlayerUpdateOpcode), packet[0])
	require.Greater(t, len(packet), 3)
}

func TestManagerDetectsTeleportOnLargeJump(t *testing.T) {
	m := NewManager()
	src := newFakeSource()
	src.add(&fakePlayer{index: 1, loc: Location{X: 3200, Y: 3200}})
	m.Register(1, Location{X: 3200, Y: 3200})
	m.ProcessTick(src)

	src.players[1].loc = Location{X: 3300, Y: 3300}
	m.detectMovement(src)

	require.Equal(t, MovementTeleport, m.states[1].Movement)
	require.True(t, m.states[1].Teleported)
}

func TestManagerDetectsWalkOnAdjacentStep(t *testing.T) {
	m := NewManager()
	src := newFakeSource()
	src.add(&fakePlayer{index: 1, loc: Location{X: 3200, Y: 3200}})
	m.Register(1, Location{X: 3200, Y: 3200})
	m.ProcessTick(src)

	src.players[1].loc = Location{X: 3200, Y: 3201}
	m.detectMovement(src)

	require.Equal(t, MovementWalk, m.states[1].Movement)
	require.EqualValues(t, 1, m.states[1].WalkDir) // due north
}

func TestManagerAddsPlayersWithinViewDistance(t *testing.T) {
	m := NewManager()
	src := newFakeSource()
	src.add(&fakePlayer{index: 1, loc: Location{X: 3200, Y: 3200}})
	src.add(&fakePlayer{index: 2, loc: Location{X: 3205, Y: 3200}})
	m.Register(1, Location{X: 3200, Y: 3200})
	m.Register(2, Location{X: 3205, Y: 3200})

	m.updateLocalPlayers(src)

	require.True(t, m.states[1].hasLocalPlayer(2))
	require.True(t, m.states[2].hasLocalPlayer(1))
}

func TestManagerRemovesPlayersOutsideViewDistance(t *testing.T) {
	m := NewManager()
	src := newFakeSource()
	src.add(&fakePlayer{index: 1, loc: Location{X: 3200, Y: 3200}})
	src.add(&fakePlayer{index: 2, loc: Location{X: 3205, Y: 3200}})
	m.Register(1, Location{X: 3200, Y: 3200})
	m.Register(2, Location{X: 3205, Y: 3200})
	m.updateLocalPlayers(src)
	require.True(t, m.states[1].hasLocalPlayer(2))

	src.players[2].loc = Location{X: 3400, Y: 3400}
	m.updateLocalPlayers(src)
	require.False(t, m.states[1].hasLocalPlayer(2))
}

func TestCalculateDirectionAllEightWays(t *testing.T) {
	cases := []struct {
		dx, dy int
		want   byte
	}{
		{-1, 1, 0}, {0, 1, 1}, {1, 1, 2},
		{-1, 0, 3}, {1, 0, 4},
		{-1, -1, 5}, {0, -1, 6}, {1, -1, 7},
	}
	for _, c := range cases {
		got := calculateDirection(100, 100, uint16(100+c.dx), uint16(100+c.dy))
		require.Equal(t, c.want, got)
	}
}

func TestManagerUnregisterRemovesFromOthersLocalList(t *testing.T) {
	m := NewManager()
	src := newFakeSource()
	src.add(&fakePlayer{index: 1, loc: Location{X: 3200, Y: 3200}})
	src.add(&fakePlayer{index: 2, loc: Location{X: 3201, Y: 3200}})
	m.Register(1, Location{X: 3200, Y: 3200})
	m.Register(2, Location{X: 3201, Y: 3200})
	m.updateLocalPlayers(src)
	require.True(t, m.states[1].hasLocalPlayer(2))

	m.Unregister(2)
	require.False(t, m.states[1].hasLocalPlayer(2))
}

// TestViewDistanceBoundaryChebyshev pins spec.md §8's two exact-boundary
// cases: Chebyshev distance 15 is visible, 16 is not.
func TestViewDistanceBoundaryChebyshev(t *testing.T) {
	m := NewManager()
	src := newFakeSource()
	src.add(&fakePlayer{index: 1, loc: Location{X: 3200, Y: 3200}})
	src.add(&fakePlayer{index: 2, loc: Location{X: 3215, Y: 3200}}) // dx = 15
	m.Register(1, Location{X: 3200, Y: 3200})
	m.Register(2, Location{X: 3215, Y: 3200})

	m.updateLocalPlayers(src)
	require.True(t, m.states[1].hasLocalPlayer(2), "Chebyshev distance 15 must be visible")

	src.players[2].loc = Location{X: 3216, Y: 3200} // dx = 16
	m.updateLocalPlayers(src)
	require.False(t, m.states[1].hasLocalPlayer(2), "Chebyshev distance 16 must not be visible")
}

// TestLocalPlayerCapDropsOverflow pins spec.md §8's "exactly-full viewport"
// boundary: the 256th neighbor is silently dropped and the previously
// visible 255th neighbor remains local.
func TestLocalPlayerCapDropsOverflow(t *testing.T) {
	m := NewManager()
	src := newFakeSource()
	src.add(&fakePlayer{index: 1, loc: Location{X: 3200, Y: 3200}})
	m.Register(1, Location{X: 3200, Y: 3200})

	// 256 other players (indices 2..257): in the deterministic ascending
	// processing order, the first 255 (indices 2..256) fill the cap and
	// the 256th candidate (index 257) overflows and is dropped.
	for i := uint16(2); i <= 257; i++ {
		src.add(&fakePlayer{index: i, loc: Location{X: 3200, Y: 3200}})
		m.Register(i, Location{X: 3200, Y: 3200})
	}

	m.updateLocalPlayers(src)

	state := m.states[1]
	require.Len(t, state.LocalPlayers, MaxLocalPlayers)
	require.True(t, state.hasLocalPlayer(256), "the 255th neighbor registered must remain local")
	require.False(t, state.hasLocalPlayer(257), "the 256th neighbor must be dropped, not added")
}

// TestPlayerAddListTerminatesWithSentinel pins spec.md §8's 2047 sentinel:
// the players_to_add section of the others-bits always ends with 11 bits of
// 1s (2047), even when there's nothing left to add.
func TestPlayerAddListTerminatesWithSentinel(t *testing.T) {
	m := NewManagerWithConfig(DefaultSyncConfig())
	src := newFakeSource()
	state := newState(1, Location{X: 3200, Y: 3200})

	bits := buffer.New(64)
	blocks := buffer.New(64)
	bits.StartBitAccess()
	m.writeOtherPlayers(bits, blocks, state, src, map[uint16]*State{1: state})
	bits.EndBitAccess()

	reader := buffer.NewReader(bits.Bytes())
	reader.StartBitAccess()
	count, err := reader.ReadBits(8)
	require.NoError(t, err)
	require.EqualValues(t, 0, count, "no local players registered yet")

	sentinel, err := reader.ReadBits(11)
	require.NoError(t, err)
	require.EqualValues(t, 2047, sentinel, "empty players_to_add must still emit the terminator")
}

// TestProcessTickOrdersLocalPlayersDeterministically exercises
// ProcessTick/buildUpdatePacket with several local players and asserts the
// emitted update packet is byte-identical across repeated ticks when
// nothing about the roster or positions changed — guarding against the
// local-player slot order depending on Go's randomized map iteration.
func TestProcessTickOrdersLocalPlayersDeterministically(t *testing.T) {
	m := NewManager()
	src := newFakeSource()
	indices := []uint16{1, 2, 3, 4, 5, 6, 7, 8}
	for _, idx := range indices {
		src.add(&fakePlayer{index: idx, loc: Location{X: 3200 + idx, Y: 3200}})
		m.Register(idx, Location{X: 3200 + idx, Y: 3200})
	}

	// First tick: everyone enters view via players_to_add.
	first := m.ProcessTick(src)
	require.Len(t, first, len(indices))

	var previous []byte
	for tick := 0; tick < 5; tick++ {
		packets := m.ProcessTick(src)
		packet, ok := packets[1]
		require.True(t, ok)
		if previous != nil {
			require.Equal(t, previous, packet, "update packet for an unchanged roster must be stable across ticks")
		}
		previous = packet
	}
}
