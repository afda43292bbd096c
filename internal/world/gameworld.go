// Package world owns the revision-530 game simulation: the player roster
// (PlayerManager) and the fixed-cadence tick loop (GameWorld) that drives
// the per-tick player synchronization pass and periodic autosave.
package world

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rscore/rs530/internal/playersync"
	"github.com/rscore/rs530/internal/playerstore"
)

// State is GameWorld's lifecycle state.
type State int32

const (
	StateInitializing State = iota
	StateRunning
	StateUpdating
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateUpdating:
		return "updating"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Settings are the immutable parameters a GameWorld is constructed with.
type Settings struct {
	WorldID            int
	TickInterval        time.Duration // default 600ms
	AutosaveInterval     uint64        // ticks; 0 disables
	MaxPlayers          int
}

// GameWorld drives the fixed-cadence simulation tick: player sync, then
// (every AutosaveInterval ticks) persistence of every registered player.
type GameWorld struct {
	settings Settings
	state    atomic.Int32
	tick     atomic.Uint64

	Players *PlayerManager
	Sync    *playersync.Manager

	store playerstore.Store
}

// New constructs a GameWorld in the Initializing state.
func New(settings Settings, store playerstore.Store) *GameWorld {
	if settings.TickInterval <= 0 {
		settings.TickInterval = 600 * time.Millisecond
	}
	w := &GameWorld{
		settings: settings,
		Players:  NewPlayerManager(),
		Sync:     playersync.NewManager(),
		store:    store,
	}
	w.state.Store(int32(StateInitializing))
	return w
}

// State returns the world's current lifecycle state.
func (w *GameWorld) State() State { return State(w.state.Load()) }

// Tick returns the current tick counter.
func (w *GameWorld) Tick() uint64 { return w.tick.Load() }

// RegisterPlayer adds p to the roster and starts tracking it for sync.
func (w *GameWorld) RegisterPlayer(p *Player) {
	w.Players.Register(p)
	w.Sync.Register(p.Index, p.Location)
}

// UnregisterPlayer removes a player from the roster and sync tracking.
func (w *GameWorld) UnregisterPlayer(index uint16) {
	w.Players.Unregister(index)
	w.Sync.Unregister(index)
}

// Run drives the tick loop until ctx is cancelled. It never returns an
// error for a clean shutdown (ctx.Err() is swallowed into nil); a tick that
// panics is not recovered here — callers supervising via errgroup should
// treat a non-nil return as fatal.
func (w *GameWorld) Run(ctx context.Context) error {
	w.state.Store(int32(StateRunning))
	defer w.state.Store(int32(StateStopped))

	ticker := time.NewTicker(w.settings.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.state.Store(int32(StateShuttingDown))
			w.drainAutosave(context.Background())
			return nil
		case <-ticker.C:
			w.runTick(ctx)
		}
	}
}

// runTick executes one simulation tick. Tick processing must not block
// longer than the tick period; autosave failures are logged, never fatal,
// and do not stall the following tick.
func (w *GameWorld) runTick(ctx context.Context) {
	w.state.Store(int32(StateUpdating))
	defer w.state.Store(int32(StateRunning))

	n := w.tick.Add(1)

	packets := w.Sync.ProcessTick(w.Players)
	for index, packet := range packets {
		player, ok := w.Players.ByIndex(index)
		if !ok {
			continue
		}
		player.PrevLocation = player.Location
		_ = packet // delivery is the session dispatcher's concern; see internal/session
	}

	if w.settings.AutosaveInterval > 0 && n%w.settings.AutosaveInterval == 0 {
		w.autosave(ctx)
	}
}

// autosave persists every registered player. A single player's save
// failure is logged and does not abort the pass.
func (w *GameWorld) autosave(ctx context.Context) {
	if w.store == nil {
		return
	}
	for _, p := range w.Players.Snapshot() {
		data := playerstore.PlayerData{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			PosX:        int32(p.Location.X),
			PosY:        int32(p.Location.Y),
			Plane:       p.Location.Z,
			RunEnergy:   p.RunEnergy,
			Weight:      p.Weight,
			Skills:      p.Skills,
		}
		if err := w.store.Save(ctx, data); err != nil {
			slog.Warn("autosave failed", "player", p.Username, "err", fmt.Errorf("world: %w", err))
		}
	}
}

// drainAutosave forces one final autosave pass on shutdown, whatever the
// tick count; it does nothing when AutosaveInterval is 0 (autosave off).
func (w *GameWorld) drainAutosave(ctx context.Context) {
	if w.settings.AutosaveInterval == 0 {
		return
	}
	w.autosave(ctx)
}
