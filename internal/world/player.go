package world

import (
	"github.com/rscore/rs530/internal/playersync"
	"github.com/rscore/rs530/internal/playerstore"
)

// Player is one connected, logged-in player in the game world. PlayerManager
// owns the canonical instance; everything else (Session, PlayerSyncManager)
// refers to it by index.
type Player struct {
	Index       uint16
	SessionID   uint64
	UserID      int64
	Username    string // canonical, lowercased, spaces→underscores
	DisplayName string
	Rights      byte
	Member      bool

	Location     playersync.Location
	PrevLocation playersync.Location
	Appearance   playersync.Appearance

	Skills    [25]playerstore.SkillRecord
	RunEnergy byte
	Running   bool
	Weight    int16

	LastActivityTick uint64
}

// combatLevel computes the RS2 combined-skill combat level formula from a
// player's 25-skill table. Attack/Defence/Strength/Hitpoints are skills
// 0/1/2/3; Ranged is 4, Prayer is 5, Magic is 6; combat is the max of the
// melee, ranged and magic sub-formulas.
func combatLevel(skills [25]playerstore.SkillRecord) byte {
	const (
		skillAttack    = 0
		skillDefence   = 1
		skillStrength  = 2
		skillHitpoints = 3
		skillRanged    = 4
		skillPrayer    = 5
		skillMagic     = 6
	)
	lvl := func(id int) float64 { return float64(skills[id].Level) }

	base := (lvl(skillDefence) + lvl(skillHitpoints) + lvl(skillPrayer)/2) * 0.25
	melee := (lvl(skillAttack) + lvl(skillStrength)) * 0.325
	ranged := lvl(skillRanged) * 1.5 * 0.325
	magic := lvl(skillMagic) * 1.5 * 0.325

	combat := melee
	if ranged > combat {
		combat = ranged
	}
	if magic > combat {
		combat = magic
	}

	result := base + combat
	if result > 126 {
		result = 126
	}
	return byte(result)
}

// syncView adapts a *Player to playersync.SyncPlayer without forcing the
// Player struct itself to trade its plain data fields for method names that
// would collide with them (Location, Appearance are fields here).
type syncView struct{ p *Player }

func (v syncView) Index() uint16                    { return v.p.Index }
func (v syncView) Location() playersync.Location    { return v.p.Location }
func (v syncView) Appearance() playersync.Appearance { return v.p.Appearance }
func (v syncView) DisplayName() string               { return v.p.DisplayName }
func (v syncView) CombatLevel() byte                 { return combatLevel(v.p.Skills) }
func (v syncView) Rights() byte                      { return v.p.Rights }
