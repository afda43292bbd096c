package playersync

import "github.com/rscore/rs530/internal/buffer"

// Standing/turning/walking/running animation IDs sent in every appearance
// block; revision 530 has no per-player override for these.
const (
	animStand      = 808
	animStandTurn  = 823
	animWalk       = 819
	animTurn180    = 820
	animTurn90CW   = 821
	animTurn90CCW  = 822
	animRun        = 824
)

// stringToLong is the base-37 name hash used for the appearance block's
// display-name field; the same encoding keys bank/friend-list identity.
func stringToLong(s string) int64 {
	var hash int64
	count := 0
	for _, c := range s {
		if count >= 12 {
			break
		}
		count++
		hash *= 37
		switch {
		case c >= 'a' && c <= 'z':
			hash += int64(c-'a') + 1
		case c >= 'A' && c <= 'Z':
			hash += int64(c-'A') + 1
		case c >= '0' && c <= '9':
			hash += int64(c-'0') + 27
		default:
			hash += 0
		}
	}
	for hash != 0 && hash%37 == 0 {
		hash /= 37
	}
	return hash
}

// writeAppearanceBlock emits the appearance sub-block: a length-prefixed,
// byte-reversed payload the client decodes back-to-front.
func writeAppearanceBlock(buf *buffer.Buffer, p SyncPlayer) {
	app := p.Appearance()

	inner := buffer.New(128)
	inner.WriteUByte(app.Gender)
	inner.WriteByte8(0xFF) // skull icon: none
	inner.WriteByte8(0xFF) // prayer icon: none

	writeAppearanceSlots(inner, app)

	inner.WriteUByte(app.HairColor)
	inner.WriteUByte(app.TorsoColor)
	inner.WriteUByte(app.LegsColor)
	inner.WriteUByte(app.FeetColor)
	inner.WriteUByte(app.SkinColor)

	inner.WriteUShort(animStand)
	inner.WriteUShort(animStandTurn)
	inner.WriteUShort(animWalk)
	inner.WriteUShort(animTurn180)
	inner.WriteUShort(animTurn90CW)
	inner.WriteUShort(animTurn90CCW)
	inner.WriteUShort(animRun)

	inner.WriteLong(stringToLong(p.DisplayName()))
	inner.WriteUByte(p.CombatLevel())
	inner.WriteUShort(0) // skill level, unused outside skill-restricted worlds
	inner.WriteUByte(0)  // hidden: visible

	data := inner.Bytes()
	buf.WriteUByte(byte(len(data)))
	buf.WriteBytesReversed(data)
}

// writeAppearanceSlots emits the 12 equipment/appearance slots. None of
// these players carry equipment yet, so slots backed by a body part write
// 256 + part id from the appearance (hair repeats the head part), and cape,
// amulet, weapon, shield and a female beard write the empty marker 0.
func writeAppearanceSlots(buf *buffer.Buffer, app Appearance) {
	buf.WriteUShort(256 + app.Head)  // 0: head
	buf.WriteUByte(0)                // 1: cape
	buf.WriteUByte(0)                // 2: amulet
	buf.WriteUByte(0)                // 3: weapon
	buf.WriteUShort(256 + app.Torso) // 4: chest
	buf.WriteUByte(0)                // 5: shield
	buf.WriteUShort(256 + app.Arms)  // 6: arms
	buf.WriteUShort(256 + app.Legs)  // 7: legs
	buf.WriteUShort(256 + app.Head)  // 8: hair (follows head)
	buf.WriteUShort(256 + app.Hands) // 9: hands
	buf.WriteUShort(256 + app.Feet)  // 10: feet
	if app.Gender == 0 {
		buf.WriteUShort(256 + app.Beard) // 11: beard, male only
	} else {
		buf.WriteUByte(0)
	}
}
