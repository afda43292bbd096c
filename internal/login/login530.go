// Package login also carries the revision-530 combined login flow: parsing
// the encrypted login block the client sends after a successful handshake,
// authenticating it against an AuthService, and building the fixed batch of
// packets the client expects immediately after a successful login.
package login

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"

	"github.com/rscore/rs530/internal/authsvc"
	"github.com/rscore/rs530/internal/buffer"
	"github.com/rscore/rs530/internal/crypto"
	"github.com/rscore/rs530/internal/isaac"
	"github.com/rscore/rs530/internal/playerstore"
)

// LoginType is the first byte of a login packet's body.
type LoginType byte

const (
	LoginTypeNormal    LoginType = 16
	LoginTypeReconnect LoginType = 18
)

func ParseLoginType(b byte) (LoginType, bool) {
	switch LoginType(b) {
	case LoginTypeNormal, LoginTypeReconnect:
		return LoginType(b), true
	default:
		return 0, false
	}
}

// LoginResponse is the wire byte a LoginResponsePacket carries. Values follow
// the long-established revision-era response codes; only the ones this
// server can actually produce are named here.
type LoginResponse byte

const (
	LoginResponseSuccess                LoginResponse = 2
	LoginResponseInvalidCredentials     LoginResponse = 3
	LoginResponseAccountDisabled        LoginResponse = 4
	LoginResponseAlreadyLoggedIn        LoginResponse = 5
	LoginResponseGameUpdated            LoginResponse = 6
	LoginResponseWorldFull              LoginResponse = 7
	LoginResponseLoginServerOffline     LoginResponse = 8
	LoginResponseLoginLimitExceeded     LoginResponse = 9
	LoginResponseBadSessionId           LoginResponse = 10
	LoginResponseAccountLocked          LoginResponse = 12
	LoginResponseCouldNotCompleteLogin  LoginResponse = 13
	LoginResponseTooManyIncorrectLogins LoginResponse = 16
)

// authReasonToResponse implements §4.7's "AuthService error → login code"
// mapping table.
func authReasonToResponse(reason authsvc.Reason) LoginResponse {
	switch reason {
	case authsvc.ReasonInvalidCredentials:
		return LoginResponseInvalidCredentials
	case authsvc.ReasonAccountDisabled:
		return LoginResponseAccountDisabled
	case authsvc.ReasonAccountLocked:
		return LoginResponseAccountLocked
	case authsvc.ReasonAlreadyLoggedIn:
		return LoginResponseAlreadyLoggedIn
	case authsvc.ReasonWorldFull:
		return LoginResponseWorldFull
	case authsvc.ReasonLoginLimitExceeded:
		return LoginResponseLoginLimitExceeded
	case authsvc.ReasonLoginServerOffline:
		return LoginResponseLoginServerOffline
	case authsvc.ReasonGameUpdated:
		return LoginResponseGameUpdated
	case authsvc.ReasonInvalidSessionID:
		return LoginResponseBadSessionId
	case authsvc.ReasonTooManyAttempts:
		return LoginResponseTooManyIncorrectLogins
	default:
		return LoginResponseCouldNotCompleteLogin
	}
}

// ResponseForAuthError maps an error returned by an authsvc.Service to the
// wire response to send, falling back to CouldNotCompleteLogin for errors
// that don't carry a known authsvc.Reason.
func ResponseForAuthError(err error) LoginResponse {
	reason, ok := authsvc.ReasonOf(err)
	if !ok {
		return LoginResponseCouldNotCompleteLogin
	}
	return authReasonToResponse(reason)
}

// ClientInfo carries the optional trailing client-info fields a login block
// may include after the username.
type ClientInfo struct {
	DisplayMode   byte
	ScreenWidth   uint16
	ScreenHeight  uint16
	Settings      uint32
	MachineInfo   string
}

// Block is the fully decoded login request: the client revision, ISAAC
// seeds, credentials, and optional client info.
type Block struct {
	Type       LoginType
	Revision   uint32
	LowMemory  bool
	ISAACSeeds [4]uint32
	UID        uint32
	Username   string
	Password   string
	ClientInfo ClientInfo
}

// Parser decodes login blocks for a fixed expected client revision, using an
// RSA private key to decrypt the embedded RSA block, or passing that block
// through unencrypted when run in dev mode (rsaKey == nil).
type Parser struct {
	ExpectedRevision uint32
	RSAKey           *rsa.PrivateKey
}

func NewParser(expectedRevision uint32, rsaKey *rsa.PrivateKey) *Parser {
	return &Parser{ExpectedRevision: expectedRevision, RSAKey: rsaKey}
}

// Parse decodes the body that follows the login-type byte. body's length
// must already satisfy the §4.7 packet-size bounds (10..65535); the caller
// reads the u16 size prefix before calling Parse.
func (p *Parser) Parse(loginType LoginType, body []byte) (Block, error) {
	buf := buffer.NewReader(body)
	block := Block{Type: loginType}

	revision, err := buf.ReadUInt()
	if err != nil {
		return Block{}, fmt.Errorf("login: reading revision: %w", err)
	}
	block.Revision = revision
	if revision != p.ExpectedRevision {
		return Block{}, &authsvc.Error{Reason: authsvc.ReasonGameUpdated, Msg: "client revision mismatch"}
	}

	lowMem, err := buf.ReadUByte()
	if err != nil {
		return Block{}, fmt.Errorf("login: reading low-memory flag: %w", err)
	}
	block.LowMemory = lowMem == 1

	rsaSize, err := buf.ReadUShort()
	if err != nil {
		return Block{}, fmt.Errorf("login: reading RSA block size: %w", err)
	}
	if int(rsaSize) > buf.Remaining() {
		return Block{}, fmt.Errorf("login: RSA block size %d exceeds remaining %d", rsaSize, buf.Remaining())
	}

	rsaBlock, err := buf.ReadBytes(int(rsaSize))
	if err != nil {
		return Block{}, fmt.Errorf("login: reading RSA block: %w", err)
	}

	decrypted, err := p.decryptRSABlock(rsaBlock)
	if err != nil {
		return Block{}, fmt.Errorf("login: decrypting RSA block: %w", err)
	}
	if err := p.parseRSABlock(&block, decrypted); err != nil {
		return Block{}, err
	}

	if buf.Remaining() > 0 {
		p.parseClientInfo(&block, buf)
	}

	return block, nil
}

func (p *Parser) decryptRSABlock(encrypted []byte) ([]byte, error) {
	if p.RSAKey == nil {
		return encrypted, nil
	}
	return crypto.RSADecryptNoPadding(p.RSAKey, encrypted)
}

func (p *Parser) parseRSABlock(block *Block, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("login: empty RSA block")
	}
	buf := buffer.NewReader(data)

	magic, err := buf.ReadUByte()
	if err != nil {
		return fmt.Errorf("login: reading RSA magic: %w", err)
	}
	if magic != 10 {
		return fmt.Errorf("login: bad RSA magic %d", magic)
	}

	for i := range block.ISAACSeeds {
		seed, err := buf.ReadUInt()
		if err != nil {
			return fmt.Errorf("login: reading ISAAC seed %d: %w", i, err)
		}
		block.ISAACSeeds[i] = seed
	}

	uid, err := buf.ReadUInt()
	if err != nil {
		return fmt.Errorf("login: reading UID: %w", err)
	}
	block.UID = uid

	username, err := buf.ReadStringJagex()
	if err != nil {
		return fmt.Errorf("login: reading username: %w", err)
	}
	block.Username = username

	password, err := buf.ReadStringJagex()
	if err != nil {
		return fmt.Errorf("login: reading password: %w", err)
	}
	block.Password = password

	return nil
}

func (p *Parser) parseClientInfo(block *Block, buf *buffer.Buffer) {
	if buf.Remaining() < 4 {
		return
	}
	if v, err := buf.ReadUByte(); err == nil {
		block.ClientInfo.DisplayMode = v
	}
	if v, err := buf.ReadUShort(); err == nil {
		block.ClientInfo.ScreenWidth = v
	}
	if v, err := buf.ReadUShort(); err == nil {
		block.ClientInfo.ScreenHeight = v
	}
	if buf.Remaining() > 0 {
		if v, err := buf.ReadUInt(); err == nil {
			block.ClientInfo.Settings = v
		}
	}
	if buf.Remaining() > 0 {
		if v, err := buf.ReadStringJagex(); err == nil {
			block.ClientInfo.MachineInfo = v
		}
	}
}

// EncodeSuccess builds the success login response: code, rights, flagged,
// player index, member status.
func EncodeSuccess(rights byte, flagged bool, playerIndex uint16, member bool) []byte {
	buf := buffer.New(7)
	buf.WriteUByte(byte(LoginResponseSuccess))
	buf.WriteUByte(rights)
	if flagged {
		buf.WriteUByte(1)
	} else {
		buf.WriteUByte(0)
	}
	buf.WriteUShort(playerIndex)
	if member {
		buf.WriteUByte(1)
	} else {
		buf.WriteUByte(0)
	}
	return buf.Bytes()
}

// EncodeError builds a single-byte error login response.
func EncodeError(code LoginResponse) []byte {
	return []byte{byte(code)}
}

// usernameToHash implements the base-37 name hash used to key display names
// across the wire and for bank/friend-list identity.
func usernameToHash(username string) int64 {
	var hash int64
	count := 0
	for _, c := range username {
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
	return hash
}

// UsernameToHash exports usernameToHash for callers outside the package
// (the player-update appearance block computes its own name hash in
// playersync).
func UsernameToHash(username string) int64 { return usernameToHash(username) }

// Login-init opcodes (§4.9), grounded on the revision's outgoing packet set.
const (
	opMapRegion      = 73
	opPlayerOption   = 104
	opResetAnims     = 1
	opRunEnergy      = 110
	opWeight         = 174
	opSkillUpdate    = 134
	opSystemMessage  = 253
)

const (
	defaultSpawnX = 3222
	defaultSpawnY = 3218
	defaultSpawnZ = 0
)

// InitialPlayerState is the subset of a freshly logged-in player's state the
// login-init sequence needs to build its fixed packet batch.
type InitialPlayerState struct {
	PlayerIndex uint16
	X, Y        uint16
	Z            byte
	RunEnergy    byte
	Weight       int16
	Rights       byte
	Member       bool
	Skills       [25]playerstore.SkillRecord
}

func (s InitialPlayerState) regionX() uint16 { return s.X >> 3 }
func (s InitialPlayerState) regionY() uint16 { return s.Y >> 3 }

// initPacket is one outgoing packet in the login-init batch, prior to ISAAC
// opcode encoding.
type initPacket struct {
	opcode   byte
	data     []byte
	variable bool
}

// Initializer builds the fixed batch of packets the client expects
// immediately after a successful login (§4.9).
type Initializer struct {
	packets []initPacket
}

func NewInitializer() *Initializer {
	return &Initializer{packets: make([]initPacket, 0, 32)}
}

// Build constructs the full login-init sequence for state, replacing any
// packets from a previous call.
func (in *Initializer) Build(state InitialPlayerState) {
	in.packets = in.packets[:0]

	in.addMapRegion(state)
	in.addPlayerOptions()
	in.addResetAnimations()
	in.addRunEnergy(state.RunEnergy)
	in.addWeight(state.Weight)
	in.addAllSkills(state.Skills)
	in.addSystemMessage("Welcome to RuneScape.")
	if state.Rights >= 2 {
		in.addSystemMessage("You are logged in as an administrator.")
	}
}

func (in *Initializer) addMapRegion(state InitialPlayerState) {
	buf := buffer.New(18)
	buf.WriteUShort(state.regionX())
	buf.WriteUShort(state.regionY())
	// Map keys (XTEA) for the 4x4 surrounding regions; zero means
	// unencrypted maps.
	for i := 0; i < 16; i++ {
		buf.WriteInt(0)
	}
	in.packets = append(in.packets, initPacket{opcode: opMapRegion, data: buf.Bytes(), variable: true})
}

func (in *Initializer) addPlayerOptions() {
	options := []struct {
		slot byte
		top  bool
		text string
	}{
		{1, false, "Follow"},
		{2, false, "Trade with"},
		{3, false, "Report"},
	}
	for _, o := range options {
		buf := buffer.New(len(o.text) + 4)
		buf.WriteStringJagex(o.text)
		buf.WriteUByte(o.slot)
		if o.top {
			buf.WriteUByte(1)
		} else {
			buf.WriteUByte(0)
		}
		in.packets = append(in.packets, initPacket{opcode: opPlayerOption, data: buf.Bytes(), variable: true})
	}
}

func (in *Initializer) addResetAnimations() {
	in.packets = append(in.packets, initPacket{opcode: opResetAnims})
}

func (in *Initializer) addRunEnergy(energy byte) {
	in.packets = append(in.packets, initPacket{opcode: opRunEnergy, data: []byte{energy}})
}

func (in *Initializer) addWeight(weight int16) {
	buf := buffer.New(2)
	buf.WriteShort(weight)
	in.packets = append(in.packets, initPacket{opcode: opWeight, data: buf.Bytes()})
}

func (in *Initializer) addAllSkills(skills [25]playerstore.SkillRecord) {
	for _, s := range skills {
		buf := buffer.New(6)
		buf.WriteUByte(s.ID)
		buf.WriteUByte(s.Level)
		buf.WriteInt(s.XP)
		in.packets = append(in.packets, initPacket{opcode: opSkillUpdate, data: buf.Bytes()})
	}
}

func (in *Initializer) addSystemMessage(msg string) {
	buf := buffer.New(len(msg) + 2)
	buf.WriteStringJagex(msg)
	in.packets = append(in.packets, initPacket{opcode: opSystemMessage, data: buf.Bytes(), variable: true})
}

// PacketCount returns the number of packets the last Build produced.
func (in *Initializer) PacketCount() int { return len(in.packets) }

// Encode renders the built packets as raw bytes, ISAAC-encoding each opcode
// through pair if non-nil.
func (in *Initializer) Encode(pair *isaac.Pair) [][]byte {
	out := make([][]byte, 0, len(in.packets))
	for _, p := range in.packets {
		opcode := p.opcode
		if pair != nil {
			opcode = pair.EncodeOpcode(opcode)
		}

		buf := buffer.New(len(p.data) + 3)
		buf.WriteUByte(opcode)
		if p.variable {
			if len(p.data) < 256 {
				buf.WriteUByte(byte(len(p.data)))
			} else {
				buf.WriteUByte(byte(len(p.data) >> 8))
				buf.WriteUByte(byte(len(p.data)))
			}
		}
		buf.WriteBytes(p.data)
		out = append(out, buf.Bytes())
	}
	return out
}

// RunLogin authenticates username/password against svc, loads the player's
// persisted state from store, and returns the success response bytes plus
// the built login-init batch. On authentication failure it returns the
// mapped error response and no init batch.
func RunLogin(ctx context.Context, svc authsvc.Service, store playerstore.Store, block Block) ([]byte, *Initializer, error) {
	account, playerIndex, err := svc.Authenticate(ctx, block.Username, block.Password)
	if err != nil {
		slog.Warn("login rejected", "username", block.Username, "err", err)
		return EncodeError(ResponseForAuthError(err)), nil, nil
	}

	data, err := store.LoadOrCreate(ctx, account.ID, block.Username)
	if err != nil {
		svc.ReleasePlayerIndex(ctx, playerIndex)
		return nil, nil, fmt.Errorf("login: loading player data for %q: %w", block.Username, err)
	}

	state := InitialPlayerState{
		PlayerIndex: playerIndex,
		X:           uint16(data.PosX),
		Y:           uint16(data.PosY),
		Z:           data.Plane,
		RunEnergy:   data.RunEnergy,
		Weight:      data.Weight,
		Rights:      account.Rights,
		Member:      account.Member,
		Skills:      data.Skills,
	}
	if state.X == 0 && state.Y == 0 {
		state.X, state.Y = defaultSpawnX, defaultSpawnY
	}

	initializer := NewInitializer()
	initializer.Build(state)

	resp := EncodeSuccess(account.Rights, account.Flagged, playerIndex, account.Member)
	return resp, initializer, nil
}
