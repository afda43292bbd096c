package session

import (
	"context"
	"crypto/rsa"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/rscore/rs530/internal/accountx"
	"github.com/rscore/rs530/internal/authsvc"
	"github.com/rscore/rs530/internal/cache"
	"github.com/rscore/rs530/internal/isaac"
	"github.com/rscore/rs530/internal/login"
	"github.com/rscore/rs530/internal/playersync"
	"github.com/rscore/rs530/internal/playerstore"
	"github.com/rscore/rs530/internal/protocol"
	"github.com/rscore/rs530/internal/world"
)

// Dependencies collects the process-wide collaborators a Dispatcher needs
// to drive a session through every protocol phase.
type Dependencies struct {
	ExpectedRevision uint32
	Cache            *cache.Store
	Auth             authsvc.Service
	Store            playerstore.Store
	AccountX         accountx.Service
	World            *world.GameWorld
	RSAKey           *rsa.PrivateKey
	DevMode          bool
	WorldList        WorldListEntry
}

// Dispatcher multiplexes one Session across the handshake, JS5, login and
// in-game handlers, translating protocol errors into wire responses or
// silent disconnects per §7's propagation policy.
type Dispatcher struct {
	deps Dependencies
}

func NewDispatcher(deps Dependencies) *Dispatcher {
	if deps.AccountX == nil {
		deps.AccountX = accountx.NoopService{}
	}
	return &Dispatcher{deps: deps}
}

// Run drives sess from Connected through to disconnection. It starts the
// session's write pump itself and closes the session on return; releasing
// the player index is left to the caller.
func (d *Dispatcher) Run(ctx context.Context, sess *Session) error {
	go sess.writePump()
	defer sess.CloseAsync()

	opcode, err := readByte(sess.Conn())
	if err != nil {
		return fmt.Errorf("session %d: reading handshake opcode: %w", sess.ID, err)
	}

	switch protocol.HandshakeOpcode(opcode) {
	case protocol.HandshakeJS5:
		return d.runJS5Handshake(ctx, sess)
	case protocol.HandshakeLogin:
		return d.runLoginHandshake(ctx, sess)
	case protocol.HandshakeAccountCreate:
		return d.runAccountX(ctx, sess, d.deps.AccountX.CreateAccount)
	case protocol.HandshakeAccountRecover:
		return d.runAccountX(ctx, sess, d.deps.AccountX.RecoverAccount)
	case protocol.HandshakeWorldList:
		_ = sess.Send(EncodeWorldList(d.deps.WorldList))
		return nil
	default:
		slog.Warn("unknown handshake opcode", "session", sess.ID, "opcode", opcode)
		return fmt.Errorf("session %d: unknown handshake opcode %d", sess.ID, opcode)
	}
}

func (d *Dispatcher) checkRevision(sess *Session) (bool, error) {
	var rev [4]byte
	if _, err := io.ReadFull(sess.Conn(), rev[:]); err != nil {
		return false, fmt.Errorf("reading revision: %w", err)
	}
	revision := binary.BigEndian.Uint32(rev[:])
	if !protocol.CheckRevision(revision, d.deps.ExpectedRevision) {
		_ = sess.Send(protocol.EncodeJS5Error(protocol.HandshakeErrorOutOfDate))
		return false, nil
	}
	return true, nil
}

func (d *Dispatcher) runJS5Handshake(ctx context.Context, sess *Session) error {
	ok, err := d.checkRevision(sess)
	if err != nil || !ok {
		return err
	}
	if err := sess.Send(protocol.EncodeJS5Success()); err != nil {
		return err
	}
	sess.SetState(StateJS5)
	return d.runJS5(ctx, sess)
}

func (d *Dispatcher) runJS5(ctx context.Context, sess *Session) error {
	handler := protocol.NewJS5Handler(d.deps.Cache)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		opcode, err := readByte(sess.Conn())
		if err != nil {
			return nil // client disconnected
		}
		n := js5PayloadLength(opcode)
		payload := make([]byte, n)
		if n > 0 {
			if _, err := io.ReadFull(sess.Conn(), payload); err != nil {
				return nil
			}
		}
		resp, err := handler.Process(opcode, payload)
		if err != nil {
			return nil
		}
		if resp != nil {
			_ = sess.Send(resp)
		}
	}
}

// js5PayloadLength returns the fixed payload size for a JS5 opcode, per §4.6.
func js5PayloadLength(opcode byte) int {
	switch opcode {
	case 0, 1, 2, 3, 4, 6, 7:
		return 3
	case 5, 9:
		return 4
	default:
		return 0
	}
}

func (d *Dispatcher) runLoginHandshake(ctx context.Context, sess *Session) error {
	ok, err := d.checkRevision(sess)
	if err != nil || !ok {
		return err
	}
	serverKey := sess.NewServerKey()
	if err := sess.Send(protocol.EncodeLoginHandshakeSuccess(serverKey)); err != nil {
		return err
	}
	sess.SetState(StateLoginHandshake)
	return d.runLogin(ctx, sess)
}

func (d *Dispatcher) runLogin(ctx context.Context, sess *Session) error {
	typeByte, err := readByte(sess.Conn())
	if err != nil {
		return nil
	}
	loginType, ok := login.ParseLoginType(typeByte)
	if !ok {
		return fmt.Errorf("session %d: unknown login type %d", sess.ID, typeByte)
	}
	sess.SetState(StateLoggingIn)

	var sizeBytes [2]byte
	if _, err := io.ReadFull(sess.Conn(), sizeBytes[:]); err != nil {
		return nil
	}
	size := binary.BigEndian.Uint16(sizeBytes[:])
	if size < 10 {
		_ = sess.Send(login.EncodeError(login.LoginResponseCouldNotCompleteLogin))
		return fmt.Errorf("session %d: login packet too small: %d", sess.ID, size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(sess.Conn(), body); err != nil {
		return nil
	}

	parser := login.NewParser(d.deps.ExpectedRevision, rsaKeyOrNil(d.deps))
	block, err := parser.Parse(loginType, body)
	if err != nil {
		_ = sess.Send(login.EncodeError(login.ResponseForAuthError(err)))
		return fmt.Errorf("session %d: parsing login block: %w", sess.ID, err)
	}

	canonical := canonicalUsername(block.Username)
	if d.deps.World != nil {
		if _, exists := d.deps.World.Players.ByUsername(canonical); exists {
			_ = sess.Send(login.EncodeError(login.LoginResponseAlreadyLoggedIn))
			return nil
		}
	}

	resp, initializer, err := login.RunLogin(ctx, d.deps.Auth, d.deps.Store, block)
	if err != nil {
		return fmt.Errorf("session %d: login: %w", sess.ID, err)
	}
	if err := sess.Send(resp); err != nil {
		return err
	}
	if initializer == nil {
		// Authentication failed; resp already carries the error byte.
		return nil
	}

	pair := isaac.NewServerPair(block.ISAACSeeds)
	for _, packet := range initializer.Encode(nil) {
		if err := sess.Send(packet); err != nil {
			return err
		}
	}

	sess.SetISAAC(pair)
	sess.SetUsername(canonical)
	sess.SetState(StateInGame)

	if d.deps.World != nil {
		player := &world.Player{
			Index:       playerIndexFromResponse(resp),
			SessionID:   sess.ID,
			Username:    canonical,
			DisplayName: block.Username,
			// RunLogin doesn't hand back the loaded position, only the
			// encoded init packets; the default spawn tile matches the
			// one login.RunLogin falls back to for a fresh character.
			Location: playersync.Location{X: 3222, Y: 3218, Z: 0},
		}
		d.deps.World.RegisterPlayer(player)
		sess.SetPlayerIndex(player.Index)
		defer d.deps.World.UnregisterPlayer(player.Index)
	}

	return d.runInGame(ctx, sess)
}

func (d *Dispatcher) runInGame(ctx context.Context, sess *Session) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		pair := sess.ISAAC()
		opcode, payload, err := protocol.ReadGamePacket(sess.Conn(), pair)
		if err != nil {
			return nil
		}
		sess.Touch()
		if err := handleGamePacket(sess, opcode, payload); err != nil {
			slog.Warn("in-game packet handling failed, disconnecting", "session", sess.ID, "opcode", opcode, "err", err)
			return nil
		}
	}
}

// runAccountX reads a u16-size-prefixed payload, mirroring the login
// handshake's own framing, since neither opcode 147 nor 186 is given a wire
// layout: the size prefix is the minimum framing any passthrough needs.
func (d *Dispatcher) runAccountX(ctx context.Context, sess *Session, handle func(context.Context, []byte) (byte, error)) error {
	var sizeBytes [2]byte
	if _, err := io.ReadFull(sess.Conn(), sizeBytes[:]); err != nil {
		return nil
	}
	size := binary.BigEndian.Uint16(sizeBytes[:])
	payload := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(sess.Conn(), payload); err != nil {
			return nil
		}
	}
	code, err := handle(ctx, payload)
	if err != nil {
		code = accountx.ResponseRejected
	}
	return sess.Send([]byte{code})
}

func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func rsaKeyOrNil(deps Dependencies) *rsa.PrivateKey {
	if deps.DevMode {
		return nil
	}
	return deps.RSAKey
}

func canonicalUsername(username string) string {
	out := make([]rune, 0, len(username))
	for _, r := range username {
		if r == ' ' {
			out = append(out, '_')
			continue
		}
		if r >= 'A' && r <= 'Z' {
			r = r - 'A' + 'a'
		}
		out = append(out, r)
	}
	return string(out)
}

func playerIndexFromResponse(resp []byte) uint16 {
	if len(resp) < 6 || resp[0] != byte(login.LoginResponseSuccess) {
		return 0
	}
	return binary.BigEndian.Uint16(resp[3:5])
}
