// Package db provides a Postgres-backed authsvc.Service, the account store
// behind login when the server isn't configured to run against the
// in-memory stand-in.
package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/rscore/rs530/internal/accountx"
	"github.com/rscore/rs530/internal/authsvc"
	"github.com/rscore/rs530/internal/buffer"
)

// Postgres is an authsvc.Service backed by the accounts table. Player-index
// allocation lives in process memory, same as authsvc.InMemory, since the
// accounts table has no notion of who is currently logged in.
type Postgres struct {
	pool *pgxpool.Pool

	mu       sync.Mutex
	inUse    map[uint16]bool
	maxIndex uint16
}

// NewPostgres connects to dsn and returns a Postgres-backed account service
// allowing up to maxIndex concurrently logged-in players.
func NewPostgres(ctx context.Context, dsn string, maxIndex uint16) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	return &Postgres{
		pool:     pool,
		inUse:    make(map[uint16]bool),
		maxIndex: maxIndex,
	}, nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() { p.pool.Close() }

// Pool returns the underlying pgx pool, for callers that need it directly
// (migrations, diagnostics).
func (p *Postgres) Pool() *pgxpool.Pool { return p.pool }

type accountRow struct {
	id           int64
	passwordHash string
	rights       byte
	flagged      bool
	member       bool
}

func (p *Postgres) lookupAccount(ctx context.Context, username string) (accountRow, bool, error) {
	var row accountRow
	err := p.pool.QueryRow(ctx,
		`SELECT id, password_hash, rights, flagged, member
		 FROM accounts WHERE lower(username) = lower($1)`, username,
	).Scan(&row.id, &row.passwordHash, &row.rights, &row.flagged, &row.member)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return accountRow{}, false, nil
		}
		return accountRow{}, false, fmt.Errorf("db: querying account %q: %w", username, err)
	}
	return row, true, nil
}

// Authenticate looks up username, checks password against its bcrypt hash,
// and hands back a free player index. A username with no existing account
// is auto-registered on first successful-looking login, matching the
// teacher's auto-create convenience for a fresh account store.
func (p *Postgres) Authenticate(ctx context.Context, username, password string) (authsvc.Account, uint16, error) {
	canonical := strings.ToLower(username)

	row, exists, err := p.lookupAccount(ctx, canonical)
	if err != nil {
		return authsvc.Account{}, 0, err
	}
	if !exists {
		hash, err := hashPassword(password)
		if err != nil {
			return authsvc.Account{}, 0, fmt.Errorf("db: hashing password for %q: %w", canonical, err)
		}
		var id int64
		if err := p.pool.QueryRow(ctx,
			`INSERT INTO accounts (username, password_hash, member) VALUES ($1, $2, true) RETURNING id`,
			canonical, hash,
		).Scan(&id); err != nil {
			return authsvc.Account{}, 0, fmt.Errorf("db: creating account %q: %w", canonical, err)
		}
		row = accountRow{id: id, passwordHash: hash, member: true}
	} else {
		if row.flagged {
			return authsvc.Account{}, 0, rejectAuth(authsvc.ReasonAccountDisabled, "account disabled")
		}
		if bcrypt.CompareHashAndPassword([]byte(row.passwordHash), []byte(password)) != nil {
			return authsvc.Account{}, 0, rejectAuth(authsvc.ReasonInvalidCredentials, "invalid credentials")
		}
	}

	idx, ok := p.allocateIndex()
	if !ok {
		return authsvc.Account{}, 0, rejectAuth(authsvc.ReasonWorldFull, "world full")
	}

	if _, err := p.pool.Exec(ctx,
		`UPDATE accounts SET last_login_at = now() WHERE id = $1`, row.id,
	); err != nil {
		p.ReleasePlayerIndex(ctx, idx)
		return authsvc.Account{}, 0, fmt.Errorf("db: recording login for %q: %w", canonical, err)
	}

	return authsvc.Account{
		ID:       row.id,
		Username: canonical,
		Rights:   row.rights,
		Flagged:  row.flagged,
		Member:   row.member,
	}, idx, nil
}

// ReleasePlayerIndex returns idx to the free pool.
func (p *Postgres) ReleasePlayerIndex(_ context.Context, idx uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, idx)
}

func (p *Postgres) allocateIndex() (uint16, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := uint16(1); i <= p.maxIndex; i++ {
		if !p.inUse[i] {
			p.inUse[i] = true
			return i, true
		}
	}
	return 0, false
}

func rejectAuth(reason authsvc.Reason, msg string) error {
	return &authsvc.Error{Reason: reason, Msg: msg}
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// parseCredentials decodes the username/password pair handshake opcodes 147
// and 186 carry as two Jagex strings, the same encoding login bodies use.
func parseCredentials(payload []byte) (username, password string, err error) {
	r := buffer.NewReader(payload)
	username, err = r.ReadStringJagex()
	if err != nil {
		return "", "", fmt.Errorf("db: reading username: %w", err)
	}
	password, err = r.ReadStringJagex()
	if err != nil {
		return "", "", fmt.Errorf("db: reading password: %w", err)
	}
	return username, password, nil
}

// CreateAccount implements accountx.Service: registers a brand new account,
// rejecting a username that already exists instead of silently logging into
// it the way Authenticate's auto-create path does.
func (p *Postgres) CreateAccount(ctx context.Context, payload []byte) (byte, error) {
	username, password, err := parseCredentials(payload)
	if err != nil {
		return accountx.ResponseRejected, err
	}
	canonical := strings.ToLower(username)

	_, exists, err := p.lookupAccount(ctx, canonical)
	if err != nil {
		return accountx.ResponseRejected, err
	}
	if exists {
		return accountx.ResponseAlreadyExists, nil
	}

	hash, err := hashPassword(password)
	if err != nil {
		return accountx.ResponseRejected, fmt.Errorf("db: hashing password for %q: %w", canonical, err)
	}
	if _, err := p.pool.Exec(ctx,
		`INSERT INTO accounts (username, password_hash) VALUES ($1, $2)`,
		canonical, hash,
	); err != nil {
		return accountx.ResponseRejected, fmt.Errorf("db: creating account %q: %w", canonical, err)
	}
	return accountx.ResponseOK, nil
}

// RecoverAccount implements accountx.Service. Real recovery needs an
// out-of-band channel (email, security questions) this server has no model
// for; it only confirms whether the account exists.
func (p *Postgres) RecoverAccount(ctx context.Context, payload []byte) (byte, error) {
	username, _, err := parseCredentials(payload)
	if err != nil {
		return accountx.ResponseRejected, err
	}
	_, exists, err := p.lookupAccount(ctx, strings.ToLower(username))
	if err != nil {
		return accountx.ResponseRejected, err
	}
	if !exists {
		return accountx.ResponseNotFound, nil
	}
	return accountx.ResponseOK, nil
}
