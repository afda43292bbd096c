// Package authsvc defines the AuthService external collaborator interface
// and a minimal in-memory implementation sufficient for tests and local
// development, standing in for the real account service's HTTP REST API.
package authsvc

import (
	"context"
	"errors"
	"sync"
)

// Account is the subset of account state the game server needs once a
// login attempt has been authenticated.
type Account struct {
	ID       int64
	Username string
	Rights   byte
	Flagged  bool
	Member   bool
}

// Reason enumerates why Authenticate rejected an attempt, independent of
// the wire-level LoginResponse code that §4.7 maps each reason to.
type Reason int

const (
	ReasonInvalidCredentials Reason = iota
	ReasonAccountDisabled
	ReasonAccountLocked
	ReasonAlreadyLoggedIn
	ReasonWorldFull
	ReasonLoginLimitExceeded
	ReasonLoginServerOffline
	ReasonGameUpdated
	ReasonInvalidSessionID
	ReasonTooManyAttempts
)

// Error wraps an authentication rejection with its Reason so the login
// handler can map it to the correct wire response code.
type Error struct {
	Reason Reason
	Msg    string
}

func (e *Error) Error() string { return e.Msg }

func reject(reason Reason, msg string) error {
	return &Error{Reason: reason, Msg: msg}
}

// Service is the external collaborator interface the login handler depends
// on: authenticate a username/password pair and hand back an Account plus
// the player index the world should use, or release that index at teardown.
type Service interface {
	Authenticate(ctx context.Context, username, password string) (Account, uint16, error)
	ReleasePlayerIndex(ctx context.Context, idx uint16)
}

// InMemory is a Service backed by a fixed credential map, used by tests and
// as a default when no real account service is configured.
type InMemory struct {
	mu        sync.Mutex
	passwords map[string]string
	nextID    int64
	inUse     map[uint16]bool
	maxIndex  uint16
}

// NewInMemory builds an in-memory auth service allowing up to maxIndex
// concurrently logged-in players.
func NewInMemory(passwords map[string]string, maxIndex uint16) *InMemory {
	m := make(map[string]string, len(passwords))
	for k, v := range passwords {
		m[k] = v
	}
	return &InMemory{
		passwords: m,
		nextID:    1,
		inUse:     make(map[uint16]bool),
		maxIndex:  maxIndex,
	}
}

func (s *InMemory) Authenticate(_ context.Context, username, password string) (Account, uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want, ok := s.passwords[username]
	if !ok || want != password {
		return Account{}, 0, reject(ReasonInvalidCredentials, "invalid credentials")
	}

	var idx uint16
	found := false
	for i := uint16(1); i <= s.maxIndex; i++ {
		if !s.inUse[i] {
			idx = i
			found = true
			break
		}
	}
	if !found {
		return Account{}, 0, reject(ReasonWorldFull, "world full")
	}
	s.inUse[idx] = true

	id := s.nextID
	s.nextID++

	return Account{ID: id, Username: username, Rights: 0, Member: true}, idx, nil
}

func (s *InMemory) ReleasePlayerIndex(_ context.Context, idx uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inUse, idx)
}

// ReasonOf extracts the Reason from err, if it is (or wraps) an *Error.
func ReasonOf(err error) (Reason, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason, true
	}
	return 0, false
}
