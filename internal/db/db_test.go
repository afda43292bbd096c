package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rscore/rs530/internal/accountx"
	"github.com/rscore/rs530/internal/authsvc"
	"github.com/rscore/rs530/internal/buffer"
)

var testDSN string

func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		log.Fatalf("starting postgres container: %v", err)
	}
	defer func() { _ = container.Terminate(ctx) }()

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("getting container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("getting container port: %v", err)
	}
	testDSN = fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	if err := RunMigrations(ctx, testDSN); err != nil {
		log.Fatalf("running migrations: %v", err)
	}

	os.Exit(m.Run())
}

func newTestStore(t *testing.T, maxIndex uint16) *Postgres {
	t.Helper()
	store, err := NewPostgres(context.Background(), testDSN, maxIndex)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	t.Cleanup(func() {
		_, _ = store.pool.Exec(context.Background(), "TRUNCATE accounts")
	})
	return store
}

func TestAuthenticateAutoCreatesAccount(t *testing.T) {
	store := newTestStore(t, 10)
	ctx := context.Background()

	acc, idx, err := store.Authenticate(ctx, "Player_One", "hunter2")
	require.NoError(t, err)
	require.Equal(t, "player_one", acc.Username)
	require.True(t, acc.Member)
	require.Equal(t, uint16(1), idx)

	store.ReleasePlayerIndex(ctx, idx)
}

func TestAuthenticateRejectsWrongPassword(t *testing.T) {
	store := newTestStore(t, 10)
	ctx := context.Background()

	_, idx, err := store.Authenticate(ctx, "player_two", "correct")
	require.NoError(t, err)
	store.ReleasePlayerIndex(ctx, idx)

	_, _, err = store.Authenticate(ctx, "player_two", "wrong")
	require.Error(t, err)
	reason, ok := authsvc.ReasonOf(err)
	require.True(t, ok)
	require.Equal(t, authsvc.ReasonInvalidCredentials, reason)
}

func TestAuthenticateRejectsFlaggedAccount(t *testing.T) {
	store := newTestStore(t, 10)
	ctx := context.Background()

	_, err := store.pool.Exec(ctx,
		`INSERT INTO accounts (username, password_hash, flagged) VALUES ($1, $2, true)`,
		"banned_player", mustHash(t, "whatever"))
	require.NoError(t, err)

	_, _, err = store.Authenticate(ctx, "banned_player", "whatever")
	require.Error(t, err)
	reason, ok := authsvc.ReasonOf(err)
	require.True(t, ok)
	require.Equal(t, authsvc.ReasonAccountDisabled, reason)
}

func TestAuthenticateReportsWorldFull(t *testing.T) {
	store := newTestStore(t, 1)
	ctx := context.Background()

	_, _, err := store.Authenticate(ctx, "first", "pw")
	require.NoError(t, err)

	_, _, err = store.Authenticate(ctx, "second", "pw")
	require.Error(t, err)
	reason, ok := authsvc.ReasonOf(err)
	require.True(t, ok)
	require.Equal(t, authsvc.ReasonWorldFull, reason)
}

func TestCreateAccountRejectsDuplicate(t *testing.T) {
	store := newTestStore(t, 10)
	ctx := context.Background()

	payload := encodeCredentials("dupe_check", "pw1")
	code, err := store.CreateAccount(ctx, payload)
	require.NoError(t, err)
	require.Equal(t, accountx.ResponseOK, code)

	code, err = store.CreateAccount(ctx, payload)
	require.NoError(t, err)
	require.Equal(t, accountx.ResponseAlreadyExists, code)
}

func TestRecoverAccountReportsNotFound(t *testing.T) {
	store := newTestStore(t, 10)
	ctx := context.Background()

	payload := encodeCredentials("ghost", "pw")
	code, err := store.RecoverAccount(ctx, payload)
	require.NoError(t, err)
	require.Equal(t, accountx.ResponseNotFound, code)
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := hashPassword(password)
	require.NoError(t, err)
	return hash
}

func encodeCredentials(username, password string) []byte {
	b := buffer.New(len(username) + len(password) + 2)
	b.WriteStringJagex(username)
	b.WriteStringJagex(password)
	return b.Bytes()
}
