package main

import (
	"context"
	"crypto/rsa"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rscore/rs530/internal/accountx"
	"github.com/rscore/rs530/internal/authsvc"
	"github.com/rscore/rs530/internal/cache"
	"github.com/rscore/rs530/internal/config"
	"github.com/rscore/rs530/internal/db"
	"github.com/rscore/rs530/internal/playerstore"
	"github.com/rscore/rs530/internal/session"
	"github.com/rscore/rs530/internal/world"
)

const GameConfigPath = "config/gameserver.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := GameConfigPath
	if p := os.Getenv("RS530_GAME_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadGameServer(cfgPath)
	if err != nil {
		return fmt.Errorf("loading game config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("rs530 game server starting",
		"world_id", cfg.WorldID, "world_name", cfg.WorldName, "dev_mode", cfg.DevMode)

	store, closeStore, err := newPlayerStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	auth, accountSvc, closeAuth, err := newAuthServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeAuth()

	fileCache, err := cache.NewStore(cfg.CachePath)
	if err != nil {
		return fmt.Errorf("loading cache: %w", err)
	}
	defer fileCache.Close()
	slog.Info("cache loaded", "path", cfg.CachePath, "indices", fileCache.IndexCount())

	var rsaKey *rsa.PrivateKey
	if !cfg.DevMode {
		rsaKey, err = loadRSAKey(cfg.RSA)
		if err != nil {
			return fmt.Errorf("loading RSA key: %w", err)
		}
	}

	gw := world.New(world.Settings{
		WorldID:          cfg.WorldID,
		TickInterval:     cfg.TickInterval(),
		AutosaveInterval: autosaveTicks(cfg),
		MaxPlayers:       cfg.MaxPlayers,
	}, store)

	dispatcher := session.NewDispatcher(session.Dependencies{
		ExpectedRevision: cfg.ExpectedRevision,
		Cache:            fileCache,
		Auth:             auth,
		Store:            store,
		AccountX:         accountSvc,
		World:            gw,
		RSAKey:           rsaKey,
		DevMode:          cfg.DevMode,
		WorldList: session.WorldListEntry{
			ID:   uint16(cfg.WorldID),
			Name: cfg.WorldName,
			Host: cfg.BindAddress,
		},
	})

	srv := session.NewServer(cfg.ListenAddress(), dispatcher)
	srv.PerIPConnectionCap = cfg.PerIPConnectionCap
	srv.IdleTimeout = time.Duration(cfg.SessionIdleTimeoutSecs) * time.Second
	srv.SendQueueSize = cfg.SendQueueSize
	srv.WriteTimeout = cfg.WriteTimeout
	srv.FloodProtection = cfg.FloodProtection
	srv.FastConnectionLimit = cfg.FastConnectionLimit
	srv.NormalConnectionTime = time.Duration(cfg.NormalConnectionTime) * time.Millisecond
	srv.FastConnectionTime = time.Duration(cfg.FastConnectionTime) * time.Millisecond

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting world simulation", "tick", cfg.TickInterval())
		if err := gw.Run(gctx); err != nil {
			return fmt.Errorf("world simulation: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("listening for game clients", "addr", cfg.ListenAddress())
		if err := srv.Run(gctx); err != nil {
			return fmt.Errorf("game server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("listening for websocket game clients", "addr", cfg.WebsocketAddress())
		if err := srv.RunWebSocket(gctx, cfg.WebsocketAddress()); err != nil {
			return fmt.Errorf("websocket server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// newPlayerStore builds the Store backing character persistence. DevMode
// runs against an in-memory store so a bare checkout can start without a
// Postgres instance; otherwise it migrates and connects to cfg.Database.
func newPlayerStore(ctx context.Context, cfg config.GameServer) (playerstore.Store, func(), error) {
	if cfg.DevMode {
		return playerstore.NewInMemory(), func() {}, nil
	}
	dsn := cfg.Database.DSN()
	if err := playerstore.Migrate(ctx, dsn); err != nil {
		return nil, nil, fmt.Errorf("migrating player store: %w", err)
	}
	store, err := playerstore.NewPostgres(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting player store: %w", err)
	}
	return store, store.Close, nil
}

// newAuthServices builds the account-authentication and account-management
// collaborators. DevMode uses a fixed in-memory credential set with account
// creation disabled (opcodes 147/186 answer "service offline"); otherwise
// both are backed by the same Postgres accounts table. When
// accountx_blowfish_key_hex is set, the account-management surface is
// wrapped so 147/186 payloads are Blowfish-ECB decrypted before reaching it.
func newAuthServices(ctx context.Context, cfg config.GameServer) (authsvc.Service, accountx.Service, func(), error) {
	if cfg.DevMode {
		return authsvc.NewInMemory(map[string]string{"test": "test"}, uint16(cfg.MaxPlayers)), accountx.NoopService{}, func() {}, nil
	}
	dsn := cfg.Database.DSN()
	if err := db.RunMigrations(ctx, dsn); err != nil {
		return nil, nil, nil, fmt.Errorf("migrating accounts: %w", err)
	}
	store, err := db.NewPostgres(ctx, dsn, uint16(cfg.MaxPlayers))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connecting accounts: %w", err)
	}

	var accountSvc accountx.Service = store
	if cfg.AccountXBlowfishKeyHex != "" {
		key, err := hex.DecodeString(cfg.AccountXBlowfishKeyHex)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("decoding accountx blowfish key: %w", err)
		}
		accountSvc, err = accountx.NewObfuscated(store, key)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("building accountx obfuscation: %w", err)
		}
	}

	return store, accountSvc, store.Close, nil
}

// loadRSAKey reconstructs the login-block decryption key from the hex
// modulus/exponent pair an operator pastes into the config file. No primes
// are carried, so CRT precomputation is skipped; RSADecryptNoPadding falls
// back to the plain modular-exponentiation path in that case.
func loadRSAKey(cfg config.RSAConfig) (*rsa.PrivateKey, error) {
	modulus, err := decodeHexBigInt(cfg.ModulusHex)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	exponent, err := decodeHexBigInt(cfg.PrivateExponentHex)
	if err != nil {
		return nil, fmt.Errorf("decoding private exponent: %w", err)
	}
	publicExponent := cfg.PublicExponent
	if publicExponent == 0 {
		publicExponent = 65537
	}
	return &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{N: modulus, E: publicExponent},
		D:         exponent,
	}, nil
}

func decodeHexBigInt(s string) (*big.Int, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty value")
	}
	return new(big.Int).SetBytes(raw), nil
}

// autosaveTicks converts the configured autosave interval into the tick
// count GameWorld.Settings expects, rounding up to at least one tick when
// enabled.
func autosaveTicks(cfg config.GameServer) uint64 {
	if cfg.AutosaveIntervalSecs <= 0 {
		return 0
	}
	interval := cfg.TickInterval()
	total := time.Duration(cfg.AutosaveIntervalSecs) * time.Second
	ticks := total / interval
	if ticks < 1 {
		ticks = 1
	}
	return uint64(ticks)
}

// parseLogLevel converts string log level to slog.Level.
// Defaults to Info if invalid or empty.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
