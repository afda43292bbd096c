package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RSAConfig carries the server's RSA keypair for login-block decryption, hex
// encoded the way an operator pastes it into a config file. DevMode (on
// GameServer, not here) decides whether the login handler uses it at all.
type RSAConfig struct {
	ModulusHex         string `yaml:"modulus_hex"`
	PrivateExponentHex string `yaml:"private_exponent_hex"`
	PublicExponent     int    `yaml:"public_exponent"`
}

// GameServer holds all configuration for a revision-530 world server.
type GameServer struct {
	// Identity
	WorldID   int    `yaml:"world_id"` // 1..=255
	WorldName string `yaml:"world_name"`

	// Network
	BindAddress   string `yaml:"bind_address"`
	GamePort      int    `yaml:"game_port"` // actual listen = base + world_id
	WebsocketPort int    `yaml:"websocket_port"`

	// Cache
	CachePath string `yaml:"cache_path"`

	// Simulation
	TickRateMs           int   `yaml:"tick_rate_ms"`           // 100..=5000, default 600
	AutosaveIntervalSecs int64 `yaml:"autosave_interval_secs"` // 0 disables
	MaxPlayers           int   `yaml:"max_players"`            // 1..=10000
	ExpectedRevision     uint32 `yaml:"expected_revision"`

	// Login
	RSA     RSAConfig `yaml:"rsa"`
	DevMode bool      `yaml:"dev_mode"` // skips RSA decryption, decrypted == input

	// AccountXBlowfishKeyHex, when set, obfuscates the account-create/
	// account-recover (opcodes 147/186) payloads with Blowfish-ECB before
	// they reach the account service. Empty disables the layer and those
	// payloads are forwarded as-is.
	AccountXBlowfishKeyHex string `yaml:"accountx_blowfish_key_hex"`

	// Database (backs the Postgres account service and PlayerStore implementation)
	Database DatabaseConfig `yaml:"database"`

	// Logging
	LogLevel string `yaml:"log_level"` // debug, info, warn, error (default: info)

	// Session / connection hygiene
	PerIPConnectionCap     int `yaml:"per_ip_connection_cap"`     // default 10
	SessionIdleTimeoutSecs int `yaml:"session_idle_timeout_secs"` // default 300
	ReadTimeoutSecs        int `yaml:"read_timeout_secs"`         // default 30
	SendQueueSize          int `yaml:"send_queue_size"`           // per-session outbox capacity, default 256

	WriteTimeout time.Duration `yaml:"write_timeout"` // per-write deadline, default 5s

	// Flood protection: rejects an IP reconnecting too many times within
	// FastConnectionTime of its previous connection. Wired into
	// session.Server.admitFlood.
	FloodProtection      bool `yaml:"flood_protection"`
	FastConnectionLimit  int  `yaml:"fast_connection_limit"`
	NormalConnectionTime int  `yaml:"normal_connection_time"` // ms
	FastConnectionTime   int  `yaml:"fast_connection_time"`   // ms
}

// DefaultGameServer returns GameServer config with sensible defaults.
func DefaultGameServer() GameServer {
	return GameServer{
		WorldID:       1,
		WorldName:     "Asgarnia",
		BindAddress:   "0.0.0.0",
		GamePort:      43594,
		WebsocketPort: 443,

		CachePath: "./cache",

		TickRateMs:           600,
		AutosaveIntervalSecs: 300,
		MaxPlayers:           2000,
		ExpectedRevision:     530,

		RSA:     RSAConfig{PublicExponent: 65537},
		DevMode: true,

		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "rs530",
			Password: "rs530",
			DBName:   "rs530",
			SSLMode:  "disable",
		},

		LogLevel: "info",

		PerIPConnectionCap:     10,
		SessionIdleTimeoutSecs: 300,
		ReadTimeoutSecs:        30,
		SendQueueSize:          256,
		WriteTimeout:           5 * time.Second,

		FloodProtection:      true,
		FastConnectionLimit:  15,
		NormalConnectionTime: 700,
		FastConnectionTime:   350,
	}
}

// ListenAddress returns the actual TCP listen address: bind_address combined
// with base game_port + world_id, per the recognized configuration options.
func (g GameServer) ListenAddress() string {
	return fmt.Sprintf("%s:%d", g.BindAddress, g.GamePort+g.WorldID)
}

// WebsocketAddress returns the bind address for the WebSocket listener.
func (g GameServer) WebsocketAddress() string {
	return fmt.Sprintf("%s:%d", g.BindAddress, g.WebsocketPort)
}

// TickInterval converts TickRateMs to a time.Duration, clamped to the
// recognized 100..=5000 range.
func (g GameServer) TickInterval() time.Duration {
	ms := g.TickRateMs
	if ms < 100 {
		ms = 100
	}
	if ms > 5000 {
		ms = 5000
	}
	return time.Duration(ms) * time.Millisecond
}

// LoadGameServer loads world-server config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadGameServer(path string) (GameServer, error) {
	cfg := DefaultGameServer()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
