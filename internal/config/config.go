package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for a single federation peer, loaded from
// environment variables (optionally seeded by a .env file).
type Config struct {
	Network string `envconfig:"FEDWALLET_NETWORK" default:"testnet"`

	PeerID    uint32 `envconfig:"FEDWALLET_PEER_ID" required:"true"`
	NumPeers  uint32 `envconfig:"FEDWALLET_NUM_PEERS" required:"true"`
	Threshold uint32 `envconfig:"FEDWALLET_THRESHOLD" required:"true"`

	FinalityDelay      uint32 `envconfig:"FEDWALLET_FINALITY_DELAY" default:"6"`
	ConfirmationTarget uint16 `envconfig:"FEDWALLET_CONFIRMATION_TARGET" default:"10"`
	DefaultFeeRate     uint64 `envconfig:"FEDWALLET_DEFAULT_FEE_RATE" default:"2000"`

	BitcoindRPCURLs  []string `envconfig:"FEDWALLET_BITCOIND_RPC_URLS" required:"true"`
	BitcoindRPCUser  string   `envconfig:"FEDWALLET_BITCOIND_RPC_USER"`
	BitcoindRPCPass  string   `envconfig:"FEDWALLET_BITCOIND_RPC_PASS"`

	BroadcastInterval time.Duration `envconfig:"FEDWALLET_BROADCAST_INTERVAL" default:"10s"`
	RoundInterval     time.Duration `envconfig:"FEDWALLET_ROUND_INTERVAL" default:"1s"`

	MnemonicFile string `envconfig:"FEDWALLET_MNEMONIC_FILE"`

	DBPath string `envconfig:"FEDWALLET_DB_PATH" default:"./data/fedwallet.sqlite"`
	Port   int    `envconfig:"FEDWALLET_PORT" default:"8080"`

	LogLevel string `envconfig:"FEDWALLET_LOG_LEVEL" default:"info"`
	LogDir   string `envconfig:"FEDWALLET_LOG_DIR" default:"./logs"`
}

// Load reads configuration from a .env file (if present) then from
// environment variables. Real environment variables override .env values,
// since godotenv.Load never overwrites an already-set variable.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			slog.Warn("failed to load .env file", "error", err)
		} else {
			slog.Info("loaded .env file")
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration values for internal consistency.
func (c *Config) Validate() error {
	switch c.Network {
	case "mainnet", "testnet", "signet", "regtest":
	default:
		return fmt.Errorf("%w: network must be one of mainnet/testnet/signet/regtest, got %q", ErrInvalidConfig, c.Network)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be 1-65535, got %d", ErrInvalidConfig, c.Port)
	}

	if c.NumPeers == 0 {
		return fmt.Errorf("%w: num_peers must be >= 1", ErrInvalidConfig)
	}
	if c.Threshold == 0 || c.Threshold > c.NumPeers {
		return fmt.Errorf("%w: threshold must be in [1, num_peers=%d], got %d", ErrInvalidConfig, c.NumPeers, c.Threshold)
	}
	if c.PeerID == 0 || c.PeerID > c.NumPeers {
		return fmt.Errorf("%w: peer_id must be in [1, num_peers=%d], got %d", ErrInvalidConfig, c.NumPeers, c.PeerID)
	}

	if len(c.BitcoindRPCURLs) == 0 {
		return fmt.Errorf("%w: at least one bitcoind RPC URL is required", ErrInvalidConfig)
	}
	for _, u := range c.BitcoindRPCURLs {
		if strings.TrimSpace(u) == "" {
			return fmt.Errorf("%w: empty bitcoind RPC URL", ErrInvalidConfig)
		}
	}

	if c.ConfirmationTarget == 0 {
		return fmt.Errorf("%w: confirmation_target must be >= 1", ErrInvalidConfig)
	}

	return nil
}
