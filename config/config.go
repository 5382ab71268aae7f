// Package config loads and saves gun's on-disk configuration
// (config.json), following the same Config/DefaultConfig/Validate shape
// used throughout this module. CLI flag overrides are applied in
// cmd/gun, not here.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
)

// DefaultMinMargin is the minimum time an event's expected_outcome_time
// must sit in the future for propose/offer to accept it.
const DefaultMinMargin = time.Hour

// DefaultFeeRate is the sat/vByte rate used for funding and claim
// transactions when the user does not override it.
const DefaultFeeRate uint32 = 2

// OracleConfig is a user-added oracle's persisted record.
type OracleConfig struct {
	ID              string `json:"id"`
	PublicKey       string `json:"public_key"` // hex, compressed
	EventURLPattern string `json:"event_url_pattern"`
}

// Config is gun's full configuration: network selection, data
// directory, the oracle list, and the protocol tunables left to the
// user.
type Config struct {
	// Network is one of "mainnet", "testnet3", "regtest", "signet".
	Network string `json:"network"`

	// DataDir is the directory holding config.json, seed.txt,
	// database.sled/ and bets.log.
	DataDir string `json:"-"`

	// EsploraURL is the base URL of the Esplora-compatible REST API
	// backing the Wallet Adapter's chain client.
	EsploraURL string `json:"esplora_url"`

	// MinMargin is the minimum duration before an event's
	// expected_outcome_time that propose/offer will still accept it.
	MinMargin time.Duration `json:"min_margin_seconds"`

	// DefaultFeeRate is the sat/vByte rate used when a command does
	// not specify one explicitly.
	DefaultFeeRate uint32 `json:"default_fee_rate"`

	// Oracles is the set of oracles the user has added via
	// `gun bet oracle add`.
	Oracles []OracleConfig `json:"oracles"`
}

// DefaultConfig returns gun's default configuration for dataDir.
func DefaultConfig(dataDir string) *Config {
	return &Config{
		Network:        "testnet3",
		DataDir:        dataDir,
		EsploraURL:     "https://mempool.space/testnet/api",
		MinMargin:      DefaultMinMargin,
		DefaultFeeRate: DefaultFeeRate,
	}
}

// path returns the config.json path under dataDir.
func path(dataDir string) string {
	return filepath.Join(dataDir, "config.json")
}

// Load reads config.json from dataDir, or returns DefaultConfig(dataDir)
// if it does not yet exist.
func Load(dataDir string) (*Config, error) {
	raw, err := os.ReadFile(path(dataDir))
	if os.IsNotExist(err) {
		return DefaultConfig(dataDir), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig(dataDir)
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.DataDir = dataDir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to dataDir/config.json, creating the directory if
// needed.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.DataDir, 0700); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	raw, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path(c.DataDir), raw, 0600)
}

// Validate checks cfg for internal consistency.
func (c *Config) Validate() error {
	if _, err := c.NetParams(); err != nil {
		return err
	}
	if c.MinMargin < 0 {
		return fmt.Errorf("min_margin_seconds must be non-negative")
	}
	if c.DefaultFeeRate == 0 {
		return fmt.Errorf("default_fee_rate must be positive")
	}
	seen := make(map[string]struct{}, len(c.Oracles))
	for _, o := range c.Oracles {
		if _, dup := seen[o.ID]; dup {
			return fmt.Errorf("duplicate oracle id %q", o.ID)
		}
		seen[o.ID] = struct{}{}
	}
	return nil
}

// NetParams returns the chaincfg.Params matching c.Network.
func (c *Config) NetParams() (*chaincfg.Params, error) {
	switch c.Network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet3", "":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", c.Network)
	}
}

// FindOracle returns the saved config for oracleID, if the user has
// added it.
func (c *Config) FindOracle(oracleID string) (*OracleConfig, bool) {
	for i := range c.Oracles {
		if c.Oracles[i].ID == oracleID {
			return &c.Oracles[i], true
		}
	}
	return nil, false
}

// AddOracle appends or replaces oracleID's saved record.
func (c *Config) AddOracle(o OracleConfig) {
	for i := range c.Oracles {
		if c.Oracles[i].ID == o.ID {
			c.Oracles[i] = o
			return
		}
	}
	c.Oracles = append(c.Oracles, o)
}

// RemoveOracle drops oracleID's saved record, returning false if it was
// never present.
func (c *Config) RemoveOracle(oracleID string) bool {
	for i := range c.Oracles {
		if c.Oracles[i].ID == oracleID {
			c.Oracles = append(c.Oracles[:i], c.Oracles[i+1:]...)
			return true
		}
	}
	return false
}

// SeedPath returns the plaintext seed file path under dataDir.
func (c *Config) SeedPath() string {
	return filepath.Join(c.DataDir, "seed.txt")
}

// WalletDBPath returns the wallet database directory under dataDir.
func (c *Config) WalletDBPath() string {
	return filepath.Join(c.DataDir, "database.sled", "wallet.db")
}

// BetDBPath returns the bet store database path under dataDir.
func (c *Config) BetDBPath() string {
	return filepath.Join(c.DataDir, "database.sled", "bets.db")
}

// WALPath returns the transition log path under dataDir.
func (c *Config) WALPath() string {
	return filepath.Join(c.DataDir, "bets.log")
}
