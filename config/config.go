// Package config loads node configuration and builds the genesis block.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID string            `toml:"chain_id"`
	Alloc   map[string]uint64 `toml:"alloc"` // pubkey hex → initial balance
}

// Config holds all node configuration.
type Config struct {
	NodeID        string        `toml:"node_id"`
	DataDir       string        `toml:"data_dir"`
	RPCPort       int           `toml:"rpc_port"`
	RPCAuthToken  string        `toml:"rpc_auth_token"` // empty disables bearer auth
	BlockInterval duration      `toml:"block_interval"`
	MaxBlockTxs   int           `toml:"max_block_txs"` // 0 → 500
	KeystorePath  string        `toml:"keystore_path"` // sequencer key
	Sequencer     string        `toml:"sequencer"`     // expected sequencer pubkey hex; empty trusts the keystore
	Genesis       GenesisConfig `toml:"genesis"`
}

// duration lets TOML carry strings like "2s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Interval returns the block production interval.
func (c *Config) Interval() time.Duration { return c.BlockInterval.Duration }

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:        "node0",
		DataDir:       "./data",
		RPCPort:       8545,
		BlockInterval: duration{2 * time.Second},
		MaxBlockTxs:   500,
		KeystorePath:  "./data/sequencer.key",
		Genesis: GenesisConfig{
			ChainID: "freedaplay-dev",
			Alloc:   map[string]uint64{},
		},
	}
}

// Load reads the TOML file at path over the defaults, then applies FREEDA_*
// environment overrides. A .env file in the working directory is loaded
// first if present. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.NodeID, "FREEDA_NODE_ID")
	setStr(&cfg.DataDir, "FREEDA_DATA_DIR")
	setInt(&cfg.RPCPort, "FREEDA_RPC_PORT")
	setStr(&cfg.RPCAuthToken, "FREEDA_RPC_AUTH_TOKEN")
	setDuration(&cfg.BlockInterval, "FREEDA_BLOCK_INTERVAL")
	setInt(&cfg.MaxBlockTxs, "FREEDA_MAX_BLOCK_TXS")
	setStr(&cfg.KeystorePath, "FREEDA_KEYSTORE_PATH")
	setStr(&cfg.Sequencer, "FREEDA_SEQUENCER")
	setStr(&cfg.Genesis.ChainID, "FREEDA_CHAIN_ID")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []string
	if c.DataDir == "" {
		errs = append(errs, "data_dir is required")
	}
	if c.RPCPort <= 0 || c.RPCPort > 65535 {
		errs = append(errs, fmt.Sprintf("rpc_port %d out of range", c.RPCPort))
	}
	if c.BlockInterval.Duration <= 0 {
		errs = append(errs, "block_interval must be positive")
	}
	if c.MaxBlockTxs < 0 {
		errs = append(errs, "max_block_txs must not be negative")
	}
	if c.Genesis.ChainID == "" {
		errs = append(errs, "genesis.chain_id is required")
	}
	if len(errs) > 0 {
		return errors.New("invalid config: " + strings.Join(errs, "; "))
	}
	return nil
}

// Save writes cfg to path as TOML.
func Save(cfg *Config, path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	return f.Close()
}
