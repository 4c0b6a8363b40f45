// config.go - Configuration management for the pool daemon
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"sigs.k8s.io/yaml"

	"github.com/HamzaZF/shieldpool/internal/pool"
)

// GenesisBalance seeds the simulated token bank on first start.
type GenesisBalance struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

// Config represents the daemon configuration. Files may be YAML or JSON; both decode through the
// json tags.
type Config struct {
	// Pool settings
	Owner        string   `json:"owner"`
	MixingPeriod string   `json:"mixing_period"`
	MixSize      uint32   `json:"mix_size"`
	Tokens       []string `json:"tokens"`

	// Simulated token bank
	Custody         string           `json:"custody"`
	GenesisBalances []GenesisBalance `json:"genesis_balances,omitempty"`

	// Proofs: "none" accepts every Unshield proof, "groth16" checks them against KeyDir.
	Verifier string `json:"verifier"`
	KeyDir   string `json:"key_dir"`

	// Server
	ListenAddr             string  `json:"listen_addr"`
	RateLimit              float64 `json:"rate_limit"`
	RateBurst              int     `json:"rate_burst"`
	ShutdownTimeoutSeconds int     `json:"shutdown_timeout_seconds"`

	// Storage
	DataDir    string `json:"data_dir"`
	SyncWrites bool   `json:"sync_writes"`

	// Logging
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`

	// Security
	EnableAudit  bool   `json:"enable_audit"`
	AuditLogPath string `json:"audit_log_path"`

	// Tracing: OTLP/HTTP endpoint URL, empty to disable.
	TracingEndpoint string `json:"tracing_endpoint"`

	Version string `json:"version"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Owner:                  "0x00000000000000000000000000000000000000aa",
		MixingPeriod:           "1h",
		MixSize:                10,
		Tokens:                 []string{"0x0000000000000000000000000000000000000001"},
		Custody:                "0x00000000000000000000000000000000000000ff",
		Verifier:               "none",
		KeyDir:                 "keys",
		ListenAddr:             "127.0.0.1:8080",
		RateLimit:              50,
		RateBurst:              100,
		ShutdownTimeoutSeconds: 10,
		DataDir:                "data",
		LogLevel:               "info",
		LogFile:                "poold.log",
		EnableAudit:            true,
		AuditLogPath:           "audit.log",
		Version:                version,
	}
}

// LoadConfig loads configuration from file or creates default
func LoadConfig(configPath string) (*Config, error) {
	raw, err := os.ReadFile(configPath)
	if errors.Is(err, os.ErrNotExist) {
		config := DefaultConfig()
		if err := SaveConfig(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(raw, config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	return config, nil
}

// SaveConfig saves configuration to file, as YAML for .yaml/.yml paths and JSON otherwise.
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		out []byte
		err error
	)
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		out, err = yaml.Marshal(config)
	default:
		out, err = json.MarshalIndent(config, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(configPath, out, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, err := c.OwnerAddress(); err != nil {
		return err
	}
	if _, err := c.Params(); err != nil {
		return err
	}
	if _, err := c.TokenIDs(); err != nil {
		return err
	}
	if !common.IsHexAddress(c.Custody) {
		return fmt.Errorf("custody %q is not an address", c.Custody)
	}
	if _, err := c.genesis(); err != nil {
		return err
	}
	switch c.Verifier {
	case "none", "groth16":
	default:
		return fmt.Errorf("verifier must be none or groth16, got %q", c.Verifier)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must be set")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if c.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("shutdown_timeout_seconds must be positive")
	}
	return nil
}

// OwnerAddress returns the genesis owner.
func (c *Config) OwnerAddress() (common.Address, error) {
	if !common.IsHexAddress(c.Owner) {
		return common.Address{}, fmt.Errorf("owner %q is not an address", c.Owner)
	}
	return common.HexToAddress(c.Owner), nil
}

// Params returns the genesis mixing parameters.
func (c *Config) Params() (pool.MixingParameters, error) {
	period, err := time.ParseDuration(c.MixingPeriod)
	if err != nil {
		return pool.MixingParameters{}, fmt.Errorf("mixing_period: %w", err)
	}
	if period <= 0 || c.MixSize == 0 {
		return pool.MixingParameters{}, fmt.Errorf("mixing_period and mix_size must be positive")
	}
	return pool.MixingParameters{MixingPeriod: period, MixSize: c.MixSize}, nil
}

// TokenIDs returns the genesis token allow-list.
func (c *Config) TokenIDs() ([]pool.TokenID, error) {
	out := make([]pool.TokenID, 0, len(c.Tokens))
	for _, t := range c.Tokens {
		if !common.IsHexAddress(t) {
			return nil, fmt.Errorf("token %q is not an address", t)
		}
		out = append(out, common.HexToAddress(t))
	}
	return out, nil
}

type genesisEntry struct {
	account common.Address
	token   common.Address
	amount  *uint256.Int
}

// genesis parses the bank's genesis balances.
func (c *Config) genesis() ([]genesisEntry, error) {
	out := make([]genesisEntry, 0, len(c.GenesisBalances))
	for i, g := range c.GenesisBalances {
		if !common.IsHexAddress(g.Account) || !common.IsHexAddress(g.Token) {
			return nil, fmt.Errorf("genesis_balances[%d]: account and token must be addresses", i)
		}
		amount, err := uint256.FromDecimal(g.Amount)
		if err != nil {
			return nil, fmt.Errorf("genesis_balances[%d]: amount: %w", i, err)
		}
		out = append(out, genesisEntry{
			account: common.HexToAddress(g.Account),
			token:   common.HexToAddress(g.Token),
			amount:  amount,
		})
	}
	return out, nil
}
