package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HamzaZF/shieldpool/internal/store"
)

func TestLoadConfigCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "poold.yaml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	require.NoError(t, cfg.Validate())

	_, err = os.Stat(path)
	require.NoError(t, err)

	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadConfigYAMLAndJSON(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "poold.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
owner: "0x00000000000000000000000000000000000000bb"
mixing_period: 90m
mix_size: 4
tokens:
  - "0x0000000000000000000000000000000000000001"
  - "0x0000000000000000000000000000000000000002"
genesis_balances:
  - account: "0x00000000000000000000000000000000000000a1"
    token: "0x0000000000000000000000000000000000000001"
    amount: "1000000"
`), 0644))
	cfg, err := LoadConfig(yamlPath)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	owner, err := cfg.OwnerAddress()
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xbb"), owner)
	params, err := cfg.Params()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, params.MixingPeriod)
	assert.Equal(t, uint32(4), params.MixSize)
	tokens, err := cfg.TokenIDs()
	require.NoError(t, err)
	assert.Len(t, tokens, 2)
	genesis, err := cfg.genesis()
	require.NoError(t, err)
	require.Len(t, genesis, 1)
	assert.Equal(t, uint64(1000000), genesis[0].amount.Uint64())
	// Fields absent from the file keep their defaults.
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)

	jsonPath := filepath.Join(dir, "poold.json")
	require.NoError(t, SaveConfig(cfg, jsonPath))
	fromJSON, err := LoadConfig(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, cfg, fromJSON)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad owner", func(c *Config) { c.Owner = "alice" }},
		{"bad period", func(c *Config) { c.MixingPeriod = "soon" }},
		{"zero period", func(c *Config) { c.MixingPeriod = "0s" }},
		{"zero size", func(c *Config) { c.MixSize = 0 }},
		{"bad token", func(c *Config) { c.Tokens = []string{"usdc"} }},
		{"bad custody", func(c *Config) { c.Custody = "" }},
		{"bad genesis amount", func(c *Config) {
			c.GenesisBalances = []GenesisBalance{{Account: c.Owner, Token: c.Tokens[0], Amount: "-1"}}
		}},
		{"bad verifier", func(c *Config) { c.Verifier = "plonk" }},
		{"no listen addr", func(c *Config) { c.ListenAddr = "" }},
		{"no data dir", func(c *Config) { c.DataDir = "" }},
		{"negative rate", func(c *Config) { c.RateLimit = -1 }},
		{"no shutdown timeout", func(c *Config) { c.ShutdownTimeoutSeconds = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestOpenPoolRejectsInvalidConfig(t *testing.T) {
	logger, err := NewLogger("error", "", "")
	require.NoError(t, err)
	defer logger.Close()

	for name, mutate := range map[string]func(*Config){
		"owner":   func(c *Config) { c.Owner = "alice" },
		"params":  func(c *Config) { c.MixingPeriod = "soon" },
		"tokens":  func(c *Config) { c.Tokens = []string{"usdc"} },
		"genesis": func(c *Config) { c.GenesisBalances = []GenesisBalance{{Account: c.Owner, Token: c.Tokens[0], Amount: "-1"}} },
	} {
		t.Run(name, func(t *testing.T) {
			db, err := store.Open(filepath.Join(t.TempDir(), "pool.db"), false)
			require.NoError(t, err)
			defer db.Close()

			cfg := DefaultConfig()
			mutate(cfg)
			p, err := openPool(context.Background(), cfg, logger, db)
			require.Error(t, err)
			assert.Nil(t, p)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}
