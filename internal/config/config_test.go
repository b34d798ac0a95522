package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xabc123"
	cfg.Traders = []TraderConfig{
		{Address: "0x1111111111111111111111111111111111111111", Label: "whale"},
	}
	return cfg
}

func TestValidateAcceptsMinimalTradeConfig(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsMissingTraders(t *testing.T) {
	cfg := validConfig()
	cfg.Traders = nil

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one tracked trader")
}

func TestValidateRejectsMissingWalletInTradeMode(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.PrivateKey = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet")
}

func TestValidateAllowsMonitorModeWithoutWallet(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "monitor"
	cfg.Wallet.PrivateKey = ""

	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsMultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "bogus"
	cfg.Sizing.Multiplier = 0
	cfg.Liquidity.MinHealth = "extreme"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "multiplier")
	assert.Contains(t, err.Error(), "min_health")
}

func TestValidateRejectsDuplicateTraders(t *testing.T) {
	cfg := validConfig()
	addr := cfg.Traders[0].Address
	cfg.Traders = append(cfg.Traders, TraderConfig{Address: addr})

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate address")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
mode = "monitor"

[monitor]
poll_interval = "10s"

[[traders]]
address = "0x2222222222222222222222222222222222222222"
lister = "0x3333333333333333333333333333333333333333"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 10*time.Second, cfg.Monitor.PollInterval.Duration)
	// Untouched fields retain defaults.
	assert.Equal(t, "https://clob.polymarket.com", cfg.Polymarket.ClobHost)
	assert.Equal(t, 3, cfg.Executor.RetryBudget)
}

func TestEnvOverridesBeatFileValues(t *testing.T) {
	t.Setenv("POLYMIRROR_SIZING_MAX_TRADE_USD", "250")
	t.Setenv("POLYMIRROR_TRADERS", "0x4444444444444444444444444444444444444444, 0x5555555555555555555555555555555555555555")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, 250.0, cfg.Sizing.MaxTradeUSD)
	require.Len(t, cfg.Traders, 2)
	assert.Equal(t, "0x4444444444444444444444444444444444444444", cfg.Traders[0].Address)
}

func TestListerForIsCaseInsensitive(t *testing.T) {
	cfg := validConfig()
	cfg.Traders[0].Lister = "0x9999999999999999999999999999999999999999"

	got := cfg.ListerFor("0X1111111111111111111111111111111111111111")
	assert.Equal(t, cfg.Traders[0].Lister, got)
	assert.Empty(t, cfg.ListerFor("0xdead"))
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "hunter2"
	cfg.Redis.Password = "s3cret"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	// Original untouched.
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
}
