// Package config defines the top-level configuration for the copy-trading
// bot and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYMIRROR_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Traders    []TraderConfig   `toml:"traders"`
	Monitor    MonitorConfig    `toml:"monitor"`
	Sizing     SizingConfig     `toml:"sizing"`
	Liquidity  LiquidityConfig  `toml:"liquidity"`
	Executor   ExecutorConfig   `toml:"executor"`
	Copy       CopyConfig       `toml:"copy"`
	Fees       FeesConfig       `toml:"fees"`
	Cashout    CashoutConfig    `toml:"cashout"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials for the follower account.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	FunderAddress    string `toml:"funder_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	DataHost      string `toml:"data_host"`
	GammaHost     string `toml:"gamma_host"`
	WsHost        string `toml:"ws_host"`
	RelayerHost   string `toml:"relayer_host"`
	RPCURL        string `toml:"rpc_url"`
	USDCContract  string `toml:"usdc_contract"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
}

// TraderConfig identifies one tracked trader whose fills are mirrored.
type TraderConfig struct {
	Address string `toml:"address"`
	Label   string `toml:"label"`
	// Lister is the address credited with the lister share of profit fees
	// for positions copied from this trader. Empty means no lister.
	Lister string `toml:"lister"`
}

// MonitorConfig holds trade-detection parameters.
type MonitorConfig struct {
	PollInterval duration `toml:"poll_interval"`
	Window       duration `toml:"window"`
	BatchSize    int      `toml:"batch_size"`
	SeenCapacity int      `toml:"seen_capacity"`
	WsEnabled    bool     `toml:"ws_enabled"`
}

// SizingConfig holds proportional position-sizing parameters.
type SizingConfig struct {
	Multiplier            float64 `toml:"multiplier"`
	MaxTradeUSD           float64 `toml:"max_trade_usd"`
	MinTradeUSD           float64 `toml:"min_trade_usd"`
	FallbackTraderBalance float64 `toml:"fallback_trader_balance"`
}

// LiquidityConfig holds order-book health gate parameters.
type LiquidityConfig struct {
	// MinHealth is the minimum acceptable book health: "critical", "low",
	// "medium", or "high".
	MinHealth string `toml:"min_health"`
}

// ExecutorConfig holds order-placement parameters.
type ExecutorConfig struct {
	RetryBudget int      `toml:"retry_budget"`
	RetryPause  duration `toml:"retry_pause"`
	MinOrderUSD float64  `toml:"min_order_usd"`
}

// CopyConfig holds per-account orchestration parameters.
type CopyConfig struct {
	BalanceTTL         duration `toml:"balance_ttl"`
	TakeProfitPct      float64  `toml:"take_profit_pct"`
	TakeProfitInterval duration `toml:"take_profit_interval"`
	PruneInterval      duration `toml:"prune_interval"`
}

// FeesConfig holds profit-fee distribution parameters.
type FeesConfig struct {
	Enabled      bool    `toml:"enabled"`
	ListerPct    float64 `toml:"lister_pct"`
	PlatformPct  float64 `toml:"platform_pct"`
	PlatformAddr string  `toml:"platform_addr"`
	DustUSD      float64 `toml:"dust_usd"`
}

// CashoutConfig holds automatic fund-sweep parameters.
type CashoutConfig struct {
	Enabled      bool     `toml:"enabled"`
	Interval     duration `toml:"interval"`
	ThresholdUSD float64  `toml:"threshold_usd"`
	ReserveUSD   float64  `toml:"reserve_usd"`
	Destination  string   `toml:"destination"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds copy-trade history archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
	Prefix        string   `toml:"prefix"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			DataHost:      "https://data-api.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			WsHost:        "wss://ws-live-data.polymarket.com",
			RelayerHost:   "https://relayer-v2.polymarket.com",
			RPCURL:        "https://polygon-rpc.com",
			USDCContract:  "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
			ChainID:       137,
			SignatureType: 2,
		},
		Monitor: MonitorConfig{
			PollInterval: duration{2 * time.Second},
			Window:       duration{5 * time.Minute},
			BatchSize:    5,
			SeenCapacity: 10_000,
			WsEnabled:    true,
		},
		Sizing: SizingConfig{
			Multiplier:            1.0,
			MaxTradeUSD:           100.0,
			MinTradeUSD:           1.0,
			FallbackTraderBalance: 100_000.0,
		},
		Liquidity: LiquidityConfig{
			MinHealth: "medium",
		},
		Executor: ExecutorConfig{
			RetryBudget: 3,
			RetryPause:  duration{500 * time.Millisecond},
			MinOrderUSD: 1.0,
		},
		Copy: CopyConfig{
			BalanceTTL:         duration{5 * time.Minute},
			TakeProfitPct:      0,
			TakeProfitInterval: duration{time.Minute},
			PruneInterval:      duration{15 * time.Minute},
		},
		Fees: FeesConfig{
			Enabled:     false,
			ListerPct:   0.05,
			PlatformPct: 0.05,
			DustUSD:     0.01,
		},
		Cashout: CashoutConfig{
			Enabled:      false,
			Interval:     duration{time.Hour},
			ThresholdUSD: 250.0,
			ReserveUSD:   50.0,
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "polymirror",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polymirror-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
			Prefix:        "copytrades",
		},
		Notify: NotifyConfig{
			Events: []string{"copy_executed", "position_closed", "fee_settled", "cashout", "error"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validHealthLevels enumerates the accepted values for Liquidity.MinHealth.
var validHealthLevels = map[string]bool{
	"critical": true,
	"low":      true,
	"medium":   true,
	"high":     true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, archive)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet. A credential source is mandatory for the trading mode.
	if strings.ToLower(c.Mode) == "trade" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode trade")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.DataHost == "" {
		errs = append(errs, "polymarket: data_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType != 1 && c.Polymarket.SignatureType != 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 1 (EOA) or 2 (Safe), got %d", c.Polymarket.SignatureType))
	}

	// Traders
	if len(c.Traders) == 0 {
		errs = append(errs, "traders: at least one tracked trader must be configured")
	}
	seen := make(map[string]bool, len(c.Traders))
	for i, t := range c.Traders {
		addr := strings.ToLower(strings.TrimSpace(t.Address))
		if addr == "" {
			errs = append(errs, fmt.Sprintf("traders[%d]: address must not be empty", i))
			continue
		}
		if !strings.HasPrefix(addr, "0x") || len(addr) != 42 {
			errs = append(errs, fmt.Sprintf("traders[%d]: %q does not look like an Ethereum address", i, t.Address))
		}
		if seen[addr] {
			errs = append(errs, fmt.Sprintf("traders[%d]: duplicate address %s", i, addr))
		}
		seen[addr] = true
	}

	// Monitor
	if c.Monitor.PollInterval.Duration <= 0 {
		errs = append(errs, "monitor: poll_interval must be positive")
	}
	if c.Monitor.Window.Duration <= 0 {
		errs = append(errs, "monitor: window must be positive")
	}
	if c.Monitor.BatchSize < 1 {
		errs = append(errs, "monitor: batch_size must be >= 1")
	}

	// Sizing
	if c.Sizing.Multiplier <= 0 {
		errs = append(errs, "sizing: multiplier must be > 0")
	}
	if c.Sizing.MaxTradeUSD <= 0 {
		errs = append(errs, "sizing: max_trade_usd must be > 0")
	}
	if c.Sizing.MinTradeUSD < 0 {
		errs = append(errs, "sizing: min_trade_usd must be >= 0")
	}

	// Liquidity
	if !validHealthLevels[strings.ToLower(c.Liquidity.MinHealth)] {
		errs = append(errs, fmt.Sprintf("liquidity: unknown min_health %q (valid: critical, low, medium, high)", c.Liquidity.MinHealth))
	}

	// Executor
	if c.Executor.RetryBudget < 1 {
		errs = append(errs, "executor: retry_budget must be >= 1")
	}
	if c.Executor.MinOrderUSD <= 0 {
		errs = append(errs, "executor: min_order_usd must be > 0")
	}

	// Copy
	if c.Copy.TakeProfitPct < 0 {
		errs = append(errs, "copy: take_profit_pct must be >= 0")
	}
	if c.Copy.TakeProfitPct > 0 && c.Copy.TakeProfitInterval.Duration <= 0 {
		errs = append(errs, "copy: take_profit_interval must be positive when take_profit_pct is set")
	}

	// Fees
	if c.Fees.Enabled {
		if c.Fees.ListerPct < 0 || c.Fees.PlatformPct < 0 {
			errs = append(errs, "fees: lister_pct and platform_pct must be >= 0")
		}
		if c.Fees.ListerPct+c.Fees.PlatformPct > 1 {
			errs = append(errs, "fees: lister_pct + platform_pct must not exceed 1")
		}
		if c.Fees.PlatformPct > 0 && c.Fees.PlatformAddr == "" {
			errs = append(errs, "fees: platform_addr is required when platform_pct > 0")
		}
	}

	// Cashout
	if c.Cashout.Enabled {
		if c.Cashout.Interval.Duration <= 0 {
			errs = append(errs, "cashout: interval must be positive when enabled")
		}
		if c.Cashout.ThresholdUSD <= 0 {
			errs = append(errs, "cashout: threshold_usd must be > 0 when enabled")
		}
		if c.Cashout.ReserveUSD < 0 {
			errs = append(errs, "cashout: reserve_usd must be >= 0")
		}
		if c.Cashout.Destination == "" {
			errs = append(errs, "cashout: destination address is required when enabled")
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 parameters only matter when archival is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// TrackedAddresses returns the lowercase addresses of all configured traders.
func (c *Config) TrackedAddresses() []string {
	out := make([]string, 0, len(c.Traders))
	for _, t := range c.Traders {
		out = append(out, strings.ToLower(strings.TrimSpace(t.Address)))
	}
	return out
}

// ListerFor returns the lister address configured for a tracked trader, or
// empty when none is set. The lookup is case-insensitive.
func (c *Config) ListerFor(trader string) string {
	trader = strings.ToLower(strings.TrimSpace(trader))
	for _, t := range c.Traders {
		if strings.ToLower(strings.TrimSpace(t.Address)) == trader {
			return t.Lister
		}
	}
	return ""
}
