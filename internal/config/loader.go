package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYMIRROR_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYMIRROR_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "POLYMIRROR_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.FunderAddress, "POLYMIRROR_WALLET_FUNDER_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYMIRROR_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYMIRROR_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYMIRROR_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.DataHost, "POLYMIRROR_POLYMARKET_DATA_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYMIRROR_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLYMIRROR_POLYMARKET_WS_HOST")
	setStr(&cfg.Polymarket.RelayerHost, "POLYMIRROR_POLYMARKET_RELAYER_HOST")
	setStr(&cfg.Polymarket.RPCURL, "POLYMIRROR_POLYMARKET_RPC_URL")
	setStr(&cfg.Polymarket.USDCContract, "POLYMIRROR_POLYMARKET_USDC_CONTRACT")
	setInt(&cfg.Polymarket.ChainID, "POLYMIRROR_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "POLYMIRROR_POLYMARKET_SIGNATURE_TYPE")

	// ── Traders ── comma-separated addresses; replaces the TOML list entirely.
	if v := os.Getenv("POLYMIRROR_TRADERS"); v != "" {
		var traders []TraderConfig
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				traders = append(traders, TraderConfig{Address: p})
			}
		}
		if len(traders) > 0 {
			cfg.Traders = traders
		}
	}

	// ── Monitor ──
	setDuration(&cfg.Monitor.PollInterval, "POLYMIRROR_MONITOR_POLL_INTERVAL")
	setDuration(&cfg.Monitor.Window, "POLYMIRROR_MONITOR_WINDOW")
	setInt(&cfg.Monitor.BatchSize, "POLYMIRROR_MONITOR_BATCH_SIZE")
	setInt(&cfg.Monitor.SeenCapacity, "POLYMIRROR_MONITOR_SEEN_CAPACITY")
	setBool(&cfg.Monitor.WsEnabled, "POLYMIRROR_MONITOR_WS_ENABLED")

	// ── Sizing ──
	setFloat64(&cfg.Sizing.Multiplier, "POLYMIRROR_SIZING_MULTIPLIER")
	setFloat64(&cfg.Sizing.MaxTradeUSD, "POLYMIRROR_SIZING_MAX_TRADE_USD")
	setFloat64(&cfg.Sizing.MinTradeUSD, "POLYMIRROR_SIZING_MIN_TRADE_USD")
	setFloat64(&cfg.Sizing.FallbackTraderBalance, "POLYMIRROR_SIZING_FALLBACK_TRADER_BALANCE")

	// ── Liquidity ──
	setStr(&cfg.Liquidity.MinHealth, "POLYMIRROR_LIQUIDITY_MIN_HEALTH")

	// ── Executor ──
	setInt(&cfg.Executor.RetryBudget, "POLYMIRROR_EXECUTOR_RETRY_BUDGET")
	setDuration(&cfg.Executor.RetryPause, "POLYMIRROR_EXECUTOR_RETRY_PAUSE")
	setFloat64(&cfg.Executor.MinOrderUSD, "POLYMIRROR_EXECUTOR_MIN_ORDER_USD")

	// ── Copy ──
	setDuration(&cfg.Copy.BalanceTTL, "POLYMIRROR_COPY_BALANCE_TTL")
	setFloat64(&cfg.Copy.TakeProfitPct, "POLYMIRROR_COPY_TAKE_PROFIT_PCT")
	setDuration(&cfg.Copy.TakeProfitInterval, "POLYMIRROR_COPY_TAKE_PROFIT_INTERVAL")
	setDuration(&cfg.Copy.PruneInterval, "POLYMIRROR_COPY_PRUNE_INTERVAL")

	// ── Fees ──
	setBool(&cfg.Fees.Enabled, "POLYMIRROR_FEES_ENABLED")
	setFloat64(&cfg.Fees.ListerPct, "POLYMIRROR_FEES_LISTER_PCT")
	setFloat64(&cfg.Fees.PlatformPct, "POLYMIRROR_FEES_PLATFORM_PCT")
	setStr(&cfg.Fees.PlatformAddr, "POLYMIRROR_FEES_PLATFORM_ADDR")
	setFloat64(&cfg.Fees.DustUSD, "POLYMIRROR_FEES_DUST_USD")

	// ── Cashout ──
	setBool(&cfg.Cashout.Enabled, "POLYMIRROR_CASHOUT_ENABLED")
	setDuration(&cfg.Cashout.Interval, "POLYMIRROR_CASHOUT_INTERVAL")
	setFloat64(&cfg.Cashout.ThresholdUSD, "POLYMIRROR_CASHOUT_THRESHOLD_USD")
	setFloat64(&cfg.Cashout.ReserveUSD, "POLYMIRROR_CASHOUT_RESERVE_USD")
	setStr(&cfg.Cashout.Destination, "POLYMIRROR_CASHOUT_DESTINATION")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYMIRROR_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYMIRROR_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYMIRROR_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYMIRROR_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYMIRROR_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYMIRROR_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYMIRROR_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYMIRROR_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYMIRROR_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYMIRROR_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYMIRROR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYMIRROR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYMIRROR_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYMIRROR_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYMIRROR_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYMIRROR_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POLYMIRROR_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYMIRROR_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYMIRROR_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYMIRROR_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYMIRROR_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYMIRROR_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYMIRROR_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "POLYMIRROR_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "POLYMIRROR_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "POLYMIRROR_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Prefix, "POLYMIRROR_ARCHIVE_PREFIX")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYMIRROR_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYMIRROR_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYMIRROR_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYMIRROR_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYMIRROR_MODE")
	setStr(&cfg.LogLevel, "POLYMIRROR_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
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

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
