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
// built-in defaults, applies MIRROR_* environment variable overrides, and
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

// applyEnvOverrides reads well-known MIRROR_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.Address, "MIRROR_WALLET_ADDRESS")
	setStr(&cfg.Wallet.WatchedAddress, "MIRROR_WALLET_WATCHED_ADDRESS")

	// ── Coinvera ──
	setStr(&cfg.Coinvera.Host, "MIRROR_COINVERA_HOST")
	setStr(&cfg.Coinvera.WsHost, "MIRROR_COINVERA_WS_HOST")
	setStr(&cfg.Coinvera.ApiKey, "MIRROR_COINVERA_API_KEY")

	// ── Solana ──
	setStr(&cfg.Solana.RpcURL, "MIRROR_SOLANA_RPC_URL")

	// ── Executor ──
	setStr(&cfg.Executor.TradingHost, "MIRROR_EXECUTOR_TRADING_HOST")
	setStr(&cfg.Executor.SendMode, "MIRROR_EXECUTOR_SEND_MODE")

	// ── Trade ──
	setStr(&cfg.Trade.Mode, "MIRROR_TRADE_MODE")
	setFloat64(&cfg.Trade.BuyAmountSol, "MIRROR_TRADE_BUY_AMOUNT_SOL")
	setFloat64(&cfg.Trade.TakeProfitPct, "MIRROR_TRADE_TAKE_PROFIT_PCT")
	setFloat64(&cfg.Trade.StopLossPct, "MIRROR_TRADE_STOP_LOSS_PCT")
	setBool(&cfg.Trade.TrailingEnabled, "MIRROR_TRADE_TRAILING_ENABLED")
	setFloat64(&cfg.Trade.TrailingDistancePct, "MIRROR_TRADE_TRAILING_DISTANCE_PCT")
	setFloat64(&cfg.Trade.TrailingActivationPct, "MIRROR_TRADE_TRAILING_ACTIVATION_PCT")
	setFloat64(&cfg.Trade.SlippagePct, "MIRROR_TRADE_SLIPPAGE_PCT")
	setFloat64(&cfg.Trade.PriorityFeeSol, "MIRROR_TRADE_PRIORITY_FEE_SOL")
	setStr(&cfg.Trade.VenueOverride, "MIRROR_TRADE_VENUE_OVERRIDE")
	setBool(&cfg.Trade.MultiBuy, "MIRROR_TRADE_MULTI_BUY")
	setDuration(&cfg.Trade.PollInterval, "MIRROR_TRADE_POLL_INTERVAL")
	setDuration(&cfg.Trade.ConfirmTimeout, "MIRROR_TRADE_CONFIRM_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MIRROR_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MIRROR_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MIRROR_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MIRROR_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MIRROR_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MIRROR_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MIRROR_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MIRROR_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MIRROR_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MIRROR_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MIRROR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MIRROR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MIRROR_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MIRROR_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MIRROR_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MIRROR_REDIS_TLS_ENABLED")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "MIRROR_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "MIRROR_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Endpoint, "MIRROR_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "MIRROR_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "MIRROR_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "MIRROR_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "MIRROR_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.UseSSL, "MIRROR_ARCHIVE_USE_SSL")
	setBool(&cfg.Archive.ForcePathStyle, "MIRROR_ARCHIVE_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "MIRROR_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "MIRROR_SERVER_PORT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MIRROR_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MIRROR_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MIRROR_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MIRROR_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MIRROR_MODE")
	setStr(&cfg.LogLevel, "MIRROR_LOG_LEVEL")
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
