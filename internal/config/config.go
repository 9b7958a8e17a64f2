// Package config defines the top-level configuration for the mirror daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by MIRROR_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Coinvera CoinveraConfig `toml:"coinvera"`
	Solana   SolanaConfig   `toml:"solana"`
	Executor ExecutorConfig `toml:"executor"`
	Trade    TradeConfig    `toml:"trade"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig identifies our wallet and the watched wallet.
type WalletConfig struct {
	Address        string `toml:"address"`
	WatchedAddress string `toml:"watched_address"`
}

// CoinveraConfig holds the price oracle and trade feed endpoints. The same
// API key authenticates both the HTTP price API and the trade subscription
// websocket.
type CoinveraConfig struct {
	Host   string `toml:"host"`
	WsHost string `toml:"ws_host"`
	ApiKey string `toml:"api_key"`
}

// SolanaConfig holds the RPC endpoint used for token balance queries.
type SolanaConfig struct {
	RpcURL string `toml:"rpc_url"`
}

// ExecutorConfig holds the execution service endpoint.
type ExecutorConfig struct {
	TradingHost string `toml:"trading_host"`
	SendMode    string `toml:"send_mode"` // broadcast path hint, e.g. "jito"
}

// TradeConfig holds the mirroring and exit parameters.
type TradeConfig struct {
	Mode                  string   `toml:"mode"` // "EXACT" or "SAFE"
	BuyAmountSol          float64  `toml:"buy_amount_sol"`
	TakeProfitPct         float64  `toml:"take_profit_pct"`
	StopLossPct           float64  `toml:"stop_loss_pct"`
	TrailingEnabled       bool     `toml:"trailing_enabled"`
	TrailingDistancePct   float64  `toml:"trailing_distance_pct"`
	TrailingActivationPct float64  `toml:"trailing_activation_pct"`
	SlippagePct           float64  `toml:"slippage_pct"`
	PriorityFeeSol        float64  `toml:"priority_fee_sol"`
	VenueOverride         string   `toml:"venue_override"` // "none" lets the resolver decide
	MultiBuy              bool     `toml:"multi_buy"`
	PollInterval          duration `toml:"poll_interval"`
	ConfirmTimeout        duration `toml:"confirm_timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters for the position
// repository.
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

// ArchiveConfig controls the closed-position S3 archiver.
type ArchiveConfig struct {
	Enabled        bool   `toml:"enabled"`
	RetentionDays  int    `toml:"retention_days"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the operator status API parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "30s", "5m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings.
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
func Defaults() Config {
	return Config{
		Coinvera: CoinveraConfig{
			Host:   "https://api.coinvera.io",
			WsHost: "wss://api.coinvera.io",
		},
		Solana: SolanaConfig{
			RpcURL: "https://api.mainnet-beta.solana.com",
		},
		Executor: ExecutorConfig{
			TradingHost: "https://api.solanaportal.io",
			SendMode:    "jito",
		},
		Trade: TradeConfig{
			Mode:                  "SAFE",
			BuyAmountSol:          0.05,
			TakeProfitPct:         20,
			StopLossPct:           10,
			TrailingEnabled:       false,
			TrailingDistancePct:   0,
			TrailingActivationPct: 0,
			SlippagePct:           10,
			PriorityFeeSol:        0.0005,
			VenueOverride:         "none",
			MultiBuy:              false,
			PollInterval:          duration{15 * time.Second},
			ConfirmTimeout:        duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "mirrorbot",
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
		Archive: ArchiveConfig{
			Enabled:        false,
			RetentionDays:  90,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "mirrorbot-history",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "sell_failed", "error"},
		},
		Mode:     "mirror",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"mirror":    true,
	"liquidate": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validTradeModes enumerates the accepted values for Trade.Mode.
var validTradeModes = map[string]bool{
	"EXACT": true,
	"SAFE":  true,
}

// validVenueOverrides enumerates the accepted values for Trade.VenueOverride.
// "none" means the hint resolver decides.
var validVenueOverrides = map[string]bool{
	"none":     true,
	"auto":     true,
	"pumpfun":  true,
	"meteora":  true,
	"raydium":  true,
	"moonshot": true,
	"jupiter":  true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: mirror, liquidate)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet
	if c.Wallet.Address == "" {
		errs = append(errs, "wallet: address must not be empty")
	}
	if strings.ToLower(c.Mode) == "mirror" && c.Wallet.WatchedAddress == "" {
		errs = append(errs, "wallet: watched_address is required for mirror mode")
	}

	// Coinvera
	if c.Coinvera.Host == "" {
		errs = append(errs, "coinvera: host must not be empty")
	}
	if c.Coinvera.WsHost == "" {
		errs = append(errs, "coinvera: ws_host must not be empty")
	}
	if c.Coinvera.ApiKey == "" {
		errs = append(errs, "coinvera: api_key must not be empty")
	}

	// Solana
	if c.Solana.RpcURL == "" {
		errs = append(errs, "solana: rpc_url must not be empty")
	}

	// Executor
	if c.Executor.TradingHost == "" {
		errs = append(errs, "executor: trading_host must not be empty")
	}

	// Trade
	if !validTradeModes[c.Trade.Mode] {
		errs = append(errs, fmt.Sprintf("trade: mode must be EXACT or SAFE, got %q", c.Trade.Mode))
	}
	if c.Trade.Mode == "SAFE" {
		if c.Trade.BuyAmountSol <= 0 {
			errs = append(errs, "trade: buy_amount_sol must be > 0 in SAFE mode")
		}
		if c.Trade.TakeProfitPct <= 0 {
			errs = append(errs, "trade: take_profit_pct must be > 0 in SAFE mode")
		}
		if c.Trade.StopLossPct <= 0 {
			errs = append(errs, "trade: stop_loss_pct must be > 0 in SAFE mode")
		}
	}
	if c.Trade.TrailingEnabled && c.Trade.TrailingDistancePct <= 0 {
		errs = append(errs, "trade: trailing_distance_pct must be > 0 when trailing is enabled")
	}
	if c.Trade.SlippagePct < 0 {
		errs = append(errs, "trade: slippage_pct must be >= 0")
	}
	if c.Trade.PriorityFeeSol < 0 {
		errs = append(errs, "trade: priority_fee_sol must be >= 0")
	}
	if !validVenueOverrides[strings.ToLower(c.Trade.VenueOverride)] {
		errs = append(errs, fmt.Sprintf("trade: unknown venue_override %q", c.Trade.VenueOverride))
	}
	if c.Trade.PollInterval.Duration <= 0 {
		errs = append(errs, "trade: poll_interval must be positive")
	}
	if c.Trade.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "trade: confirm_timeout must be positive")
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

	// Archive
	if c.Archive.Enabled {
		if c.Archive.Endpoint == "" {
			errs = append(errs, "archive: endpoint must not be empty when enabled")
		}
		if c.Archive.Bucket == "" {
			errs = append(errs, "archive: bucket must not be empty when enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1 when enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
