package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// valid returns a Config that passes Validate, built from the defaults plus
// the fields Defaults leaves empty on purpose (secrets and wallets).
func valid() Config {
	cfg := Defaults()
	cfg.Wallet.Address = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	cfg.Wallet.WatchedAddress = "4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R"
	cfg.Coinvera.ApiKey = "test-key"
	return cfg
}

func TestValidateDefaultsPlusSecrets(t *testing.T) {
	cfg := valid()
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := valid()
	cfg.Mode = "turbo"
	cfg.Wallet.Address = ""
	cfg.Trade.Mode = "YOLO"
	cfg.Trade.SlippagePct = -1
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "turbo"`)
	assert.Contains(t, err.Error(), "wallet: address must not be empty")
	assert.Contains(t, err.Error(), "trade: mode must be EXACT or SAFE")
	assert.Contains(t, err.Error(), "trade: slippage_pct must be >= 0")
	assert.Contains(t, err.Error(), "redis: addr must not be empty")
}

func TestValidateWatchedWalletOnlyRequiredForMirror(t *testing.T) {
	cfg := valid()
	cfg.Wallet.WatchedAddress = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watched_address is required for mirror mode")

	cfg.Mode = "liquidate"
	assert.NoError(t, cfg.Validate())
}

func TestValidateSafeModeRequiresExitParams(t *testing.T) {
	cfg := valid()
	cfg.Trade.Mode = "SAFE"
	cfg.Trade.TakeProfitPct = 0
	cfg.Trade.StopLossPct = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "take_profit_pct must be > 0")
	assert.Contains(t, err.Error(), "stop_loss_pct must be > 0")

	// EXACT mode does not need exit parameters.
	cfg.Trade.Mode = "EXACT"
	assert.NoError(t, cfg.Validate())
}

func TestValidateTrailingNeedsDistance(t *testing.T) {
	cfg := valid()
	cfg.Trade.TrailingEnabled = true
	cfg.Trade.TrailingDistancePct = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailing_distance_pct must be > 0")

	cfg.Trade.TrailingDistancePct = 10
	assert.NoError(t, cfg.Validate())
}

func TestValidateArchiveOnlyCheckedWhenEnabled(t *testing.T) {
	cfg := valid()
	cfg.Archive.Enabled = false
	cfg.Archive.Bucket = ""
	assert.NoError(t, cfg.Validate())

	cfg.Archive.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive: bucket must not be empty")
}

func TestValidateDSNSkipsHostChecks(t *testing.T) {
	cfg := valid()
	cfg.Postgres.Host = ""
	cfg.Postgres.Database = ""
	err := cfg.Validate()
	require.Error(t, err)

	cfg.Postgres.DSN = "postgres://u:p@db:5432/mirrorbot"
	assert.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "liquidate"

[wallet]
address = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"

[coinvera]
api_key = "file-key"

[trade]
mode = "EXACT"
poll_interval = "5s"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "liquidate", cfg.Mode)
	assert.Equal(t, "EXACT", cfg.Trade.Mode)
	assert.Equal(t, 5*time.Second, cfg.Trade.PollInterval.Duration)
	// Untouched fields keep their defaults.
	assert.Equal(t, "https://api.coinvera.io", cfg.Coinvera.Host)
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestLoadEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[coinvera]
api_key = "file-key"
`), 0o600))

	t.Setenv("MIRROR_COINVERA_API_KEY", "env-key")
	t.Setenv("MIRROR_TRADE_BUY_AMOUNT_SOL", "0.25")
	t.Setenv("MIRROR_TRADE_MULTI_BUY", "true")
	t.Setenv("MIRROR_TRADE_CONFIRM_TIMEOUT", "45s")
	t.Setenv("MIRROR_NOTIFY_EVENTS", "position_opened, error")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Coinvera.ApiKey)
	assert.Equal(t, 0.25, cfg.Trade.BuyAmountSol)
	assert.True(t, cfg.Trade.MultiBuy)
	assert.Equal(t, 45*time.Second, cfg.Trade.ConfirmTimeout.Duration)
	assert.Equal(t, []string{"position_opened", "error"}, cfg.Notify.Events)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestDurationRoundTrip(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration)

	out, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(out))
}
