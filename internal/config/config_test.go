package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
alpaca:
  api_key_id: file-key
  secret_key: file-secret
trading:
  symbols: [" aapl", msft]
  benchmark: spy
  tick_interval: 60
fundamentals:
  aapl:
    trailing_eps: 6.43
    net_income: [97, 99]
    sector: Technology
`

func writeConfig(t *testing.T, body string) string {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(body), 0o600))
	return dir
}

func TestLoadConfig(t *testing.T) {
	t.Run("FileAndDefaults", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfig(t, sampleConfig))
		require.NoError(t, err)

		assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.Trading.Symbols)
		assert.Equal(t, "SPY", cfg.Trading.Benchmark)
		assert.Equal(t, time.Minute, cfg.Trading.Interval())
		assert.True(t, cfg.Trading.DryRun)
		assert.Equal(t, 70, cfg.Trading.MinConfidence)
		assert.Equal(t, SizingATR, cfg.Risk.Sizing)
		assert.Equal(t, 0.01, cfg.Risk.RiskPct)
		assert.Equal(t, DriverSQLite, cfg.Database.Driver)

		require.Contains(t, cfg.Fundamentals, "AAPL")
		f := cfg.Fundamentals["AAPL"]
		require.NotNil(t, f.TrailingEPS)
		assert.Equal(t, 6.43, *f.TrailingEPS)
		assert.Nil(t, f.ForwardEPS)
		assert.Equal(t, []float64{97, 99}, f.NetIncome)

		require.NoError(t, cfg.Validate())
	})

	t.Run("EnvironmentOverridesFile", func(t *testing.T) {
		t.Setenv("ALPACA_API_KEY_ID", "env-key")
		cfg, err := LoadConfig(writeConfig(t, sampleConfig))
		require.NoError(t, err)
		assert.Equal(t, "env-key", cfg.Alpaca.ApiKeyID)
	})

	t.Run("MissingFileUsesDefaults", func(t *testing.T) {
		cfg, err := LoadConfig(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, 300, cfg.Trading.BarLimit)
	})

	t.Run("MalformedFile", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "trading: [unclosed"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	bad := cfg
	bad.Trading.Symbols = nil
	bad.Trading.Strategy = "momentum"
	bad.Risk.RiskPct = 0
	bad.Database.Driver = "postgres"

	err = bad.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.Contains(t, err.Error(), "trading.symbols")
	assert.Contains(t, err.Error(), `unknown trading.strategy "momentum"`)
	assert.Contains(t, err.Error(), "risk.risk_pct")
	assert.Contains(t, err.Error(), `unknown database.driver "postgres"`)
}

func TestTradingLocation(t *testing.T) {
	assert.Equal(t, time.UTC, Trading{Timezone: "Not/AZone"}.Location())
	assert.Equal(t, "America/New_York", Trading{Timezone: "America/New_York"}.Location().String())
}
