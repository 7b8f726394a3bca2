package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestNewEngineHolderDefaultsWithoutFile(t *testing.T) {
	holder, err := NewEngineHolder(Config{})
	require.NoError(t, err)

	cfg := holder.Get()
	require.Equal(t, int32(2), cfg.Currencies["INR"])
	require.Equal(t, int32(6), cfg.Currencies["USDT"])
	require.True(t, cfg.USDTINRRate.Equal(decimal.NewFromInt(83)))
	require.True(t, cfg.BreakdownRetention.Equal(decimal.RequireFromString("0.8")))
	require.True(t, cfg.BreakdownClawback.Equal(decimal.RequireFromString("0.5")))
	require.Equal(t, 10*time.Second, cfg.Scheduler.ItemTimeout)
	require.Equal(t, 3, cfg.DBRetryAttempts)
}

func TestNewEngineHolderReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yml")
	content := `currencies:
  INR: 2
  USDT: 6
  EUR: 2
fx:
  usdt_inr_rate: "84.5"
breakdown:
  retention_ratio: "0.75"
  clawback_ratio: "0.4"
scheduler:
  batch_size: 10
  item_timeout: 5s
  enabled_jobs: ["accrual"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	holder, err := NewEngineHolder(Config{EngineConfigPath: path})
	require.NoError(t, err)

	cfg := holder.Get()
	require.Equal(t, int32(2), cfg.Currencies["EUR"])
	require.True(t, cfg.USDTINRRate.Equal(decimal.RequireFromString("84.5")))
	require.True(t, cfg.BreakdownRetention.Equal(decimal.RequireFromString("0.75")))
	require.True(t, cfg.BreakdownClawback.Equal(decimal.RequireFromString("0.4")))
	require.Equal(t, 10, cfg.Scheduler.BatchSize)
	require.Equal(t, 5*time.Second, cfg.Scheduler.ItemTimeout)
	require.Equal(t, []string{"accrual"}, cfg.Scheduler.EnabledJobs)
}

func TestValidateEngineConfig(t *testing.T) {
	cfg := DefaultEngineConfig()
	require.NoError(t, ValidateEngineConfig(cfg))

	bad := DefaultEngineConfig()
	bad.BreakdownRetention = decimal.RequireFromString("1.2")
	require.Error(t, ValidateEngineConfig(bad))

	bad = DefaultEngineConfig()
	bad.USDTINRRate = decimal.Zero
	require.Error(t, ValidateEngineConfig(bad))

	bad = DefaultEngineConfig()
	bad.Currencies = map[string]int32{}
	require.Error(t, ValidateEngineConfig(bad))
}
