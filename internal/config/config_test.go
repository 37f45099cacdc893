package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "backtest"
	cfg.Fitter.MinStrikes = 3
	cfg.Scheduler.ExpiryCutoffHour = 30

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "min_strikes")
	assert.Contains(t, err.Error(), "expiry_cutoff_hour")
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "ingest"

[feed]
roots = ["SPXW", "QQQ"]

[scheduler]
interval = "2s"

[solver]
risk_free_rate = 0.04
`), 0o644))

	t.Setenv("OPTFLOW_SOLVER_RISK_FREE_RATE", "0.03")
	t.Setenv("OPTFLOW_REDIS_ADDR", "redis.internal:6380")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ingest", cfg.Mode)
	assert.Equal(t, []string{"SPXW", "QQQ"}, cfg.Feed.Roots)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.Interval.Duration)
	// Env beats file, file beats defaults.
	assert.InDelta(t, 0.03, cfg.Solver.RiskFreeRate, 1e-12)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	// Untouched sections keep their defaults.
	assert.InDelta(t, 0.15, cfg.Buffer.MaxRelSpread, 1e-12)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Database.Password = "hunter2"
	cfg.Notify.TelegramToken = "123:abc"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Database.Password)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	// The original is untouched.
	assert.Equal(t, "hunter2", cfg.Database.Password)
}
