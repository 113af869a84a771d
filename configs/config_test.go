package configs_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avatarctic/ratelimit-planes/configs"
)

func TestLoadDataPlane_Defaults(t *testing.T) {
	cfg, err := configs.LoadDataPlane()
	require.NoError(t, err)

	assert.Equal(t, "3001", cfg.Server.Port)
	assert.Equal(t, "http://localhost:3000", cfg.ControlPlane.URL)
	assert.Equal(t, 30*time.Second, cfg.ControlPlane.SyncInterval)
	assert.Equal(t, 5*time.Second, cfg.ControlPlane.FetchTimeout)
	assert.Equal(t, 100, cfg.Limits.DefaultLimit)
	assert.Equal(t, 60, cfg.Limits.DefaultWindowSeconds)
	assert.Equal(t, configs.StrategyFixedWindow, cfg.Limits.Strategy)
	assert.False(t, cfg.Channel.Enabled)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadDataPlane_Overrides(t *testing.T) {
	t.Setenv("CONTROL_PLANE_URL", "http://cp.internal:9000/")
	t.Setenv("POLICY_SYNC_INTERVAL", "10s")
	t.Setenv("RATE_LIMIT_STRATEGY", "TOKEN_BUCKET")
	t.Setenv("POLICY_CHANNEL_ENABLED", "true")

	cfg, err := configs.LoadDataPlane()
	require.NoError(t, err)
	assert.Equal(t, "http://cp.internal:9000", cfg.ControlPlane.URL)
	assert.Equal(t, 10*time.Second, cfg.ControlPlane.SyncInterval)
	assert.Equal(t, configs.StrategyTokenBucket, cfg.Limits.Strategy)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoadDataPlane_RejectsUnknownStrategy(t *testing.T) {
	t.Setenv("RATE_LIMIT_STRATEGY", "leaky")
	_, err := configs.LoadDataPlane()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RATE_LIMIT_STRATEGY")
}

func TestLoadDataPlane_RejectsNonPositiveDefaults(t *testing.T) {
	t.Setenv("DEFAULT_RATE_LIMIT", "0")
	_, err := configs.LoadDataPlane()
	require.Error(t, err)
}

func TestLoadControlPlane_SQLiteDefault(t *testing.T) {
	cfg, err := configs.LoadControlPlane()
	require.NoError(t, err)
	assert.Equal(t, configs.DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "ratelimit.db", cfg.Database.DSN)
	assert.Equal(t, []string{"http://localhost:3001"}, cfg.Push.DataPlaneURLs)
	assert.Equal(t, "@every 30s", cfg.Push.ReconcileSchedule)
}

func TestLoadControlPlane_PostgresDSNAndURLList(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DATA_PLANE_URLS", "http://dp1:3001, http://dp2:3001/ ,")

	cfg, err := configs.LoadControlPlane()
	require.NoError(t, err)
	assert.Contains(t, cfg.Database.DSN, "host=db")
	assert.Equal(t, []string{"http://dp1:3001", "http://dp2:3001"}, cfg.Push.DataPlaneURLs)
}

func TestLoadControlPlane_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("DB_DRIVER", "oracle")
	_, err := configs.LoadControlPlane()
	require.Error(t, err)
}
