package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loan-engine/lending"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "loans.db", cfg.Database)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, -3*time.Hour, cfg.Engine.DayBoundaryOffset)
	assert.Equal(t, "treasury", cfg.Engine.AddonTreasury)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	require.Len(t, cfg.Programs, 1)
	assert.NoError(t, cfg.validate())
}

func TestLoad_EmptyPathIsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ParsesFile(t *testing.T) {
	path := writeConfig(t, `
listen: " :9090 "
database: /tmp/loans.db
log:
  level: DEBUG
  file: /var/log/loans.log
engine:
  day_boundary_offset: 0s
  addon_treasury: vault
scheduler:
  enabled: false
  interval: 30s
programs:
  - id: 7
    pool_account: pool-7
    initial_liquidity: 1000
    default_credit_limit: 500
    credit_limits:
      alice: 900
cors:
  allowed_origins: ["http://localhost:3000", " "]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 100, cfg.Log.MaxSizeMB)
	assert.Zero(t, cfg.Engine.DayBoundaryOffset, "an explicit zero offset is kept")
	assert.Equal(t, lending.Calendar{}, cfg.Engine.Calendar())
	assert.Equal(t, "vault", cfg.Engine.AddonTreasury)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Interval)
	require.Len(t, cfg.Programs, 1)
	assert.Equal(t, uint64(900), cfg.Programs[0].CreditLimits["alice"])
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORS.AllowedOrigins)
}

func TestLoad_DefaultsOffsetWhenOmitted(t *testing.T) {
	path := writeConfig(t, `
programs:
  - id: 1
    pool_account: pool
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, -3*time.Hour, cfg.Engine.DayBoundaryOffset)
	assert.Equal(t, int64(lending.DefaultDayBoundaryOffset), cfg.Engine.Calendar().Offset)
	assert.True(t, cfg.Scheduler.Enabled)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"no programs", "database: x.db\n", "at least one program"},
		{"bad level", "log: {level: loud}\nprograms: [{id: 1, pool_account: p}]\n", "unknown level"},
		{"offset too wide", "engine: {day_boundary_offset: 25h}\nprograms: [{id: 1, pool_account: p}]\n", "within one day"},
		{"fractional offset", "engine: {day_boundary_offset: 1500ms}\nprograms: [{id: 1, pool_account: p}]\n", "whole seconds"},
		{"zero program id", "programs: [{id: 0, pool_account: p}]\n", "id must be positive"},
		{"duplicate program", "programs: [{id: 1, pool_account: p}, {id: 1, pool_account: q}]\n", "duplicate id"},
		{"missing pool", "programs: [{id: 1}]\n", "pool_account is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
