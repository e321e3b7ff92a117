package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("INSIGHTS_BASE_URL", "https://insights.internal")
	t.Setenv("API_TOKEN", "operator-token")
}

// TestPurpose: Validates configuration defaults.
// Scope: Unit Test
// Expected: Sequential processing, 60s tenant timeout, no run deadline and a nightly schedule.
// Test Case ID: CFG-01
func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Orchestrator.Concurrency)
	assert.Equal(t, 60*time.Second, cfg.Orchestrator.TenantTimeout)
	assert.Zero(t, cfg.Orchestrator.RunDeadline)
	assert.Equal(t, 500, cfg.Orchestrator.TenantPageSize)
	assert.Equal(t, "0 2 * * *", cfg.Scheduler.Cron)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, time.UTC, cfg.Scheduler.Location())
	assert.Equal(t, 10*time.Second, cfg.Notifications.DefaultDuration)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.InDelta(t, 10.0, cfg.RateLimit.RequestsPerSecond, 0.001)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("ORCHESTRATOR_CONCURRENCY", "8")
	t.Setenv("ORCHESTRATOR_TENANT_TIMEOUT", "90s")
	t.Setenv("ORCHESTRATOR_RUN_DEADLINE", "2h")
	t.Setenv("RATELIMIT_RPS", "2.5")
	t.Setenv("SCHEDULE_TIMEZONE", "Europe/Berlin")
	t.Setenv("INSIGHTS_REQUEST_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Orchestrator.Concurrency)
	assert.Equal(t, 90*time.Second, cfg.Orchestrator.TenantTimeout)
	assert.Equal(t, 2*time.Hour, cfg.Orchestrator.RunDeadline)
	assert.InDelta(t, 2.5, cfg.RateLimit.RequestsPerSecond, 0.001)
	assert.Equal(t, "Europe/Berlin", cfg.Scheduler.Location().String())
	assert.Equal(t, 60*time.Second, cfg.Insights.RequestTimeout, "invalid durations fall back to the default")
}

// TestPurpose: Validates that invalid configuration is rejected with every problem listed.
// Scope: Unit Test
// Expected: Missing required settings and out-of-range values are all reported.
// Test Case ID: CFG-02
func TestLoad_Invalid(t *testing.T) {
	t.Setenv("DB_PASSWORD", "")
	t.Setenv("INSIGHTS_BASE_URL", "not a url")
	t.Setenv("API_TOKEN", "")
	t.Setenv("ORCHESTRATOR_CONCURRENCY", "0")
	t.Setenv("OTEL_SAMPLING_RATE", "1.5")

	_, err := Load()
	require.Error(t, err)
	for _, want := range []string{
		"DB_PASSWORD is required",
		"INSIGHTS_BASE_URL must be an absolute URL",
		"API_TOKEN is required",
		"ORCHESTRATOR_CONCURRENCY must be at least 1",
		"OTEL_SAMPLING_RATE",
	} {
		assert.ErrorContains(t, err, want)
	}
}
