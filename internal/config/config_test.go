package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
	assert.Equal(t, "agg:", cfg.Redis.KeyPrefix)
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, BackendRedis, cfg.Bus.Transport)
	assert.Equal(t, 10*time.Minute, cfg.Job.TTL)
	assert.Equal(t, 3, cfg.Job.MaxAccounts)
	assert.Equal(t, "integration.request.", cfg.Bus.RoutingPrefix)
	assert.Equal(t, "integration.outcome", cfg.Bus.OutcomeStream)
	assert.Equal(t, "json", cfg.Bus.Codec)
	assert.Equal(t, int64(100000), cfg.Bus.StreamMaxLen)
	assert.Equal(t, 16, cfg.Bus.PublishConcurrency)
	assert.Equal(t, 3, cfg.Bus.PublishMaxAttempts)
	assert.Equal(t, 5, cfg.Bus.BreakerFailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Bus.BreakerOpenTimeout)
	assert.Zero(t, cfg.Bus.ProviderRPS)
	assert.Equal(t, 10, cfg.Bus.ProviderBurst)
	assert.Empty(t, cfg.Provider.SupportFile)
	assert.False(t, cfg.Provider.RuntimeDenyListEnabled)
	assert.Equal(t, 30*time.Second, cfg.Provider.SupportCacheTTL)
	assert.Equal(t, 1024, cfg.Provider.SupportCacheSize)
	assert.True(t, cfg.Reaper.Enabled)
	assert.Equal(t, "@every 15s", cfg.Reaper.Schedule)
	assert.Equal(t, 2*time.Minute, cfg.Reaper.ComboDeadline)
	assert.Equal(t, 9*time.Minute, cfg.Reaper.JobDeadline)
	assert.Equal(t, 100, cfg.Reaper.BatchSize)
	assert.True(t, cfg.Consumer.Enabled)
	assert.Equal(t, "outcome-consumer", cfg.Consumer.CheckpointKey)
	assert.Equal(t, 8080, cfg.Server.HealthPort)
	assert.Zero(t, cfg.Server.AdminPort)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Tracing.Enabled)
	assert.True(t, cfg.Tracing.Insecure)
	assert.Equal(t, 0.1, cfg.Tracing.SampleRatio)
	assert.Empty(t, cfg.Alert.SlackWebhookURL)
	assert.Empty(t, cfg.Alert.WebhookURL)
	assert.Equal(t, 5*time.Minute, cfg.Alert.Cooldown)
	assert.False(t, cfg.AlertsEnabled())
	assert.True(t, cfg.UsesRedis())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("REDIS_URL", "redis://redis:6379/2")
	t.Setenv("REDIS_KEY_PREFIX", "test:")
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("STREAM_TRANSPORT", "memory")
	t.Setenv("JOB_TTL_SEC", "120")
	t.Setenv("MAX_ACCOUNTS", "5")
	t.Setenv("BUS_CODEC", "msgpack")
	t.Setenv("BUS_PROVIDER_RPS", "12.5")
	t.Setenv("REAPER_SCHEDULE", "*/2 * * * *")
	t.Setenv("REAPER_JOB_DEADLINE_SEC", "100")
	t.Setenv("CONSUMER_ENABLED", "false")
	t.Setenv("HEALTH_PORT", "9090")
	t.Setenv("ADMIN_PORT", "9091")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("TRACING_ENDPOINT", "otel:4317")
	t.Setenv("TRACING_SAMPLE_RATIO", "1")
	t.Setenv("ALERT_WEBHOOK_URL", "https://alerts.example/hook")
	t.Setenv("ALERT_COOLDOWN_SEC", "60")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis://redis:6379/2", cfg.Redis.URL)
	assert.Equal(t, "test:", cfg.Redis.KeyPrefix)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, BackendMemory, cfg.Bus.Transport)
	assert.False(t, cfg.UsesRedis())
	assert.Equal(t, 2*time.Minute, cfg.Job.TTL)
	assert.Equal(t, 5, cfg.Job.MaxAccounts)
	assert.Equal(t, "msgpack", cfg.Bus.Codec)
	assert.Equal(t, 12.5, cfg.Bus.ProviderRPS)
	assert.Equal(t, "*/2 * * * *", cfg.Reaper.Schedule)
	assert.Equal(t, 100*time.Second, cfg.Reaper.JobDeadline)
	assert.False(t, cfg.Consumer.Enabled)
	assert.Equal(t, 9090, cfg.Server.HealthPort)
	assert.Equal(t, 9091, cfg.Server.AdminPort)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "otel:4317", cfg.Tracing.Endpoint)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRatio)
	assert.Equal(t, "https://alerts.example/hook", cfg.Alert.WebhookURL)
	assert.Equal(t, time.Minute, cfg.Alert.Cooldown)
	assert.True(t, cfg.AlertsEnabled())
}

func TestLoad_JobTTLIsClamped(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"1", 30 * time.Second},
		{"30", 30 * time.Second},
		{"900", 15 * time.Minute},
		{"1800", 30 * time.Minute},
		{"86400", 30 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv("JOB_TTL_SEC", tt.raw)
			cfg, err := Load()
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Job.TTL)
			assert.Equal(t, tt.want*9/10, cfg.Reaper.JobDeadline)
		})
	}
}

func TestLoad_RejectsMalformedValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"integer", "MAX_ACCOUNTS", "three"},
		{"float", "BUS_PROVIDER_RPS", "fast"},
		{"boolean", "REAPER_ENABLED", "sometimes"},
		{"store backend", "STORE_BACKEND", "etcd"},
		{"transport", "STREAM_TRANSPORT", "kafka"},
		{"codec", "BUS_CODEC", "protobuf"},
		{"schedule", "REAPER_SCHEDULE", "every now and then"},
		{"log level", "LOG_LEVEL", "verbose"},
		{"concurrency", "PUBLISH_CONCURRENCY", "0"},
		{"attempts", "PUBLISH_MAX_ATTEMPTS", "-1"},
		{"max accounts", "MAX_ACCOUNTS", "0"},
		{"sample ratio", "TRACING_SAMPLE_RATIO", "1.5"},
		{"admin port clash", "ADMIN_PORT", "8080"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_TracingNeedsEndpoint(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TRACING_ENABLED", "true")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRACING_ENDPOINT")
}

func TestLoad_DenyListNeedsRedis(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("STREAM_TRANSPORT", "memory")
	t.Setenv("PROVIDER_RUNTIME_DENYLIST_ENABLED", "true")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_DisabledReaperSkipsScheduleCheck(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("REAPER_ENABLED", "false")
	t.Setenv("REAPER_SCHEDULE", "not a schedule")
	_, err := Load()
	require.NoError(t, err)
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("HEALTH_PORT=7070\nREDIS_KEY_PREFIX=fromfile:\n"), 0o600))
	t.Chdir(dir)

	// Registered for restore, then unset so the file can supply it.
	t.Setenv("HEALTH_PORT", "")
	require.NoError(t, os.Unsetenv("HEALTH_PORT"))
	t.Setenv("REDIS_KEY_PREFIX", "fromenv:")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.HealthPort)
	assert.Equal(t, "fromenv:", cfg.Redis.KeyPrefix)
}
