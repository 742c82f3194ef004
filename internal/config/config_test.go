package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	"updatehub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	configFile := writeConfigFile(t, `
server:
  port: 9000
  host: "localhost"
  read_timeout: 15s
  write_timeout: 2m
  idle_timeout: 90s

storage:
  type: "sqlite"
  database:
    dsn: "./test.db"
    max_open_conns: 10

artifacts:
  root: "./artifacts"
  max_size_bytes: 1073741824
  max_entries: 5000

delta:
  enabled: true
  compression_threshold: 0.6
  cache_ttl: 12h

rate_limit:
  enabled: true
  escalation_after: 5
  violation_cooldown: 20m
  requests_per_minute: 60
  burst_size: 10
  cleanup_interval: 300s

realtime:
  enabled: true
  heartbeat_interval: 20s
  session_timeout: 3m
  queue_size: 128

security:
  enable_auth: true
  tokens:
    - token: "ops-token"
      subject: "ops"
      roles: ["ADMIN"]

logging:
  level: "debug"
  format: "json"
  output: "stdout"

metrics:
  enabled: true
  path: "/metrics"
  port: 9191
`)

	config, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 9000, config.Server.Port)
	assert.Equal(t, "localhost", config.Server.Host)
	assert.Equal(t, 15*time.Second, config.Server.ReadTimeout)
	assert.Equal(t, 2*time.Minute, config.Server.WriteTimeout)
	assert.Equal(t, 90*time.Second, config.Server.IdleTimeout)

	assert.Equal(t, models.StorageTypeSQLite, config.Storage.Type)
	assert.Equal(t, "./test.db", config.Storage.Database.DSN)
	assert.Equal(t, 10, config.Storage.Database.MaxOpenConns)

	assert.Equal(t, "./artifacts", config.Artifacts.Root)
	assert.Equal(t, int64(1073741824), config.Artifacts.MaxSizeBytes)
	assert.Equal(t, 5000, config.Artifacts.MaxEntries)

	assert.True(t, config.Delta.Enabled)
	assert.Equal(t, 0.6, config.Delta.CompressionThreshold)
	assert.Equal(t, 12*time.Hour, config.Delta.CacheTTL)

	assert.True(t, config.RateLimit.Enabled)
	assert.Equal(t, 5, config.RateLimit.EscalationAfter)
	assert.Equal(t, 20*time.Minute, config.RateLimit.ViolationCooldown)
	assert.Equal(t, 60, config.RateLimit.RequestsPerMinute)

	assert.True(t, config.Realtime.Enabled)
	assert.Equal(t, 20*time.Second, config.Realtime.HeartbeatInterval)
	assert.Equal(t, 128, config.Realtime.QueueSize)

	assert.True(t, config.Security.EnableAuth)
	require.Len(t, config.Security.Tokens, 1)
	assert.Equal(t, "ops-token", config.Security.Tokens[0].Token)
	assert.Equal(t, []string{"ADMIN"}, config.Security.Tokens[0].Roles)

	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, 9191, config.Metrics.Port)
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, models.StorageTypeSQLite, config.Storage.Type)
	assert.True(t, config.Delta.Enabled)
	assert.True(t, config.RateLimit.Enabled)
	assert.True(t, config.Realtime.Enabled)
	assert.False(t, config.Security.EnableAuth)
	assert.Equal(t, "updatehub", config.Observability.ServiceName)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	configFile := writeConfigFile(t, `
server:
  port: 3000
`)

	config, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 3000, config.Server.Port)
	// Untouched sections keep defaults.
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, models.StorageTypeSQLite, config.Storage.Type)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoad_MalformedYAML(t *testing.T) {
	configFile := writeConfigFile(t, "server: [not a mapping")

	_, err := Load(configFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	configFile := writeConfigFile(t, `
server:
  port: -1
`)

	_, err := Load(configFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("UPDATEHUB_SERVER_PORT", "7070")
	t.Setenv("UPDATEHUB_STORAGE_TYPE", "memory")
	t.Setenv("UPDATEHUB_LOG_LEVEL", "DEBUG")
	t.Setenv("UPDATEHUB_METRICS_ENABLED", "false")
	t.Setenv("UPDATEHUB_ADMIN_TOKEN", "bootstrap-secret")

	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, config.Server.Port)
	assert.Equal(t, models.StorageTypeMemory, config.Storage.Type)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.False(t, config.Metrics.Enabled)

	require.Len(t, config.Security.Tokens, 1)
	assert.Equal(t, "bootstrap-secret", config.Security.Tokens[0].Token)
	assert.Equal(t, "bootstrap-admin", config.Security.Tokens[0].Subject)
	assert.Contains(t, config.Security.Tokens[0].Roles, "ADMIN")
}

func TestLoad_EnvironmentBeatsFile(t *testing.T) {
	configFile := writeConfigFile(t, `
server:
  port: 3000
`)
	t.Setenv("UPDATEHUB_SERVER_PORT", "4000")

	config, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, 4000, config.Server.Port)
}

func TestLoad_OTLPEndpointSwitchesExporter(t *testing.T) {
	t.Setenv("UPDATEHUB_TRACING_ENABLED", "true")
	t.Setenv("UPDATEHUB_OTLP_ENDPOINT", "collector:4317")

	config, err := Load("")
	require.NoError(t, err)
	assert.True(t, config.Observability.Tracing.Enabled)
	assert.Equal(t, "otlp", config.Observability.Tracing.Exporter)
	assert.Equal(t, "collector:4317", config.Observability.Tracing.OTLPEndpoint)
}
