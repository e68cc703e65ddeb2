package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "data", cfg.Storage.DataDir)
	assert.Equal(t, 3, cfg.Storage.AppendRetries)
	assert.Equal(t, 10*time.Second, cfg.Storage.SweepInterval)
	assert.Equal(t, 128, cfg.Streams.BackfillChunk)
	assert.Equal(t, 15*time.Second, cfg.Streams.HeartbeatInterval)
	assert.Equal(t, 256, cfg.Streams.SubscriberBuffer)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "grpc", cfg.Tracing.ExporterType)
	assert.Equal(t, float64(100), cfg.Tracing.SamplingRate)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("DATA_DIR", "/var/lib/tailstream")
	t.Setenv("BACKFILL_CHUNK", "32")
	t.Setenv("HEARTBEAT_INTERVAL", "5s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("TRACING_ENDPOINT", "collector:4317")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.HTTPAddr)
	assert.Equal(t, "/var/lib/tailstream", cfg.Storage.DataDir)
	assert.Equal(t, 32, cfg.Streams.BackfillChunk)
	assert.Equal(t, 5*time.Second, cfg.Streams.HeartbeatInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "collector:4317", cfg.Tracing.Endpoint)
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")

	cfg, err := Load([]string{"--http-addr", ":7777", "--log-level", "warn"})
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.Server.HTTPAddr)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"empty http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "http server address"},
		{"empty data dir", func(c *Config) { c.Storage.DataDir = "" }, "data directory"},
		{"zero append retries", func(c *Config) { c.Storage.AppendRetries = 0 }, "append retries"},
		{"zero backfill chunk", func(c *Config) { c.Streams.BackfillChunk = 0 }, "backfill chunk"},
		{"zero heartbeat", func(c *Config) { c.Streams.HeartbeatInterval = 0 }, "heartbeat interval"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "invalid log level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(nil)
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
