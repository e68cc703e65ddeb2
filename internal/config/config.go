package config

import (
	"flag"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config represents the application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `env:"SERVER"`

	// Storage configuration
	Storage StorageConfig `env:"STORAGE"`

	// Stream delivery configuration
	Streams StreamConfig `env:"STREAMS"`

	// Logging configuration
	Logging LoggingConfig `env:"LOGGING"`

	// Metrics configuration
	Metrics MetricsConfig `env:"METRICS"`

	// Tracing configuration
	Tracing TracingConfig `env:"TRACING"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	// HTTP server address
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
}

// StorageConfig holds storage-related configuration
type StorageConfig struct {
	// Data directory path
	DataDir string `env:"DATA_DIR" envDefault:"./data"`

	// Number of commit attempts for a single append before giving up
	AppendRetries int `env:"APPEND_RETRIES" envDefault:"3"`

	// Interval between TTL sweep passes
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"10s"`
}

// StreamConfig holds subscriber delivery configuration
type StreamConfig struct {
	// Maximum number of events delivered per backfill chunk
	BackfillChunk int `env:"BACKFILL_CHUNK" envDefault:"128"`

	// Interval between heartbeat control frames on live connections
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"15s"`

	// Per-subscriber notification buffer size
	SubscriberBuffer int `env:"SUBSCRIBER_BUFFER" envDefault:"256"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	// Log level: "debug", "info", "warn", "error"
	Level string `env:"LOG_LEVEL" envDefault:"info"`

	// Log format: "json", "text"
	Format string `env:"LOG_FORMAT" envDefault:"json"`

	// Log file path (empty for stdout)
	Output string `env:"LOG_OUTPUT" envDefault:""`

	// Enable log rotation
	Rotation bool `env:"LOG_ROTATION" envDefault:"true"`

	// Max log file size in MB
	MaxSize int `env:"LOG_MAX_SIZE" envDefault:"100"`

	// Number of backup files to keep
	MaxBackups int `env:"LOG_MAX_BACKUPS" envDefault:"7"`

	// Max age in days
	MaxAge int `env:"LOG_MAX_AGE" envDefault:"30"`
}

// MetricsConfig holds metrics-related configuration
type MetricsConfig struct {
	// Enable Prometheus metrics
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`

	// Metrics server address
	Addr string `env:"METRICS_ADDR" envDefault:":9090"`
}

// TracingConfig holds OpenTelemetry tracing configuration
type TracingConfig struct {
	// Enable OTLP trace export
	Enabled bool `env:"TRACING_ENABLED" envDefault:"false"`

	// OTLP collector endpoint
	Endpoint string `env:"TRACING_ENDPOINT" envDefault:""`

	// Exporter type: "grpc" or "http"
	ExporterType string `env:"TRACING_EXPORTER" envDefault:"grpc"`

	// Skip TLS verification on export
	Insecure bool `env:"TRACING_INSECURE" envDefault:"false"`

	// Percentage of traces to sample
	SamplingRate float64 `env:"TRACING_SAMPLING_RATE" envDefault:"100"`
}

// Load loads configuration from environment variables and command line flags
func Load(args []string) (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	fs := flag.NewFlagSet("tailstream", flag.ContinueOnError)
	fs.StringVar(&cfg.Server.HTTPAddr, "http-addr", cfg.Server.HTTPAddr, "HTTP server address")
	fs.StringVar(&cfg.Storage.DataDir, "data-dir", cfg.Storage.DataDir, "Data directory path")
	fs.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.Logging.Format, "log-format", cfg.Logging.Format, "Log format (json, text)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.Storage.DataDir = filepath.Clean(cfg.Storage.DataDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("http server address cannot be empty")
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	if c.Storage.AppendRetries < 1 {
		return fmt.Errorf("append retries must be at least 1")
	}

	if c.Streams.BackfillChunk < 1 {
		return fmt.Errorf("backfill chunk must be at least 1")
	}

	if c.Streams.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}
