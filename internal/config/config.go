// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Completion CompletionConfig `yaml:"completion"`
	Chat       ChatConfig       `yaml:"chat"`
	Quota      QuotaConfig      `yaml:"quota"`
	Sessions   SessionConfig    `yaml:"sessions"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// CompletionConfig holds completion service settings.
type CompletionConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// ChatConfig holds conversation shaping settings.
type ChatConfig struct {
	SystemPrompt     string  `yaml:"system_prompt"`
	ContextWindow    int     `yaml:"context_window"` // tokens available for history + overhead
	MaxReply         int     `yaml:"max_reply"`      // max_tokens passed upstream
	Temperature      float64 `yaml:"temperature"`
	FrequencyPenalty float64 `yaml:"frequency_penalty"`
	PresencePenalty  float64 `yaml:"presence_penalty"`
}

// QuotaConfig holds daily token allowance settings.
type QuotaConfig struct {
	AnonymousLimit     int64         `yaml:"anonymous_limit"`
	AuthenticatedLimit int64         `yaml:"authenticated_limit"`
	OverflowAllowance  int64         `yaml:"overflow_allowance"`
	ResetTimezone      string        `yaml:"reset_timezone"` // IANA name; "" = UTC
	SweepInterval      time.Duration `yaml:"sweep_interval"`
}

// Location resolves ResetTimezone to a *time.Location.
func (q QuotaConfig) Location() (*time.Location, error) {
	if q.ResetTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(q.ResetTimezone)
	if err != nil {
		return nil, fmt.Errorf("reset_timezone: %w", err)
	}
	return loc, nil
}

// SessionConfig holds session cache settings.
type SessionConfig struct {
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with production defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "palantir.db",
		},
		Completion: CompletionConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: 90 * time.Second,
		},
		Chat: ChatConfig{
			ContextWindow: 8192,
			MaxReply:      1024,
			Temperature:   1,
		},
		Quota: QuotaConfig{
			AnonymousLimit:     20_000,
			AuthenticatedLimit: 80_000,
			OverflowAllowance:  2_000,
			SweepInterval:      5 * time.Minute,
		},
		Sessions: SessionConfig{
			CacheSize: 10_000,
			CacheTTL:  10 * time.Minute,
		},
	}
}

func (c *Config) validate() error {
	if c.Chat.ContextWindow <= 0 {
		return fmt.Errorf("chat.context_window must be positive, got %d", c.Chat.ContextWindow)
	}
	if c.Chat.MaxReply < 0 {
		return fmt.Errorf("chat.max_reply must not be negative, got %d", c.Chat.MaxReply)
	}
	if c.Quota.AnonymousLimit <= 0 || c.Quota.AuthenticatedLimit <= 0 {
		return fmt.Errorf("quota limits must be positive")
	}
	if c.Quota.AuthenticatedLimit < c.Quota.AnonymousLimit {
		return fmt.Errorf("quota.authenticated_limit (%d) must not be below quota.anonymous_limit (%d)",
			c.Quota.AuthenticatedLimit, c.Quota.AnonymousLimit)
	}
	if _, err := c.Quota.Location(); err != nil {
		return err
	}
	return nil
}
