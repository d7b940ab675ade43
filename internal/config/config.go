package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/novaledger/internal/alert"
	"github.com/ppiankov/novaledger/internal/database"
	"github.com/ppiankov/novaledger/internal/ratelimit"
)

// EnvPrefix prefixes every environment override, e.g. NOVALEDGER_GRPC_PORT or
// NOVALEDGER_DATABASE_PATH. Keys derive from field names. Do not add envconfig
// tags: envconfig falls back to the bare tag, so a "PATH" tag would read $PATH.
const EnvPrefix = "NOVALEDGER"

// Config is the complete runtime configuration.
type Config struct {
	Database         database.Config     `yaml:"database"`
	GRPCPort         int                 `yaml:"grpc_port" split_words:"true"`
	MetricsAddr      string              `yaml:"metrics_addr" split_words:"true"`
	MaxAppendRetries int                 `yaml:"max_append_retries" split_words:"true"`
	VerifyInterval   time.Duration       `yaml:"verify_interval" split_words:"true"`
	LogLevel         string              `yaml:"log_level" split_words:"true"`
	LogFormat        string              `yaml:"log_format" split_words:"true"`
	Tracing          TracingConfig       `yaml:"tracing"`
	Inbox            InboxConfig         `yaml:"inbox"`
	Alerts           []alert.AlertConfig `yaml:"alerts" ignored:"true"`
	RateLimits       ratelimit.Config    `yaml:"rate_limits" ignored:"true"`
}

// TracingConfig controls the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Stdout      bool   `yaml:"stdout"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name" split_words:"true"`
}

// InboxConfig enables the file inbox. Empty Dir disables it. Outbox and State
// default to siblings of Dir.
type InboxConfig struct {
	Dir          string        `yaml:"dir"`
	Outbox       string        `yaml:"outbox"`
	State        string        `yaml:"state"`
	Poll         bool          `yaml:"poll"`
	PollInterval time.Duration `yaml:"poll_interval" split_words:"true"`
}

// Enabled reports whether an inbox directory is configured.
func (c InboxConfig) Enabled() bool { return c.Dir != "" }

// OutboxDir returns Outbox or its default.
func (c InboxConfig) OutboxDir() string {
	if c.Outbox != "" {
		return c.Outbox
	}
	return filepath.Join(filepath.Dir(filepath.Clean(c.Dir)), "outbox")
}

// StateDir returns State or its default.
func (c InboxConfig) StateDir() string {
	if c.State != "" {
		return c.State
	}
	return filepath.Join(filepath.Dir(filepath.Clean(c.Dir)), "inbox-state")
}

// DefaultDir is where the config file and the default database live.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".novaledger"
	}
	return filepath.Join(home, ".novaledger")
}

// DefaultPath is the config file used when none is given.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Database: database.Config{
			Driver: database.DriverSQLite,
			Path:   filepath.Join(DefaultDir(), "ledger.db"),
		},
		GRPCPort:         50061,
		MaxAppendRetries: 5,
		VerifyInterval:   time.Hour,
		LogLevel:         "info",
		LogFormat:        "json",
		Tracing: TracingConfig{
			ServiceName: "novaledger",
		},
	}
}

// Load reads path (or DefaultPath when empty), layering YAML over defaults and
// environment over YAML. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadWithHash(path)
	return cfg, err
}

// LoadWithHash is Load plus the SHA-256 of the raw file bytes, so a reload can
// tell whether anything changed. Without a file the hash covers empty input.
func LoadWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Start with defaults, YAML overwrites only specified fields
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		data = nil
	default:
		return nil, "", fmt.Errorf("failed to read config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, "", fmt.Errorf("failed to apply environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}

	h := sha256.Sum256(data)
	return cfg, "sha256:" + hex.EncodeToString(h[:]), nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		return fmt.Errorf("config: grpc_port %d out of range", c.GRPCPort)
	}
	if c.MaxAppendRetries < 0 {
		return fmt.Errorf("config: max_append_retries must be >= 0, got %d", c.MaxAppendRetries)
	}
	if c.VerifyInterval < 0 {
		return fmt.Errorf("config: verify_interval must be >= 0, got %s", c.VerifyInterval)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Inbox.PollInterval < 0 {
		return fmt.Errorf("config: inbox.poll_interval must be >= 0, got %s", c.Inbox.PollInterval)
	}
	if c.Inbox.Enabled() {
		dir := filepath.Clean(c.Inbox.Dir)
		if filepath.Clean(c.Inbox.OutboxDir()) == dir || filepath.Clean(c.Inbox.StateDir()) == dir {
			return fmt.Errorf("config: inbox outbox and state must differ from inbox.dir")
		}
	}
	if err := c.RateLimits.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	for i, a := range c.Alerts {
		if a.URL == "" {
			return fmt.Errorf("config: alerts[%d]: url is required", i)
		}
	}
	return nil
}

// ParseLevel maps a log_level string to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("config: unknown log_level %q", s)
}

// Write saves cfg as YAML, creating the parent directory.
func Write(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
