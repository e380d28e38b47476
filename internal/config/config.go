package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log             LogConfig         `yaml:"log"`
	Database        DatabaseConfig    `yaml:"database"`
	Batch           BatchConfig       `yaml:"batch"`
	Flush           FlushConfig       `yaml:"flush"`
	Dispatch        DispatchConfig    `yaml:"dispatch"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	Ingest          IngestConfig      `yaml:"ingest"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return strings.ToLower(c.Level)
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Batch store backends
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// BatchConfig contains accumulator settings
type BatchConfig struct {
	Store         string   `yaml:"store"`          // "memory" (default) or "sqlite"
	MaxAge        Duration `yaml:"max_age"`        // Open batches older than this are reported (0 = off)
	MaxItems      int      `yaml:"max_items"`      // Open batches larger than this are reported (0 = off)
	CheckInterval Duration `yaml:"check_interval"` // How often open batches are inspected
}

// FlushConfig selects when open batches are drained
type FlushConfig struct {
	Strategy string   `yaml:"strategy"` // quiet, window, count, immediate, script
	Quiet    Duration `yaml:"quiet"`    // quiet: drain after no appends for this long
	Window   Duration `yaml:"window"`   // window: drain this long after the first image
	Count    int      `yaml:"count"`    // count: drain at this many images
	Poll     Duration `yaml:"poll"`     // script: re-evaluation interval
	Script   string   `yaml:"script"`   // script: path to the Lua policy
}

// DispatchConfig contains settings for delivering drained batches
type DispatchConfig struct {
	Workers        int      `yaml:"workers"`         // Number of worker goroutines (default: 4)
	QueueSize      int      `yaml:"queue_size"`      // Queue size (default: 100)
	Log            *bool    `yaml:"log"`             // Log each drained batch (default: true)
	Ledger         *bool    `yaml:"ledger"`          // Record drained batches in the ledger (default: true)
	ForwardURL     string   `yaml:"forward_url"`     // POST drained batches here (empty = off)
	ForwardTimeout Duration `yaml:"forward_timeout"` // HTTP timeout for forwarding
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`  // Max forwards per second (0 = unlimited)
}

// GetWorkers returns worker count with default
func (c *DispatchConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *DispatchConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// LogEnabled reports whether the log sink is on
func (c *DispatchConfig) LogEnabled() bool {
	return c.Log == nil || *c.Log
}

// LedgerEnabled reports whether the ledger sink is on
func (c *DispatchConfig) LedgerEnabled() bool {
	return c.Ledger == nil || *c.Ledger
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// IngestConfig contains the HTTP event intake settings
type IngestConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// GetHost returns the health check host with default
func (c *HealthcheckConfig) GetHost() string {
	if c.Host == "" {
		return "0.0.0.0"
	}
	return c.Host
}

// GetPort returns the health check port with default
func (c *HealthcheckConfig) GetPort() int {
	if c.Port == 0 {
		return 9090
	}
	return c.Port
}

// GetShutdownTimeout returns the shutdown timeout with default
func (c *Config) GetShutdownTimeout() time.Duration {
	if c.ShutdownTimeout == 0 {
		return 5 * time.Second
	}
	return c.ShutdownTimeout.Duration()
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration YAML, expanding environment variables and applying defaults
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./imagebatch.sqlite"
	}

	// Batch defaults
	if cfg.Batch.Store == "" {
		cfg.Batch.Store = StoreMemory
	}
	if cfg.Batch.CheckInterval == 0 {
		cfg.Batch.CheckInterval = Duration(time.Minute)
	}

	// Flush defaults - quiet period mirrors the typical "wait a few seconds" step
	if cfg.Flush.Strategy == "" {
		cfg.Flush.Strategy = "quiet"
	}
	if cfg.Flush.Quiet == 0 {
		cfg.Flush.Quiet = Duration(5 * time.Second)
	}
	if cfg.Flush.Window == 0 {
		cfg.Flush.Window = Duration(10 * time.Second)
	}
	if cfg.Flush.Poll == 0 {
		cfg.Flush.Poll = Duration(time.Second)
	}

	// Dispatch defaults
	if cfg.Dispatch.ForwardTimeout == 0 {
		cfg.Dispatch.ForwardTimeout = Duration(30 * time.Second)
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Ingest defaults
	if cfg.Ingest.Host == "" {
		cfg.Ingest.Host = "0.0.0.0"
	}
	if cfg.Ingest.Port == 0 {
		cfg.Ingest.Port = 8080
	}
	if cfg.Ingest.MaxBodyBytes == 0 {
		cfg.Ingest.MaxBodyBytes = 10 << 20
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate checks values that defaults cannot fix
func (c *Config) validate() error {
	switch c.Batch.Store {
	case StoreMemory, StoreSQLite:
	default:
		return fmt.Errorf("batch.store must be %q or %q, got %q", StoreMemory, StoreSQLite, c.Batch.Store)
	}
	if c.Flush.Strategy == "script" && c.Flush.Script == "" {
		return fmt.Errorf("flush.script is required for the script strategy")
	}
	if c.Batch.MaxItems < 0 {
		return fmt.Errorf("batch.max_items must not be negative")
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
