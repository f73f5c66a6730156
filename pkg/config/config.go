// Package config loads filescan configuration.
//
// Values are resolved in this order, later sources winning:
//
//  1. Built-in defaults (Default)
//  2. A YAML file, with ${VAR} references expanded from the environment
//  3. FILESCAN_* environment variables (ApplyEnv)
//  4. Command-line flags, applied by the caller
//
// Example file:
//
//	sandbox:
//	  api_key: ${VT_API_KEY}
//	  poll_timeout: 5m
//	  requests_per_minute: 4
//	pending:
//	  database_path: /var/lib/filescan/pending.db
//	  backoff: exponential
//	logging:
//	  level: info
//	  format: json
//	metrics:
//	  addr: :9090
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/exploopio/filescan/pkg/errors"
	"github.com/exploopio/filescan/pkg/logging"
	"github.com/exploopio/filescan/pkg/pending"
	"github.com/exploopio/filescan/pkg/sandbox"
)

// Environment variables read by ApplyEnv.
const (
	EnvAPIKey      = "FILESCAN_API_KEY"
	EnvBaseURL     = "FILESCAN_BASE_URL"
	EnvRPM         = "FILESCAN_REQUESTS_PER_MINUTE"
	EnvPollTimeout = "FILESCAN_POLL_TIMEOUT"
	EnvPendingDB   = "FILESCAN_PENDING_DB"
	EnvLogLevel    = "FILESCAN_LOG_LEVEL"
	EnvLogFormat   = "FILESCAN_LOG_FORMAT"
	EnvMetricsAddr = "FILESCAN_METRICS_ADDR"
)

// Config is the complete filescan configuration.
type Config struct {
	Sandbox sandbox.Config `yaml:"sandbox"`
	Pending PendingConfig  `yaml:"pending"`
	Logging LoggingConfig  `yaml:"logging"`
	Metrics MetricsConfig  `yaml:"metrics"`

	Verbose bool `yaml:"verbose"`
}

// PendingConfig configures the store of timed-out analysis jobs.
type PendingConfig struct {
	// Enabled turns recording of timed-out jobs on. Default true.
	Enabled bool `yaml:"enabled"`

	DatabasePath string `yaml:"database_path"`
	MaxAttempts  int    `yaml:"max_attempts"`

	// Backoff is "exponential", "linear" or "constant".
	Backoff      string        `yaml:"backoff"`
	BaseInterval time.Duration `yaml:"base_interval"`
	MaxInterval  time.Duration `yaml:"max_interval"`
	Jitter       float64       `yaml:"jitter"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`

	// Format is "plain", "text" or "json".
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration. The API key is empty.
func Default() *Config {
	store := pending.DefaultConfig()
	backoff := pending.DefaultBackoffConfig()
	return &Config{
		Sandbox: *sandbox.DefaultConfig(),
		Pending: PendingConfig{
			Enabled:      true,
			DatabasePath: store.DatabasePath,
			MaxAttempts:  store.MaxAttempts,
			Backoff:      "exponential",
			BaseInterval: backoff.BaseInterval,
			MaxInterval:  backoff.MaxInterval,
			Jitter:       backoff.Jitter,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "plain",
		},
	}
}

// Load reads the YAML file at path over the defaults and then applies
// the environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.E(errors.KindNotFound, "config.Load", fmt.Sprintf("config file %s not found", path), err)
			}
			return nil, errors.E(errors.KindInvalidInput, "config.Load", "read config file", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, expanding ${VAR} references first. Keys
// missing from data keep their current value.
func Parse(data []byte, cfg *Config) error {
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return errors.E(errors.KindInvalidInput, "config.Parse", "invalid yaml", err)
	}
	return nil
}

// ApplyEnv overlays FILESCAN_* environment variables.
func (c *Config) ApplyEnv() error {
	c.Sandbox.APIKey = getEnvOr(c.Sandbox.APIKey, EnvAPIKey)
	c.Sandbox.BaseURL = getEnvOr(c.Sandbox.BaseURL, EnvBaseURL)
	c.Pending.DatabasePath = getEnvOr(c.Pending.DatabasePath, EnvPendingDB)
	c.Logging.Level = getEnvOr(c.Logging.Level, EnvLogLevel)
	c.Logging.Format = getEnvOr(c.Logging.Format, EnvLogFormat)
	c.Metrics.Addr = getEnvOr(c.Metrics.Addr, EnvMetricsAddr)

	if v := os.Getenv(EnvRPM); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.E(errors.KindInvalidInput, "config.ApplyEnv", fmt.Sprintf("%s: %q is not an integer", EnvRPM, v))
		}
		c.Sandbox.RequestsPerMinute = n
	}
	if v := os.Getenv(EnvPollTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.E(errors.KindInvalidInput, "config.ApplyEnv", fmt.Sprintf("%s: %q is not a duration", EnvPollTimeout, v))
		}
		c.Sandbox.PollTimeout = d
	}
	return nil
}

// Validate checks the configuration. The API key is only required when
// the caller is going to talk to the sandbox service.
func (c *Config) Validate(requireAPIKey bool) error {
	if requireAPIKey {
		if err := sandbox.ValidateAPIKey(c.Sandbox.APIKey); err != nil {
			return err
		}
	}

	var problems []string
	if c.Sandbox.LookupTimeout < 0 {
		problems = append(problems, "sandbox.lookup_timeout must not be negative")
	}
	if c.Sandbox.UploadTimeout < 0 {
		problems = append(problems, "sandbox.upload_timeout must not be negative")
	}
	if c.Sandbox.PollTimeout < 0 {
		problems = append(problems, "sandbox.poll_timeout must not be negative")
	}
	if c.Sandbox.RequestsPerMinute < 0 {
		problems = append(problems, "sandbox.requests_per_minute must not be negative")
	}
	if c.Sandbox.MaxFileSize > sandbox.MaxFileSize {
		problems = append(problems, fmt.Sprintf("sandbox.max_file_size exceeds the %d byte service limit", sandbox.MaxFileSize))
	}
	if c.Pending.Enabled && c.Pending.DatabasePath == "" {
		problems = append(problems, "pending.database_path is required when pending is enabled")
	}
	if c.Pending.MaxAttempts < 0 {
		problems = append(problems, "pending.max_attempts must not be negative")
	}
	switch c.Pending.Backoff {
	case "", "exponential", "linear", "constant":
	default:
		problems = append(problems, fmt.Sprintf("pending.backoff %q is not exponential, linear or constant", c.Pending.Backoff))
	}
	if c.Pending.Jitter < 0 || c.Pending.Jitter > 1 {
		problems = append(problems, "pending.jitter must be between 0 and 1")
	}
	if c.Pending.MaxInterval > 0 && c.Pending.BaseInterval > c.Pending.MaxInterval {
		problems = append(problems, "pending.base_interval must not exceed pending.max_interval")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "plain", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not plain, text or json", c.Logging.Format))
	}

	if len(problems) > 0 {
		return errors.E(errors.KindInvalidInput, "config.Validate", strings.Join(problems, "; "), errors.ErrInvalidConfig)
	}
	return nil
}

// SandboxConfig returns a copy of the sandbox settings.
func (c *Config) SandboxConfig() *sandbox.Config {
	sc := c.Sandbox
	return &sc
}

// StoreConfig converts the pending settings for pending.Open. Zero
// intervals fall back to the defaults.
func (c *Config) StoreConfig() *pending.Config {
	backoff := pending.DefaultBackoffConfig()
	backoff.Strategy = pending.ParseBackoffStrategy(c.Pending.Backoff)
	if c.Pending.BaseInterval > 0 {
		backoff.BaseInterval = c.Pending.BaseInterval
	}
	if c.Pending.MaxInterval > 0 {
		backoff.MaxInterval = c.Pending.MaxInterval
	}
	backoff.Jitter = c.Pending.Jitter

	return &pending.Config{
		DatabasePath: c.Pending.DatabasePath,
		MaxAttempts:  c.Pending.MaxAttempts,
		Backoff:      backoff,
	}
}

// LogLevel returns the configured level, or debug when Verbose is set.
func (c *Config) LogLevel() logging.Level {
	if c.Verbose {
		return logging.LevelDebug
	}
	return logging.ParseLevel(c.Logging.Level)
}

func getEnvOr(current, envName string) string {
	if v := os.Getenv(envName); v != "" {
		return v
	}
	return current
}
