// ABOUTME: Configuration loading and parsing for passkeyd
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete passkeyd configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	WebAuthn WebAuthnConfig `yaml:"webauthn"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Session  SessionConfig  `yaml:"session"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// WebAuthnConfig holds relying-party identity and ceremony policy
type WebAuthnConfig struct {
	RPID   string `yaml:"rp_id"`
	Origin string `yaml:"origin"`
	// AllowSignCountRegression downgrades clone detection from reject to
	// accept-and-log. Leave off unless a fleet of broken authenticators
	// forces it.
	AllowSignCountRegression bool `yaml:"allow_sign_count_regression"`

	ChallengeTTL    time.Duration `yaml:"-"`
	ChallengeTTLRaw string        `yaml:"challenge_ttl"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig holds cache-tier configuration
type CacheConfig struct {
	CleanupInterval    time.Duration `yaml:"-"`
	CleanupIntervalRaw string        `yaml:"cleanup_interval"`
}

// SessionConfig holds session token configuration
type SessionConfig struct {
	Secret string `yaml:"secret"`

	TTL    time.Duration `yaml:"-"`
	TTLRaw string        `yaml:"ttl"`
}

// MonitorConfig holds security monitoring thresholds
type MonitorConfig struct {
	SlowThreshold    time.Duration `yaml:"-"`
	SlowThresholdRaw string        `yaml:"slow_threshold"`

	FailureWindow    time.Duration `yaml:"-"`
	FailureWindowRaw string        `yaml:"failure_window"`

	AuditRetention    time.Duration `yaml:"-"`
	AuditRetentionRaw string        `yaml:"audit_retention"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.WebAuthn.RPID == "" {
		return fmt.Errorf("webauthn.rp_id is required")
	}
	if c.WebAuthn.Origin == "" {
		return fmt.Errorf("webauthn.origin is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Session.Secret) < 32 {
		return fmt.Errorf("session.secret must be at least 32 bytes")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.WebAuthn.ChallengeTTLRaw, "webauthn.challenge_ttl", &cfg.WebAuthn.ChallengeTTL},
		{cfg.Cache.CleanupIntervalRaw, "cache.cleanup_interval", &cfg.Cache.CleanupInterval},
		{cfg.Session.TTLRaw, "session.ttl", &cfg.Session.TTL},
		{cfg.Monitor.SlowThresholdRaw, "monitor.slow_threshold", &cfg.Monitor.SlowThreshold},
		{cfg.Monitor.FailureWindowRaw, "monitor.failure_window", &cfg.Monitor.FailureWindow},
		{cfg.Monitor.AuditRetentionRaw, "monitor.audit_retention", &cfg.Monitor.AuditRetention},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
