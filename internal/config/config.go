// Package config loads the escrow orchestrator's configuration from a YAML
// file with an environment-variable overlay, following the load ->
// env-override -> validate pipeline used across this codebase's services.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Port        string `yaml:"port"`
	MetricsPort string `yaml:"metrics_port"`
}

type StoreConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type CacheConfig struct {
	Addr           string        `yaml:"addr"`
	TransactionTTL time.Duration `yaml:"transaction_ttl"`
	ReportTTL      time.Duration `yaml:"report_ttl"`
	WorkflowTTL    time.Duration `yaml:"workflow_ttl"`
}

type CustodyConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	Timeout       time.Duration `yaml:"timeout"`
	WebhookSecret string        `yaml:"webhook_secret"`
}

type AuditSinkConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	Timeout           time.Duration `yaml:"timeout"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

type ResilienceConfig struct {
	CustodyFailureThreshold       int           `yaml:"custody_failure_threshold"`
	CustodyRecoveryTimeout        time.Duration `yaml:"custody_recovery_timeout"`
	AuditSinkFailureThreshold     int           `yaml:"audit_sink_failure_threshold"`
	AuditSinkRecoveryTimeout      time.Duration `yaml:"audit_sink_recovery_timeout"`
	NotificationFailureThreshold  int           `yaml:"notification_failure_threshold"`
	NotificationRecoveryTimeout   time.Duration `yaml:"notification_recovery_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type SecurityConfig struct {
	// EncryptionKey is the base64-encoded 32-byte AES-256-GCM key used to
	// encrypt sensitive transaction metadata subfields at rest (§3). Sourced
	// only from the ENCRYPTION_KEY environment variable, never from the YAML
	// file, so it never lands in a config file on disk.
	EncryptionKey string `yaml:"-"`
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Cache      CacheConfig      `yaml:"cache"`
	Custody    CustodyConfig    `yaml:"custody"`
	AuditSink  AuditSinkConfig  `yaml:"audit_sink"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"-"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8080",
			MetricsPort: "9090",
		},
		Store: StoreConfig{
			MaxOpenConns: 25,
		},
		Cache: CacheConfig{
			TransactionTTL: 5 * time.Minute,
			ReportTTL:      24 * time.Hour,
			WorkflowTTL:    5 * time.Minute,
		},
		Resilience: ResilienceConfig{
			CustodyFailureThreshold:      5,
			CustodyRecoveryTimeout:       60 * time.Second,
			AuditSinkFailureThreshold:    10,
			AuditSinkRecoveryTimeout:     30 * time.Second,
			NotificationFailureThreshold: 3,
			NotificationRecoveryTimeout:  120 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the file at path, overlays it onto defaults, applies the
// environment-variable overlay, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaults()
	if err := yaml.Unmarshal(raw, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func validate(config *Config) error {
	if config.Server.Port == "" {
		config.Server.Port = "8080"
	}

	if config.Store.DSN == "" {
		return fmt.Errorf("store DSN is required")
	}
	if config.Store.MaxOpenConns <= 0 {
		return fmt.Errorf("max open connections must be greater than 0")
	}

	if config.Resilience.CustodyFailureThreshold <= 0 {
		return fmt.Errorf("custody failure threshold must be greater than 0")
	}
	if config.Resilience.AuditSinkFailureThreshold <= 0 {
		return fmt.Errorf("audit sink failure threshold must be greater than 0")
	}
	if config.Resilience.NotificationFailureThreshold <= 0 {
		return fmt.Errorf("notification failure threshold must be greater than 0")
	}

	return nil
}

func loadFromEnv(config *Config) error {
	if v := os.Getenv("STORE_DSN"); v != "" {
		config.Store.DSN = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		config.Server.Port = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		config.Server.MetricsPort = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("CUSTODY_WEBHOOK_SECRET"); v != "" {
		config.Custody.WebhookSecret = v
	}
	if v := os.Getenv("CUSTODY_ENDPOINT"); v != "" {
		config.Custody.Endpoint = v
	}
	if v := os.Getenv("AUDIT_SINK_ENDPOINT"); v != "" {
		config.AuditSink.Endpoint = v
	}
	if v := os.Getenv("CACHE_ADDR"); v != "" {
		config.Cache.Addr = v
	}
	if v := os.Getenv("STORE_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Store.MaxOpenConns = n
		}
	}
	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		config.Security.EncryptionKey = v
	}
	return nil
}
