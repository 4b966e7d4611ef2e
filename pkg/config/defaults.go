package config

import (
	"strings"
	"time"

	"github.com/logmaster/logmaster/pkg/store"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields.
//
// This function is called after loading configuration from file and
// environment variables to fill in any missing values with sensible
// defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyDatabaseDefaults(&cfg.Database)
	applyMetricsDefaults(&cfg.Metrics)
	applyPipelineDefaults(cfg)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyDatabaseDefaults sets metadata store defaults.
func applyDatabaseDefaults(cfg *store.Config) {
	cfg.ApplyDefaults()
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false (opt-in for metrics)
	// Port defaults to 9090 if metrics are enabled
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyPipelineDefaults sets defaults for the flat pipeline keys.
func applyPipelineDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.SyslogPort == 0 {
		cfg.SyslogPort = 514
	}
	if cfg.LogBasePath == "" {
		cfg.LogBasePath = "/var/log/logmaster/logs"
	}
	if cfg.ArchiveBasePath == "" {
		cfg.ArchiveBasePath = "/var/log/logmaster/archive"
	}
	if cfg.SignedPath == "" {
		cfg.SignedPath = "/var/log/logmaster/signed"
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = 730
	}
	if cfg.ArchiveAfterDays == 0 {
		cfg.ArchiveAfterDays = 7
	}
	if cfg.SignIntervalSeconds == 0 {
		cfg.SignIntervalSeconds = 300
	}
	if cfg.ArchiveIntervalSeconds == 0 {
		cfg.ArchiveIntervalSeconds = 3600
	}
	if cfg.RetentionSweepIntervalSeconds == 0 {
		cfg.RetentionSweepIntervalSeconds = 86400
	}
	if cfg.WriterQueueDepth == 0 {
		cfg.WriterQueueDepth = 8192
	}
	if cfg.WriterBatchSize == 0 {
		cfg.WriterBatchSize = 256
	}
	if cfg.WriterFlushIntervalMs == 0 {
		cfg.WriterFlushIntervalMs = 1000
	}
	if cfg.SignatureAlgorithm == "" {
		cfg.SignatureAlgorithm = "RSA-PSS-SHA256"
	}
	if cfg.RSAKeySize == 0 {
		cfg.RSAKeySize = 2048
	}
	if cfg.TSATimeoutSeconds == 0 {
		cfg.TSATimeoutSeconds = 30
	}
	if cfg.CertPath == "" {
		cfg.CertPath = "/etc/logmaster/signing.crt"
	}
	if cfg.PrivateKeyPath == "" {
		cfg.PrivateKeyPath = "/etc/logmaster/signing.key"
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Logging: LoggingConfig{},
		Database: store.Config{
			Type: store.DatabaseTypeSQLite, // Default to SQLite for single-node
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
