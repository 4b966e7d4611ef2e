// Package config loads, validates and persists the LogMaster
// configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (LOGMASTER_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/logmaster/logmaster/pkg/resolver"
	"github.com/logmaster/logmaster/pkg/store"
)

// Config is the full LogMaster configuration.
//
// The pipeline keys live flat at the document root; operational concerns
// (logging, database, metrics, device mapping) are grouped.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Database configures the metadata store (SQLite or PostgreSQL).
	// This is the persistent record of signatures, archives, reports
	// and the access trail.
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Devices holds the source-address-to-device mapping
	Devices DevicesConfig `mapstructure:"devices" yaml:"devices"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// SyslogPort is the UDP port the ingest listener binds
	SyslogPort int `mapstructure:"syslog_port" validate:"required,min=1,max=65535" yaml:"syslog_port"`

	// BindAddress is the local address the ingest listener binds,
	// empty for all interfaces
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address,omitempty"`

	// LogBasePath is the root of the live per-device file tree
	LogBasePath string `mapstructure:"log_base_path" validate:"required" yaml:"log_base_path"`

	// ArchiveBasePath is the root of the compressed archive tree
	ArchiveBasePath string `mapstructure:"archive_base_path" validate:"required" yaml:"archive_base_path"`

	// SignedPath is where compliance report exports are written
	SignedPath string `mapstructure:"signed_path" validate:"required" yaml:"signed_path"`

	// RetentionDays is the archive retention horizon
	// Default: 730 (two years)
	RetentionDays int `mapstructure:"retention_days" validate:"required,min=1" yaml:"retention_days"`

	// ArchiveAfterDays is the minimum age before signed files are archived
	// Default: 7
	ArchiveAfterDays int `mapstructure:"archive_after_days" validate:"required,min=1" yaml:"archive_after_days"`

	// SignIntervalSeconds is the signer sweep period
	// Default: 300
	SignIntervalSeconds int `mapstructure:"sign_interval_seconds" validate:"required,min=1" yaml:"sign_interval_seconds"`

	// ArchiveIntervalSeconds is the archival sweep period
	// Default: 3600
	ArchiveIntervalSeconds int `mapstructure:"archive_interval_seconds" validate:"required,min=1" yaml:"archive_interval_seconds"`

	// RetentionSweepIntervalSeconds is the retention sweep period
	// Default: 86400
	RetentionSweepIntervalSeconds int `mapstructure:"retention_sweep_interval_seconds" validate:"required,min=1" yaml:"retention_sweep_interval_seconds"`

	// WriterQueueDepth bounds each per-device writer inbox
	// Default: 8192
	WriterQueueDepth int `mapstructure:"writer_queue_depth" validate:"required,min=1" yaml:"writer_queue_depth"`

	// WriterBatchSize caps records per append batch
	// Default: 256
	WriterBatchSize int `mapstructure:"writer_batch_size" validate:"required,min=1" yaml:"writer_batch_size"`

	// WriterFlushIntervalMs throttles fsync to at most once per interval
	// Default: 1000
	WriterFlushIntervalMs int `mapstructure:"writer_flush_interval_ms" validate:"required,min=1" yaml:"writer_flush_interval_ms"`

	// SignatureAlgorithm names the signing algorithm.
	// Only RSA-PSS-SHA256 is supported.
	SignatureAlgorithm string `mapstructure:"signature_algorithm" validate:"required,eq=RSA-PSS-SHA256" yaml:"signature_algorithm"`

	// RSAKeySize is used when generating a fresh signing key
	// Default: 2048
	RSAKeySize int `mapstructure:"rsa_key_size" validate:"required,min=2048" yaml:"rsa_key_size"`

	// TSAEnabled turns trusted timestamping on
	// Default: false
	TSAEnabled bool `mapstructure:"tsa_enabled" yaml:"tsa_enabled"`

	// TSAURL is the timestamp service endpoint.
	// Required when TSAEnabled is set.
	TSAURL string `mapstructure:"tsa_url" validate:"required_if=TSAEnabled true,omitempty,url" yaml:"tsa_url,omitempty"`

	// TSATimeoutSeconds bounds a single timestamp request
	// Default: 30
	TSATimeoutSeconds int `mapstructure:"tsa_timeout_seconds" validate:"required,min=1" yaml:"tsa_timeout_seconds"`

	// CertPath is the X.509 signing certificate location
	CertPath string `mapstructure:"cert_path" validate:"required" yaml:"cert_path"`

	// PrivateKeyPath is the PKCS#8 private key location
	PrivateKeyPath string `mapstructure:"private_key_path" validate:"required" yaml:"private_key_path"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// DevicesConfig holds the device mapping, inline and/or from a JSON
// mapping file. File entries win over inline ones on conflict.
type DevicesConfig struct {
	// Mapping is the inline device mapping
	Mapping resolver.Config `mapstructure:",squash" yaml:",inline"`

	// MappingFile is an optional JSON document with the same shape
	MappingFile string `mapstructure:"device_mapping_file" yaml:"device_mapping_file,omitempty"`
}

// ResolverConfig merges the inline mapping with the mapping file.
func (d *DevicesConfig) ResolverConfig() (resolver.Config, error) {
	merged := resolver.Config{
		Devices: make(map[string]string, len(d.Mapping.Devices)),
		Ranges:  append([]resolver.RangeConfig(nil), d.Mapping.Ranges...),
	}
	for ip, id := range d.Mapping.Devices {
		merged.Devices[ip] = id
	}

	if d.MappingFile != "" {
		fromFile, err := resolver.LoadMappingFile(d.MappingFile)
		if err != nil {
			return resolver.Config{}, err
		}
		for ip, id := range fromFile.Devices {
			merged.Devices[ip] = id
		}
		merged.Ranges = append(merged.Ranges, fromFile.Ranges...)
	}
	return merged, nil
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// If no config file was found, use defaults
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly
// instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  logmaster init\n\n"+
				"Or specify a custom config file:\n"+
				"  logmaster <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  logmaster init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Use yaml.Marshal directly to respect yaml tags
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600 because the config may contain database credentials
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file
// settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the LOGMASTER_ prefix and underscores
	// Example: LOGMASTER_SYSLOG_PORT=5514
	v.SetEnvPrefix("LOGMASTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/logmaster/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file
// was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return false, nil
		}
		// Also check for os.PathError when explicit config file doesn't exist
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook returns a mapstructure decode hook that converts
// strings to time.Duration. This enables config files to use
// human-readable durations like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory (.) if home cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "logmaster")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "logmaster")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init
// command).
func GetConfigDir() string {
	return getConfigDir()
}
