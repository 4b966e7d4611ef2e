package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logmaster/logmaster/pkg/store"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, store.DatabaseTypeSQLite, cfg.Database.Type)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)

	assert.Equal(t, 514, cfg.SyslogPort)
	assert.Equal(t, 730, cfg.RetentionDays)
	assert.Equal(t, 7, cfg.ArchiveAfterDays)
	assert.Equal(t, 300, cfg.SignIntervalSeconds)
	assert.Equal(t, 3600, cfg.ArchiveIntervalSeconds)
	assert.Equal(t, 86400, cfg.RetentionSweepIntervalSeconds)
	assert.Equal(t, 8192, cfg.WriterQueueDepth)
	assert.Equal(t, 256, cfg.WriterBatchSize)
	assert.Equal(t, 1000, cfg.WriterFlushIntervalMs)
	assert.Equal(t, "RSA-PSS-SHA256", cfg.SignatureAlgorithm)
	assert.Equal(t, 2048, cfg.RSAKeySize)
	assert.False(t, cfg.TSAEnabled)
	assert.Equal(t, 30, cfg.TSATimeoutSeconds)
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := GetDefaultConfig()
	require.NoError(t, Validate(cfg))
}

func TestApplyDefaults_NormalizesLogLevel(t *testing.T) {
	cfg := &Config{}
	cfg.Logging.Level = "debug"

	ApplyDefaults(cfg)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{SyslogPort: 5514, RetentionDays: 90}

	ApplyDefaults(cfg)

	assert.Equal(t, 5514, cfg.SyslogPort)
	assert.Equal(t, 90, cfg.RetentionDays)
}

func TestApplyDefaults_MetricsPortOnlyWhenEnabled(t *testing.T) {
	disabled := &Config{}
	ApplyDefaults(disabled)
	assert.Zero(t, disabled.Metrics.Port)

	enabled := &Config{Metrics: MetricsConfig{Enabled: true}}
	ApplyDefaults(enabled)
	assert.Equal(t, 9090, enabled.Metrics.Port)
}

func TestValidate_RejectsBadAlgorithm(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.SignatureAlgorithm = "ED25519"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eq")
}

func TestValidate_RejectsSmallKey(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.RSAKeySize = 1024

	require.Error(t, Validate(cfg))
}

func TestValidate_TSAURLRequiredWhenEnabled(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.TSAEnabled = true
	cfg.TSAURL = ""

	require.Error(t, Validate(cfg))

	cfg.TSAURL = "https://tsa.example.com/stamp"
	require.NoError(t, Validate(cfg))
}

func TestValidate_ArchiveBeforeRetention(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.ArchiveAfterDays = 730
	cfg.RetentionDays = 730

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive_after_days")
}

func TestValidate_RejectsBadPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.SyslogPort = 70000

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max")
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 514, cfg.SyslogPort)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
syslog_port: 5514
log_base_path: /srv/logmaster/logs
archive_base_path: /srv/logmaster/archive
signed_path: /srv/logmaster/signed
retention_days: 365
writer_batch_size: 64
shutdown_timeout: 10s
logging:
  level: debug
  format: json
devices:
  devices:
    "10.0.0.1": fw-core
  ip_ranges:
    - cidr: 192.168.0.0/24
      auto_assign: true
      device_prefix: lab
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5514, cfg.SyslogPort)
	assert.Equal(t, "/srv/logmaster/logs", cfg.LogBasePath)
	assert.Equal(t, 365, cfg.RetentionDays)
	assert.Equal(t, 64, cfg.WriterBatchSize)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Unset keys still receive defaults.
	assert.Equal(t, 7, cfg.ArchiveAfterDays)
	assert.Equal(t, 8192, cfg.WriterQueueDepth)

	resolved, err := cfg.Devices.ResolverConfig()
	require.NoError(t, err)
	assert.Equal(t, "fw-core", resolved.Devices["10.0.0.1"])
	require.Len(t, resolved.Ranges, 1)
	assert.Equal(t, "lab", resolved.Ranges[0].Prefix)
}

func TestLoad_InvalidFileRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("syslog_port: 99999\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation")
}

func TestSaveConfigRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.SyslogPort = 5514
	cfg.Devices.Mapping.Devices = map[string]string{"10.1.1.1": "switch-a"}
	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5514, loaded.SyslogPort)
	assert.Equal(t, "switch-a", loaded.Devices.Mapping.Devices["10.1.1.1"])
}

func TestMustLoad_MissingExplicitFile(t *testing.T) {
	_, err := MustLoad(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logmaster init")
}

func TestDevicesConfig_MappingFileMerge(t *testing.T) {
	dir := t.TempDir()
	mappingPath := filepath.Join(dir, "devices.json")
	mapping := `{"devices": {"10.0.0.1": "fw-edge", "10.0.0.2": "core-sw"}}`
	require.NoError(t, os.WriteFile(mappingPath, []byte(mapping), 0o600))

	d := DevicesConfig{MappingFile: mappingPath}
	d.Mapping.Devices = map[string]string{"10.0.0.1": "fw-inline"}

	resolved, err := d.ResolverConfig()
	require.NoError(t, err)

	// File entries win over inline entries.
	assert.Equal(t, "fw-edge", resolved.Devices["10.0.0.1"])
	assert.Equal(t, "core-sw", resolved.Devices["10.0.0.2"])
}
