package commands

import (
	"fmt"
	"time"

	"github.com/logmaster/logmaster/internal/logger"
	"github.com/logmaster/logmaster/pkg/config"
	"github.com/logmaster/logmaster/pkg/signer"
	"github.com/logmaster/logmaster/pkg/store"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// loadConfigAndLogger loads the configuration and initializes logging,
// the shared preamble of every command that touches the pipeline.
func loadConfigAndLogger() (*config.Config, error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, err
	}
	if err := InitLogger(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the metadata store from configuration. Callers must
// Close the returned store.
func openStore(cfg *config.Config) (*store.GORMStore, error) {
	st, err := store.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	return st, nil
}

// loadKeys loads or creates the signing key material from configuration.
func loadKeys(cfg *config.Config) (*signer.KeyManager, error) {
	keys, err := signer.LoadOrCreateKeys(signer.KeyConfig{
		PrivateKeyPath: cfg.PrivateKeyPath,
		CertPath:       cfg.CertPath,
		RSAKeySize:     cfg.RSAKeySize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load signing keys: %w", err)
	}
	return keys, nil
}

// newTSAClient builds the TSA client when timestamping is enabled,
// returning nil when it is not.
func newTSAClient(cfg *config.Config) (*signer.TSAClient, error) {
	if !cfg.TSAEnabled {
		return nil, nil
	}
	tsa, err := signer.NewTSAClient(signer.TSAConfig{
		URL:     cfg.TSAURL,
		Timeout: time.Duration(cfg.TSATimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create TSA client: %w", err)
	}
	return tsa, nil
}

// getConfigSource returns a description of where the config was loaded
// from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
