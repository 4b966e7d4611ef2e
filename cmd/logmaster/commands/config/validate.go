package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/logmaster/logmaster/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate a LogMaster configuration file.

Loads the configuration, applies defaults and runs the full validation
pass without starting anything.

Examples:
  # Validate the default config
  logmaster config validate

  # Validate a specific file
  logmaster config validate --config /etc/logmaster/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	fmt.Printf("Configuration is valid (database: %s, syslog port: %d)\n",
		cfg.Database.Type, cfg.SyslogPort)
	return nil
}
