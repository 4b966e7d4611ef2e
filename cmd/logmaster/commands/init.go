package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/logmaster/logmaster/pkg/config"
)

var (
	initForce bool
	initKeys  bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample LogMaster configuration file.

By default, the configuration file is created at
$XDG_CONFIG_HOME/logmaster/config.yaml. Use --config to specify a custom
path. With --keys, the RSA signing key pair and certificate are generated
immediately instead of on first start.

Examples:
  # Initialize with default location
  logmaster init

  # Initialize with custom path
  logmaster init --config /etc/logmaster/config.yaml

  # Force overwrite existing config and generate signing keys
  logmaster init --force --keys`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
	initCmd.Flags().BoolVar(&initKeys, "keys", false, "Generate the signing key pair now")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)

	if initKeys {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		keys, err := loadKeys(cfg)
		if err != nil {
			return err
		}
		fmt.Printf("Signing key pair ready (certificate fingerprint: %s)\n", keys.Fingerprint())
	}

	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to map device source addresses")
	fmt.Println("  2. Start the pipeline with: logmaster start")
	fmt.Printf("  3. Or specify custom config: logmaster start --config %s\n", configPath)

	return nil
}
