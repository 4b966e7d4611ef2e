// Package commands implements the CLI commands for logmaster pipeline
// management.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	configcmd "github.com/logmaster/logmaster/cmd/logmaster/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "logmaster",
	Short: "LogMaster - Compliance log custody pipeline",
	Long: `LogMaster collects syslog traffic from network devices, writes it into
per-device daily files, signs the sealed files with RSA-PSS, archives them
with integrity verification, and enforces statutory retention. Every
verification and report generation is recorded in a tamper-evident access
trail.

Use "logmaster [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/logmaster/config.yaml)")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(retentionCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(configcmd.Cmd)

	// Hide the default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

// Exit prints an error and exits with code 1.
func Exit(format string, args ...any) {
	PrintErr(format, args...)
	os.Exit(1)
}
