package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/logmaster/logmaster/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Run database migrations for the metadata store.

This command applies pending schema migrations to the configured metadata
store (SQLite or PostgreSQL). It is required after upgrading LogMaster when
schema changes have been made.

Examples:
  # Run migrations with default config
  logmaster migrate

  # Run migrations with custom config
  logmaster migrate --config /etc/logmaster/config.yaml`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigAndLogger()
	if err != nil {
		return err
	}

	logger.Info("Running database migrations", "type", cfg.Database.Type)

	// Opening the store triggers auto-migration.
	ctx := context.Background()
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer func() { _ = st.Close() }()

	// Verify the migration worked by running a trivial query.
	if _, err := st.ListReports(ctx); err != nil {
		return fmt.Errorf("migration verification failed: %w", err)
	}

	fmt.Printf("Migrations completed successfully (database type: %s)\n", cfg.Database.Type)
	return nil
}
