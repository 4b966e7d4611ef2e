package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/logmaster/logmaster/internal/cli/output"
	"github.com/logmaster/logmaster/pkg/retention"
)

var retentionDryRun bool

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Purge archives past their retention horizon",
	Long: `Delete archives whose statutory retention period has elapsed.

The archive file is removed first, then its row; a row whose file cannot
be deleted is kept so the next sweep retries. Use --dry-run to list the
expired archives without deleting anything.

Examples:
  # Run one retention sweep
  logmaster retention

  # List what would be purged
  logmaster retention --dry-run`,
	RunE: runRetention,
}

func init() {
	retentionCmd.Flags().BoolVar(&retentionDryRun, "dry-run", false, "List expired archives without deleting")
}

func runRetention(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigAndLogger()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	sweeper, err := retention.New(retention.Config{
		SweepInterval: time.Duration(cfg.RetentionSweepIntervalSeconds) * time.Second,
	}, st, nil)
	if err != nil {
		return err
	}

	ctx := context.Background()

	if retentionDryRun {
		expired, err := sweeper.Plan(ctx)
		if err != nil {
			return err
		}
		if len(expired) == 0 {
			fmt.Println("Nothing to purge")
			return nil
		}

		table := output.NewTableData("DEVICE", "ARCHIVE", "RETENTION UNTIL")
		for _, e := range expired {
			table.AddRow(e.DeviceID, e.ArchivePath, e.RetentionUntil.Format(time.DateOnly))
		}
		return output.PrintTable(os.Stdout, table)
	}

	purged, err := sweeper.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("retention sweep failed: %w", err)
	}
	fmt.Printf("Retention sweep completed: %d archive(s) purged\n", purged)
	return nil
}
