package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/logmaster/logmaster/internal/cli/output"
	"github.com/logmaster/logmaster/pkg/archiver"
)

var archiveDryRun bool

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Compress and archive signed log files",
	Long: `Compress signed log files older than archive_after_days into the
archive tree.

Each file is gzipped, the decompressed content is verified against the
signed hash, the archive row is recorded, and only then is the original
deleted. Use --dry-run to list the candidates without touching anything.

Examples:
  # Run one archival sweep
  logmaster archive

  # List what would be archived
  logmaster archive --dry-run`,
	RunE: runArchive,
}

func init() {
	archiveCmd.Flags().BoolVar(&archiveDryRun, "dry-run", false, "List archive candidates without archiving")
}

func runArchive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigAndLogger()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	engine, err := archiver.New(archiver.Config{
		LogBasePath:      cfg.LogBasePath,
		ArchiveBasePath:  cfg.ArchiveBasePath,
		ArchiveAfterDays: cfg.ArchiveAfterDays,
		RetentionDays:    cfg.RetentionDays,
		SweepInterval:    time.Duration(cfg.ArchiveIntervalSeconds) * time.Second,
	}, st, nil)
	if err != nil {
		return err
	}

	ctx := context.Background()

	if archiveDryRun {
		candidates, err := engine.Plan(ctx)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			fmt.Println("Nothing to archive")
			return nil
		}

		table := output.NewTableData("DEVICE", "DATE", "SIZE", "SIGNED", "PATH")
		for _, c := range candidates {
			table.AddRow(c.DeviceID, c.Date, fmt.Sprintf("%d", c.Size),
				fmt.Sprintf("%t", c.Signed), c.Path)
		}
		return output.PrintTable(os.Stdout, table)
	}

	if err := engine.Sweep(ctx); err != nil {
		return fmt.Errorf("archive sweep failed: %w", err)
	}
	fmt.Println("Archive sweep completed")
	return nil
}
