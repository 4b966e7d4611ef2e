package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/logmaster/logmaster/internal/cli/output"
	"github.com/logmaster/logmaster/pkg/store"
	"github.com/logmaster/logmaster/pkg/verifier"
)

var verifyAll bool

var verifyCmd = &cobra.Command{
	Use:   "verify [path...]",
	Short: "Verify signatures and archive integrity",
	Long: `Verify the custody chain of log files.

For a live .log file the recorded hash and RSA-PSS signature are checked;
for a .log.gz archive the decompressed content is checked against both the
archive hash and the original signature. Every check is recorded in the
access trail. With --all, every archive row in the store is verified.

Examples:
  # Verify a single live file
  logmaster verify /var/log/logmaster/logs/fw-core/2026-08-25.log

  # Verify an archive
  logmaster verify /var/log/logmaster/archive/fw-core/2026-08-10.log.gz

  # Verify every recorded archive
  logmaster verify --all`,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyAll, "all", false, "Verify every recorded archive")
}

func runVerify(cmd *cobra.Command, args []string) error {
	if !verifyAll && len(args) == 0 {
		return fmt.Errorf("provide at least one path, or use --all")
	}

	cfg, err := loadConfigAndLogger()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	keys, err := loadKeys(cfg)
	if err != nil {
		return err
	}

	v, err := verifier.New(st, keys, nil)
	if err != nil {
		return err
	}

	ctx := context.Background()
	printer := output.DefaultPrinter()
	failures := 0

	if verifyAll {
		failures, err = verifyAllArchives(ctx, st, v, printer)
		if err != nil {
			return err
		}
	}

	for _, path := range args {
		res := v.VerifySignature(ctx, path)
		if res.Passed() {
			printer.Success(fmt.Sprintf("PASS  %s", path))
			continue
		}
		failures++
		printer.Error(fmt.Sprintf("FAIL  %s (%s)", path, res.Reason))
	}

	if failures > 0 {
		return fmt.Errorf("%d verification failure(s)", failures)
	}
	printer.Success("All verifications passed")
	return nil
}

func verifyAllArchives(ctx context.Context, st store.Store, v *verifier.Verifier, printer *output.Printer) (int, error) {
	entries, err := st.ListArchives(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list archives: %w", err)
	}

	failures := 0
	for _, entry := range entries {
		res := v.VerifyArchive(ctx, entry)
		if res.Valid {
			printer.Success(fmt.Sprintf("PASS  %s", entry.ArchivePath))
			continue
		}
		failures++
		printer.Error(fmt.Sprintf("FAIL  %s (%s)", entry.ArchivePath, strings.TrimSpace(res.Reason)))
	}
	return failures, nil
}
