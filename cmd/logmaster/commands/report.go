package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/logmaster/logmaster/internal/cli/output"
	"github.com/logmaster/logmaster/pkg/reporter"
)

var (
	reportDays   int
	reportFrom   string
	reportTo     string
	reportExport string
	reportOutput string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a compliance report",
	Long: `Generate a compliance report over a reporting window.

The report aggregates signature validity, trusted-timestamp coverage,
archive presence and access-trail health into a 0-100 score, persists the
result, and can export it as JSON into the signed exports directory.

Examples:
  # Report over the last 30 days
  logmaster report

  # Report over an explicit window
  logmaster report --from 2026-01-01 --to 2026-03-31

  # Export the report as JSON
  logmaster report --export monthly.json

  # List previously generated reports
  logmaster report list`,
	RunE: runReport,
}

var reportListCmd = &cobra.Command{
	Use:   "list",
	Short: "List previously generated reports",
	RunE:  runReportList,
}

func init() {
	reportCmd.Flags().IntVar(&reportDays, "days", 30, "Reporting window length in days (ignored with --from/--to)")
	reportCmd.Flags().StringVar(&reportFrom, "from", "", "Window start date (YYYY-MM-DD)")
	reportCmd.Flags().StringVar(&reportTo, "to", "", "Window end date (YYYY-MM-DD, inclusive)")
	reportCmd.Flags().StringVar(&reportExport, "export", "", "Export the report as JSON to this file (relative to signed_path)")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "table", "Output format (table|json)")
	reportCmd.AddCommand(reportListCmd)
}

// reportWindow resolves the flags into a [start, end] window.
func reportWindow() (time.Time, time.Time, error) {
	if reportFrom == "" && reportTo == "" {
		end := time.Now().UTC()
		return end.AddDate(0, 0, -reportDays), end, nil
	}

	start, err := time.Parse(time.DateOnly, reportFrom)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --from date: %w", err)
	}
	end, err := time.Parse(time.DateOnly, reportTo)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --to date: %w", err)
	}
	// Inclusive end date.
	return start, end.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigAndLogger()
	if err != nil {
		return err
	}

	start, end, err := reportWindow()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	rep, err := reporter.New(st)
	if err != nil {
		return err
	}

	ctx := context.Background()
	report, err := rep.Generate(ctx, start, end)
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	if reportExport != "" {
		exportPath := reportExport
		if !filepath.IsAbs(exportPath) {
			exportPath = filepath.Join(cfg.SignedPath, exportPath)
		}
		if err := reporter.ExportJSON(report, exportPath); err != nil {
			return fmt.Errorf("failed to export report: %w", err)
		}
		fmt.Printf("Report exported to %s\n", exportPath)
	}

	format, err := output.ParseFormat(reportOutput)
	if err != nil {
		return err
	}
	if format == output.FormatJSON {
		return output.PrintJSON(os.Stdout, report)
	}

	return output.SimpleTable(os.Stdout, [][2]string{
		{"Period", fmt.Sprintf("%s .. %s",
			report.PeriodStart.Format(time.DateOnly), report.PeriodEnd.Format(time.DateOnly))},
		{"Score", fmt.Sprintf("%.1f", report.Score)},
		{"Signatures", fmt.Sprintf("%d total, %d valid, %d timestamped",
			report.TotalSignatures, report.ValidSignatures, report.TimestampedSignatures)},
		{"Archives", fmt.Sprintf("%d", report.TotalArchives)},
		{"Access events", fmt.Sprintf("%d total, %d successful",
			report.TotalAccessEvents, report.SuccessfulAccessEvents)},
	})
}

func runReportList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigAndLogger()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	reports, err := st.ListReports(context.Background())
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		fmt.Println("No reports generated yet")
		return nil
	}

	table := output.NewTableData("ID", "PERIOD", "SCORE", "SIGNATURES", "ARCHIVES", "GENERATED")
	for _, r := range reports {
		table.AddRow(
			fmt.Sprintf("%d", r.ID),
			fmt.Sprintf("%s .. %s", r.PeriodStart.Format(time.DateOnly), r.PeriodEnd.Format(time.DateOnly)),
			fmt.Sprintf("%.1f", r.Score),
			fmt.Sprintf("%d", r.TotalSignatures),
			fmt.Sprintf("%d", r.TotalArchives),
			r.GeneratedAt.Format(time.RFC3339),
		)
	}
	return output.PrintTable(os.Stdout, table)
}
