package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/logmaster/logmaster/pkg/signer"
)

var signCmd = &cobra.Command{
	Use:   "sign [file]",
	Short: "Sign sealed log files",
	Long: `Sign sealed log files with the configured RSA key.

With no arguments, performs one signing sweep: every sealed daily file
under the log tree that has no signature yet is hashed and signed, and
pending trusted timestamps are retried. With a file argument, signs that
file only.

Examples:
  # Sweep all sealed files
  logmaster sign

  # Sign a single file
  logmaster sign /var/log/logmaster/logs/fw-core/2026-08-25.log`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSign,
}

func runSign(cmd *cobra.Command, args []string) error {
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
	tsa, err := newTSAClient(cfg)
	if err != nil {
		return err
	}

	engine, err := signer.New(signer.Config{
		LogBasePath:   cfg.LogBasePath,
		SweepInterval: time.Duration(cfg.SignIntervalSeconds) * time.Second,
	}, st, keys, tsa, nil, nil)
	if err != nil {
		return err
	}

	ctx := context.Background()

	if len(args) == 1 {
		if err := engine.SignFile(ctx, args[0], "", ""); err != nil {
			return fmt.Errorf("failed to sign %s: %w", args[0], err)
		}
		fmt.Printf("Signed %s\n", args[0])
		return nil
	}

	if err := engine.Sweep(ctx); err != nil {
		return fmt.Errorf("signing sweep failed: %w", err)
	}
	fmt.Println("Signing sweep completed")
	return nil
}
