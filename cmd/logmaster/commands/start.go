package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/logmaster/logmaster/internal/logger"
	"github.com/logmaster/logmaster/pkg/archiver"
	"github.com/logmaster/logmaster/pkg/ingest"
	"github.com/logmaster/logmaster/pkg/metrics"
	prommetrics "github.com/logmaster/logmaster/pkg/metrics/prometheus"
	"github.com/logmaster/logmaster/pkg/resolver"
	"github.com/logmaster/logmaster/pkg/retention"
	"github.com/logmaster/logmaster/pkg/signer"
	"github.com/logmaster/logmaster/pkg/writerpool"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the LogMaster pipeline",
	Long: `Start the LogMaster pipeline with the specified configuration.

The pipeline listens for UDP syslog traffic, appends records to per-device
daily files, and runs the signing, archival and retention engines in the
background.

By default, the pipeline runs in the background (daemon mode). Use
--foreground to run in the foreground for debugging or when managed by a
process supervisor.

Examples:
  # Start in background (default)
  logmaster start

  # Start in foreground
  logmaster start --foreground

  # Start with custom config file
  logmaster start --config /etc/logmaster/config.yaml

  # Start with environment variable overrides
  LOGMASTER_LOGGING_LEVEL=DEBUG logmaster start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/logmaster/logmaster.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/logmaster/logmaster.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	// Handle daemon mode (background)
	if !foreground {
		return startDaemon()
	}

	cfg, err := loadConfigAndLogger()
	if err != nil {
		return err
	}

	fmt.Println("LogMaster - Compliance log custody pipeline")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Initialize metrics FIRST so IsEnabled() is answered before any
	// component builds its collectors.
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Metadata store
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	logger.Info("Metadata store ready", "type", cfg.Database.Type)

	// Signing key material
	keys, err := loadKeys(cfg)
	if err != nil {
		return err
	}
	logger.Info("Signing keys loaded", "fingerprint", keys.Fingerprint())

	tsa, err := newTSAClient(cfg)
	if err != nil {
		return err
	}
	if tsa != nil {
		logger.Info("Trusted timestamping enabled", "url", cfg.TSAURL)
	}

	// Device resolver
	resolverCfg, err := cfg.Devices.ResolverConfig()
	if err != nil {
		return fmt.Errorf("failed to load device mapping: %w", err)
	}
	res, err := resolver.New(resolverCfg)
	if err != nil {
		return fmt.Errorf("failed to build device resolver: %w", err)
	}
	logger.Info("Device mapping loaded",
		"devices", len(resolverCfg.Devices), "ranges", len(resolverCfg.Ranges))

	// Writer pool
	pool, err := writerpool.New(writerpool.Config{
		BasePath:      cfg.LogBasePath,
		QueueDepth:    cfg.WriterQueueDepth,
		BatchSize:     cfg.WriterBatchSize,
		FlushInterval: time.Duration(cfg.WriterFlushIntervalMs) * time.Millisecond,
	}, prommetrics.NewWriterMetrics())
	if err != nil {
		return fmt.Errorf("failed to create writer pool: %w", err)
	}

	// Signer engine consumes the pool's sealed-file events.
	signEngine, err := signer.New(signer.Config{
		LogBasePath:   cfg.LogBasePath,
		SweepInterval: time.Duration(cfg.SignIntervalSeconds) * time.Second,
	}, st, keys, tsa, pool.Sealed(), prommetrics.NewPipelineMetrics())
	if err != nil {
		return fmt.Errorf("failed to create signer engine: %w", err)
	}

	archiveEngine, err := archiver.New(archiver.Config{
		LogBasePath:      cfg.LogBasePath,
		ArchiveBasePath:  cfg.ArchiveBasePath,
		ArchiveAfterDays: cfg.ArchiveAfterDays,
		RetentionDays:    cfg.RetentionDays,
		SweepInterval:    time.Duration(cfg.ArchiveIntervalSeconds) * time.Second,
	}, st, prommetrics.NewPipelineMetrics())
	if err != nil {
		return fmt.Errorf("failed to create archiver engine: %w", err)
	}

	retentionSweeper, err := retention.New(retention.Config{
		SweepInterval: time.Duration(cfg.RetentionSweepIntervalSeconds) * time.Second,
	}, st, prommetrics.NewPipelineMetrics())
	if err != nil {
		return fmt.Errorf("failed to create retention sweeper: %w", err)
	}

	// UDP ingest listener
	udpServer := ingest.NewServer(ingest.ServerConfig{
		BindAddress: cfg.BindAddress,
		Port:        cfg.SyslogPort,
	}, res, pool, prommetrics.NewIngestMetrics())

	// Write PID file if specified
	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	// Start the background engines, then the blocking listeners.
	pool.Start()
	signEngine.Start(ctx)
	archiveEngine.Start(ctx)
	retentionSweeper.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return udpServer.Serve(gctx)
	})

	if cfg.Metrics.Enabled {
		metricsServer, err := metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port})
		if err != nil {
			cancel()
			_ = g.Wait()
			shutdownEngines(udpServer, pool, signEngine, archiveEngine, retentionSweeper)
			return err
		}
		g.Go(func() error {
			return metricsServer.Start(gctx)
		})
	}

	logger.Info("Pipeline is running. Press Ctrl+C to stop.",
		"syslog_port", cfg.SyslogPort, "log_base_path", cfg.LogBasePath)

	err = g.Wait()

	logger.Info("Shutdown initiated, draining pipeline",
		"timeout", cfg.ShutdownTimeout)
	done := make(chan struct{})
	go func() {
		shutdownEngines(udpServer, pool, signEngine, archiveEngine, retentionSweeper)
		close(done)
	}()
	select {
	case <-done:
		logger.Info("Pipeline stopped gracefully")
	case <-time.After(cfg.ShutdownTimeout):
		logger.Error("Shutdown timeout exceeded, exiting with unflushed state")
	}

	if err != nil && ctx.Err() == nil {
		logger.Error("Pipeline error", "error", err)
		return err
	}
	return nil
}

// shutdownEngines stops the pipeline in dependency order: the listener
// first so no new records arrive, then the pool so every buffered record
// is flushed and sealed, then the engines that consume its output.
func shutdownEngines(
	udpServer *ingest.Server,
	pool *writerpool.Pool,
	signEngine *signer.Engine,
	archiveEngine *archiver.Engine,
	retentionSweeper *retention.Sweeper,
) {
	udpServer.Stop()
	pool.Stop()
	signEngine.Stop()
	archiveEngine.Stop()
	retentionSweeper.Stop()
}

// startDaemon starts the pipeline as a background daemon process.
func startDaemon() error {
	// Determine state directory for PID and log files
	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		stateDir = filepath.Join(homeDir, ".local", "state")
	}
	logmasterStateDir := filepath.Join(stateDir, "logmaster")

	if err := os.MkdirAll(logmasterStateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	pidPath := pidFile
	if pidPath == "" {
		pidPath = filepath.Join(logmasterStateDir, "logmaster.pid")
	}

	// Check if already running
	if _, err := os.Stat(pidPath); err == nil {
		pidData, err := os.ReadFile(pidPath)
		if err == nil {
			var pid int
			if _, err := fmt.Sscanf(string(pidData), "%d", &pid); err == nil {
				if process, err := os.FindProcess(pid); err == nil {
					if err := process.Signal(syscall.Signal(0)); err == nil {
						return fmt.Errorf("LogMaster is already running (PID %d)", pid)
					}
				}
			}
		}
		// Stale PID file, remove it
		_ = os.Remove(pidPath)
	}

	logPath := logFile
	if logPath == "" {
		logPath = filepath.Join(logmasterStateDir, "logmaster.log")
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	daemonArgs := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	cmd := exec.Command(executable, daemonArgs...)

	logFileHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	cmd.Stdout = logFileHandle
	cmd.Stderr = logFileHandle

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := cmd.Start(); err != nil {
		_ = logFileHandle.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	_ = logFileHandle.Close()

	fmt.Printf("LogMaster started in background (PID %d)\n", cmd.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)

	return nil
}
