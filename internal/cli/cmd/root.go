package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	cliconfig "github.com/filipexyz/beacon/internal/cli/config"
	"github.com/filipexyz/beacon/internal/cli/output"
	"github.com/filipexyz/beacon/internal/config"
	"github.com/filipexyz/beacon/internal/storage"
	"github.com/filipexyz/beacon/pkg/analytics"
)

var (
	cfgFile    string
	jsonOutput bool
	dataDir    string
	logFile    string
	logLevel   string
	cfg        *config.Config
	out        *output.Output
	logger     *slog.Logger
	logCloser  io.Closer
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "beacon",
	Short: "Track and inspect telemetry events",
	Long: `beacon drives the telemetry pipeline from a terminal. It shares the
durable client id, session and failure backups with every other context
that uses the same data directory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		out = output.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), jsonOutput)

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		// Profile is optional; environment variables take precedence.
		if profile, err := cliconfig.Load(cfgFile); err == nil {
			profile.Apply(cfg)
		}

		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		if cfg.DataDir == "" {
			cfg.DataDir = cliconfig.DefaultDataDir()
		}
		cfg.LogLevel = logLevel

		setupLogging()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
			logCloser = nil
		}
	},
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "profile file (default $HOME/.beacon/config.json)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "storage directory (default $HOME/.beacon/data)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to a rotated file instead of stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

func setupLogging() {
	var w io.Writer = os.Stderr
	if logFile != "" {
		lj := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}
		w = lj
		logCloser = lj
	} else {
		cfg.LogFormat = "text"
	}

	logger = config.NewLogger(cfg, w).With("component", "cli")
	slog.SetDefault(logger)
}

// openClient builds a popup-context client on the badger database in
// cfg.DataDir. The returned func flushes and releases it.
func openClient() (*analytics.Client, func(), error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := storage.OpenBadger(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}

	client, err := analytics.New(analytics.Popup, *cfg,
		analytics.WithStorage(storage.NewBadgerAreas(db)),
		analytics.WithLogger(logger),
	)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := client.Close(ctx); err != nil {
			logger.Warn("close client", "error", err)
		}
		if err := db.Close(); err != nil {
			logger.Warn("close storage", "error", err)
		}
	}
	return client, closeFn, nil
}
