package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/nvandessel/meccsim/internal/config"
	"github.com/nvandessel/meccsim/internal/engine"
	"github.com/nvandessel/meccsim/internal/logging"
	"github.com/nvandessel/meccsim/internal/store"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "meccsim",
		Short: "Making Every Contact Count - behavior change simulation",
		Long: `meccsim simulates a population moving through the stages of a
behavior change while it visits public services whose staff may deliver a
brief intervention.

Run a preset or a YAML scenario, compare trained against untrained staff,
rerun over many seeds, and keep the results in a local run store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: info, debug, trace (overrides config)")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (default ~/.meccsim)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newCompareCmd(),
		newBatchCmd(),
		newRunsCmd(),
		newExportCmd(),
		newArchiveCmd(),
		newConfigCmd(),
		newPresetsCmd(),
		newServeCmd(),
		newMCPServerCmd(),
	)

	return rootCmd
}

// loadConfig loads and validates the configuration with the global flag
// overrides applied.
func loadConfig(cmd *cobra.Command) (*config.MeccsimConfig, error) {
	cfg, err := configFromFlags(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// configFromFlags loads the configuration and applies --log-level and
// --data-dir without validating the result.
func configFromFlags(cmd *cobra.Command) (*config.MeccsimConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	return cfg, nil
}

// newLogger returns the operational logger. It always writes to stderr so
// stdout stays clean for results and the MCP transport.
func newLogger(cmd *cobra.Command, cfg *config.MeccsimConfig) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
}

// openRunStore opens the SQLite run store in the configured data directory.
func openRunStore(cfg *config.MeccsimConfig) (*store.SQLiteRunStore, error) {
	dir, err := cfg.DataDir()
	if err != nil {
		return nil, err
	}
	runs, err := store.NewSQLiteRunStore(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	return runs, nil
}

// openEvents opens the event trace for the configured level. It returns
// nil at info level.
func openEvents(cfg *config.MeccsimConfig) *logging.EventLogger {
	dir, err := cfg.DataDir()
	if err != nil {
		return nil
	}
	return logging.NewEventLogger(dir, cfg.Logging.Level)
}

// eventSink labels events with run and hides a nil logger behind a nil
// interface.
func eventSink(events *logging.EventLogger, run string) engine.EventSink {
	if events == nil {
		return nil
	}
	return events.ForRun(run)
}

// signalContext returns a context cancelled on a shutdown signal.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, shutdownSignals...)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
