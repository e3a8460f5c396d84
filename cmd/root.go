// Package cmd wires the janitor's invocation surface: flag and config
// resolution, logger construction, and per-path dispatch into the usage
// controller. Everything algorithmic lives under internal/.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/agentic-research/reclaim/internal/config"
	"github.com/agentic-research/reclaim/internal/usage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	flagHigh     int
	flagLow      int
	flagMax      int
	flagScanOnly bool
	flagTestRun  bool
	flagConfig   string
	flagVerbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "reclaim [flags] path...",
	Short: "Reclaim disk space by evicting least-recently-accessed files",
	Long: `reclaim keeps a persistent per-mount index of file metadata and, when
utilization of the containing filesystem exceeds the high-water mark, deletes
the least-recently-accessed entries until it drops to the low-water mark.
Below the high-water mark it cheaply refreshes the index instead.

Intended to run unattended from a periodic scheduler; every destructive step
re-verifies the live filesystem first, so concurrent writers are safe.`,
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger(flagVerbose)

		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}

		// Flags win over config file and environment.
		if cmd.Flags().Changed("high") {
			cfg.HighWaterPercent = flagHigh
		}
		if cmd.Flags().Changed("low") {
			cfg.LowWaterPercent = flagLow
		}
		if cmd.Flags().Changed("max") {
			cfg.MaxCandidates = flagMax
		}

		if flagTestRun {
			fmt.Fprintln(cmd.OutOrStdout(), "test run, configuration loaded successfully")
			return nil
		}

		ctrl := usage.NewController(usage.Options{
			HighWaterPercent:    cfg.HighWaterPercent,
			LowWaterPercent:     cfg.LowWaterPercent,
			MaxCandidates:       cfg.MaxCandidates,
			QuickScanBudget:     cfg.QuickScanBudget,
			DatabaseDir:         cfg.DatabaseDir,
			CleanupEmptyParents: cfg.CleanupEmptyParents,
		}, logger)

		// Paths are processed sequentially and independently: a store-open
		// failure on one mount must not stop the janitor from tending the
		// others.
		var errs []error
		for _, path := range args {
			if flagScanOnly {
				_, err = ctrl.Scan(path)
			} else {
				err = ctrl.Process(path)
			}
			if err != nil {
				logger.Error().Str("path", path).Err(err).Msg("processing failed")
				errs = append(errs, fmt.Errorf("%s: %w", path, err))
			}
		}
		return errors.Join(errs...)
	},
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func init() {
	rootCmd.Flags().IntVar(&flagHigh, "high", 70, "high-water mark in percent; above this, reclaiming starts")
	rootCmd.Flags().IntVar(&flagLow, "low", 70, "low-water mark in percent; reclaiming stops at or below this")
	rootCmd.Flags().IntVar(&flagMax, "max", 10000, "maximum eviction candidates examined per round")
	rootCmd.Flags().BoolVar(&flagScanOnly, "scan", false, "run a full index scan instead of the usage-driven loop")
	rootCmd.Flags().BoolVar(&flagTestRun, "test-run", false, "validate configuration and exit without touching the filesystem")
	rootCmd.Flags().StringVar(&flagConfig, "config", "", "path to a config file (default: ./reclaim.yaml if present)")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command, reporting any error on stderr.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "reclaim:", err)
		os.Exit(1)
	}
}
