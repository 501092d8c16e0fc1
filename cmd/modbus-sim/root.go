package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/modbus-sim/internal/config"
)

var (
	cfgFile string

	// Global flags
	outputFmt string
	verbose   bool
	noColor   bool

	v      = config.NewViper()
	logger = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "modbus-sim",
	Short: "A Modbus TCP device simulator",
	Long: `modbus-sim simulates Modbus TCP devices with in-memory coils, discrete
inputs, holding registers and input registers.

Features:
  - Function codes 01-06, 15 and 16
  - Shared, per-connection or per-unit register stores
  - Seed values from a YAML configuration file
  - Prometheus metrics endpoint
  - Probe commands to read and write a running device

Examples:
  # Serve one shared store on the default address
  modbus-sim serve

  # Serve units 1 to 4, each with its own store, and export metrics
  modbus-sim serve --mode per-unit --units 1-4 --metrics-listen :9102

  # Read 10 holding registers from address 0
  modbus-sim probe read hr -a 0 -c 10

  # Write value 1234 to register 100
  modbus-sim probe write register -a 100 -V 1234`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml, $HOME/.modbus-sim/config.yaml or /etc/modbus-sim/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, csv")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable color output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(probeCmd)
}

// setupLogger builds the process logger from the log section of the
// configuration. --verbose always wins over the configured level.
func setupLogger(cfg config.LogConfig) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}
	if verbose {
		opts.Level = slog.LevelDebug
	}

	if cfg.File == "" || cfg.File == "-" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), func() {}, nil
	}

	f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return slog.New(slog.NewTextHandler(f, opts)), func() { f.Close() }, nil
}
