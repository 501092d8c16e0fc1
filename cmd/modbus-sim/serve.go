package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	modbus "github.com/edgeo-scada/modbus-sim"
	"github.com/edgeo-scada/modbus-sim/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the simulator",
	Long: `Run the Modbus TCP simulator until interrupted.

Store modes:
  shared          - one store answers every unit id on every connection (default)
  per-connection  - every connection starts from its own copy of the seeded store
  per-unit        - one store per unit id listed in --units; other unit ids get
                    exception 0x0A unless --auto-provision is set

Every flag can also be set in the config file or through MODBUS_SIM_*
environment variables, e.g. MODBUS_SIM_LISTEN=0.0.0.0:502.`,
	Example: `  modbus-sim serve --listen 0.0.0.0:502
  modbus-sim serve --mode per-unit --units 1,2,10-12 --auto-provision
  modbus-sim serve --config ./sim.yaml --metrics-listen :9102`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("listen", "127.0.0.1:5020", "Address to listen on")
	f.String("mode", config.ModeShared, "Store mode: shared, per-connection, per-unit")
	f.String("units", "1", "Unit ids served in per-unit mode, e.g. 1,2,5-10")
	f.Bool("auto-provision", false, "Create a store for unknown unit ids in per-unit mode")
	f.Int("max-conns", 100, "Maximum concurrent connections")
	f.Duration("idle-timeout", modbus.DefaultIdleTimeout, "Close connections idle for this long (0 disables)")
	f.String("metrics-listen", "", "Address for the Prometheus /metrics endpoint (empty disables)")

	v.BindPFlag("listen", f.Lookup("listen"))
	v.BindPFlag("mode", f.Lookup("mode"))
	v.BindPFlag("units", f.Lookup("units"))
	v.BindPFlag("auto_provision", f.Lookup("auto-provision"))
	v.BindPFlag("max_conns", f.Lookup("max-conns"))
	v.BindPFlag("idle_timeout", f.Lookup("idle-timeout"))
	v.BindPFlag("metrics.listen", f.Lookup("metrics-listen"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}

	log, closeLog, err := setupLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(log)

	policy, err := cfg.Policy()
	if err != nil {
		return fmt.Errorf("build store policy: %w", err)
	}

	metrics := modbus.NewServerMetrics()
	server := modbus.NewServer(policy,
		modbus.WithServerLogger(log),
		modbus.WithMaxConnections(cfg.MaxConns),
		modbus.WithIdleTimeout(cfg.IdleTimeout),
		modbus.WithMetrics(metrics),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Listen != "" {
		exporter := modbus.NewExporter(metrics, modbus.ExporterOptions{
			GoCollector:      cfg.Metrics.GoCollector,
			ProcessCollector: cfg.Metrics.ProcessCollector,
		})
		go func() {
			if err := exporter.ListenAndServe(ctx, cfg.Metrics.Listen, log); err != nil {
				log.Error("metrics listener failed", slog.String("error", err.Error()))
			}
		}()
	}

	log.Info("starting simulator",
		slog.String("mode", cfg.Mode),
		slog.String("units", cfg.Units),
		slog.Int("seeds", len(cfg.Seed)))

	return server.ListenAndServeContext(ctx, cfg.Listen)
}
