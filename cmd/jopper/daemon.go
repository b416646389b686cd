package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jopper-sync/jopper/internal/daemon"
	"github.com/jopper-sync/jopper/internal/dashboard"
	"github.com/jopper-sync/jopper/internal/engine"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run sync cycles continuously on a schedule",
	Long: `Run the sync engine as a long-lived daemon.

A cycle runs immediately on startup, then once per configured interval
(sync.interval_minutes). A failed cycle is logged and retried on the
next tick. When dashboard_addr is configured, a WebSocket dashboard
broadcasts each cycle report in real time.

Stop with SIGINT or SIGTERM; an in-flight cycle is cancelled cleanly.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := setup()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.close()

		var onCycle func(*engine.CycleReport)
		if a.cfg.DashboardAddr != "" {
			dash := dashboard.NewServer(a.cfg.DashboardAddr, a.logger)
			if err := dash.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
				os.Exit(1)
			}
			defer func() {
				if err := dash.Stop(); err != nil {
					a.logger.WithError(err).Warn("Dashboard shutdown error")
				}
			}()

			onCycle = func(report *engine.CycleReport) {
				dash.BroadcastReport(report)
				if status, err := a.engine.Status(context.Background()); err == nil {
					dash.BroadcastStatus(status)
				}
			}
		}

		d, err := daemon.New(a.engine, daemon.Config{
			Interval: a.cfg.Sync.Interval,
			Logger:   a.logger,
			OnCycle:  onCycle,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
