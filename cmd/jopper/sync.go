package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a single sync cycle and exit",
	Long: `Run one reconciliation cycle:

  1. List notes in Joplin (all, or filtered by tags in tagged mode)
  2. Upload new and changed notes to Open WebUI
  3. Remove documents for notes deleted from Joplin

Individual note failures are reported but do not abort the cycle; the
command exits non-zero only when the cycle itself could not complete.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := setup()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report, err := a.engine.RunCycle(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: sync cycle failed: %v\n", err)
			os.Exit(1)
		}

		elapsed := report.EndedAt.Sub(report.StartedAt).Round(time.Millisecond)
		fmt.Printf("Sync complete in %v\n", elapsed)
		fmt.Printf("   Created: %d\n", report.Created)
		fmt.Printf("   Updated: %d\n", report.Updated)
		fmt.Printf("   Deleted: %d\n", report.Deleted)
		fmt.Printf("   Skipped: %d\n", report.Skipped)
		if report.Failed > 0 {
			fmt.Printf("   Failed:  %d\n", report.Failed)
			for _, f := range report.Failures {
				fmt.Printf("     - %s (%s): %s\n", f.NoteID, f.Kind, f.Message)
			}
			a.logger.Warn("Some notes failed to sync; they will be retried on the next run")
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
