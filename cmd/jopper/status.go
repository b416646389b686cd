package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync state and last cycle outcome",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := setup()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		status, err := a.engine.Status(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("State database: %s\n", a.cfg.StateDBPath)
		fmt.Printf("Synced notes:   %d\n", status.TotalSyncedNotes)
		fmt.Printf("Pending fails:  %d\n", status.PendingFailures)

		if last := status.LastCycle; last != nil {
			fmt.Printf("\nLast cycle (%s):\n", last.CycleID)
			fmt.Printf("   Finished: %s\n", last.EndedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Printf("   Created %d, updated %d, deleted %d, skipped %d, failed %d\n",
				last.Created, last.Updated, last.Deleted, last.Skipped, last.Failed)
			if last.Err != "" {
				fmt.Printf("   Aborted: %s\n", last.Err)
			}
		} else {
			fmt.Println("\nNo sync cycles recorded yet")
		}

		// Best effort; the target may be unreachable when only local state
		// is wanted.
		if docs, err := a.target.ListDocuments(ctx); err == nil {
			fmt.Printf("\nDocuments in Open WebUI: %d\n", len(docs))
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
