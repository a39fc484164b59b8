package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/partflow/partflow"
	"github.com/partflow/partflow/config"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Abort stale open transfers",
	Long: `Abort transfers that were started but never completed or aborted.

Abandoned transfers keep their multipart sessions open on the object
store, which accrues storage cost indefinitely. This command releases
the sessions, removes the part records, and marks the transfers
aborted.

Run this periodically, for example from cron.`,
	RunE: runSweep,
}

var (
	sweepOlderThan time.Duration
	sweepLimit     int
)

func init() {
	sweepCmd.Flags().DurationVar(&sweepOlderThan, "older-than", 0, "age threshold (default: service.sweep_after from config)")
	sweepCmd.Flags().IntVar(&sweepLimit, "limit", 100, "page size for listing stale transfers")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.FromContext(ctx)
	if err != nil {
		return err
	}

	repo, closeDB, err := openRepo(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer closeDB()

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	coordinator, err := buildCoordinator(repo, store, cfg)
	if err != nil {
		return fmt.Errorf("create coordinator: %w", err)
	}

	slog.Info("starting sweep", "older_than", sweepOlderThan, "limit", sweepLimit)

	aborted, err := coordinator.Sweep(ctx, partflow.SweepQuery{
		OlderThan: sweepOlderThan,
		Limit:     sweepLimit,
	})
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	slog.Info("sweep complete", "transfers_aborted", aborted)
	return nil
}
