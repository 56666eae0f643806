package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LeJamon/goMarketd/internal/di"
	"github.com/LeJamon/goMarketd/internal/index"
	"github.com/LeJamon/goMarketd/internal/sweep"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one reconciliation pass and exit",
	Long: `Run a single reconciliation pass over the index: replay
failed-writeback records, re-resolve degraded records and repair stale
pending records. Useful for operators when the daemon's background sweep is
disabled.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	container := di.New()
	if err := di.NewProvider(container, cfg, logger).RegisterAll(); err != nil {
		return err
	}

	ctx := cmd.Context()

	idxSvc, err := container.Get(di.ServiceIndex)
	if err != nil {
		return err
	}
	idx := idxSvc.(index.Index)
	if err := idx.Open(ctx); err != nil {
		return err
	}
	defer idx.Close(context.Background())

	sweeperSvc, err := container.Get(di.ServiceSweeper)
	if err != nil {
		return err
	}
	sweeper := sweeperSvc.(*sweep.Sweeper)

	writebacks, err := sweeper.SweepWritebackFailures(ctx)
	if err != nil {
		return fmt.Errorf("sweeping failed-writeback records: %w", err)
	}
	degraded, err := sweeper.SweepDegraded(ctx)
	if err != nil {
		return fmt.Errorf("sweeping degraded records: %w", err)
	}
	pending, err := sweeper.SweepStalePending(ctx)
	if err != nil {
		return fmt.Errorf("sweeping stale pending records: %w", err)
	}

	fmt.Printf("repaired %d failed-writeback, %d degraded, %d stale pending\n",
		writebacks, degraded, pending)
	return nil
}
