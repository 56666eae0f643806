package cli

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/LeJamon/goMarketd/internal/di"
	"github.com/LeJamon/goMarketd/internal/index"
	"github.com/LeJamon/goMarketd/internal/journal"
)

var (
	recordsStatus string
	recordsLimit  int
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect index records",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List records by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIndex(cmd.Context(), func(ctx context.Context, idx index.Index) error {
			records, err := idx.ListByStatus(ctx, index.Status(recordsStatus), recordsLimit)
			if err != nil {
				return err
			}
			return printJSON(records)
		})
	},
}

var recordsGetCmd = &cobra.Command{
	Use:   "get <entity-id>",
	Short: "Show the latest record for an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIndex(cmd.Context(), func(ctx context.Context, idx index.Index) error {
			rec, err := idx.GetByEntity(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(rec)
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <saga-id>",
	Short: "Show the journaled transitions of a saga",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		container := di.New()
		if err := di.NewProvider(container, cfg, logger).RegisterAll(); err != nil {
			return err
		}
		jnlSvc, err := container.Get(di.ServiceJournal)
		if err != nil {
			return err
		}
		jnl := jnlSvc.(journal.Journal)
		defer jnl.Close()

		entries, err := jnl.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(entries)
	},
}

func init() {
	recordsListCmd.Flags().StringVar(&recordsStatus, "status", "degraded", "record status to list")
	recordsListCmd.Flags().IntVar(&recordsLimit, "limit", 50, "maximum records to print")
	recordsCmd.AddCommand(recordsListCmd, recordsGetCmd)
	rootCmd.AddCommand(recordsCmd, historyCmd)
}

func withIndex(ctx context.Context, fn func(ctx context.Context, idx index.Index) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	container := di.New()
	if err := di.NewProvider(container, cfg, logger).RegisterAll(); err != nil {
		return err
	}
	idxSvc, err := container.Get(di.ServiceIndex)
	if err != nil {
		return err
	}
	idx := idxSvc.(index.Index)
	if err := idx.Open(ctx); err != nil {
		return err
	}
	defer idx.Close(context.Background())
	return fn(ctx, idx)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
