// Package cli implements the marketd command line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/LeJamon/goMarketd/internal/config"
	"github.com/LeJamon/goMarketd/internal/logging"
)

var (
	configFile string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "marketd",
	Short: "marketd - asset-state synchronization daemon",
	Long: `marketd keeps an off-chain marketplace index in sync with a ledger.
It submits signed mutations, waits for their effects, resolves the created
identifiers and writes confirmed records back to the index, with background
reconciliation for everything that did not confirm cleanly.`,
	Version: "0.1.0",
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// loadConfig loads the configuration honoring the global flags.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if debug {
		cfg.Log.Level = "debug"
	}
	return cfg, logging.New(cfg.Log), nil
}
