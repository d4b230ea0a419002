// Command perppool runs the synthetic-exposure pool service and its
// operational subcommands.
package main

import (
	"PerpPool/internal/config"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Default()

	root := &cobra.Command{
		Use:           "perppool",
		Short:         "Perpetual synthetic-exposure margin and settlement pool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&cfg.PostgresURL, "postgres", cfg.PostgresURL, "Postgres DSN (PERP_POSTGRES_DSN)")
	flags.StringVar(&cfg.GenesisPath, "genesis", cfg.GenesisPath, "genesis file (PERP_GENESIS)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (PERP_LOG_LEVEL)")

	root.AddCommand(
		newServeCmd(&cfg),
		newMigrateCmd(&cfg),
		newGenesisCmd(&cfg),
	)
	return root
}
