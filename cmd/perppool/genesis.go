package main

import (
	"PerpPool/internal/config"
	"PerpPool/internal/core"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newGenesisCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "genesis",
		Short: "Inspect the genesis file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [file]",
		Short: "Validate a genesis file and print the pool it bootstraps",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfg.GenesisPath
			if len(args) == 1 {
				path = args[0]
			}
			genesis, err := config.LoadGenesis(path)
			if err != nil {
				return err
			}
			engine, err := core.NewEngine(genesis, nil)
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			return printGenesis(cmd, genesis, engine)
		},
	})
	return cmd
}

func printGenesis(cmd *cobra.Command, genesis core.Genesis, engine *core.Engine) error {
	totals := engine.PoolTotals()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "pool %s: %d assets, %d funded accounts\n", engine.PoolID(), len(totals.Assets), len(genesis.Endowments))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ASSET\tINITIAL_IM\tLIQUIDATION\tFEE")
	for _, a := range totals.Assets {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.Asset, a.Params.InitialIMRatio, a.Params.LiquidationRatio, a.Params.TransactionFee)
	}
	return tw.Flush()
}
