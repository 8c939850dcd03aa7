package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var resolveDryRun bool

var resolveCmd = &cobra.Command{
	Use:   "resolve <product-id>",
	Short: "Resolve the nutrient profile of a single catalog product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cmd.Flags().Changed("dry-run") {
			cfg.Sweep.DryRun = resolveDryRun
		}

		env, err := initEngine(ctx, "resolve")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Sweeper.ResolveOne(ctx, args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(res), "encode result")
	},
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveDryRun, "dry-run", false, "resolve without writing values or tasks")
	rootCmd.AddCommand(resolveCmd)
}
