package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/config"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/report"
)

var (
	sweepOrg         string
	sweepDryRun      bool
	sweepMaxProducts int
	sweepConcurrency int
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Resolve nutrient profiles for every incomplete catalog product",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applySweepFlags(cmd, cfg)

		env, err := initEngine(ctx, "sweep")
		if err != nil {
			return err
		}
		defer env.Close()

		summary, runErr := env.Sweeper.Run(ctx)
		if summary != nil {
			b, err := report.MarshalJSON(summary)
			if err != nil {
				return err
			}
			if _, err := os.Stdout.Write(b); err != nil {
				zap.L().Warn("write summary", zap.Error(err))
			}
		}
		return runErr
	},
}

// applySweepFlags overrides config values with flags the user set.
func applySweepFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("org") {
		c.Sweep.OrganizationID = sweepOrg
	}
	if flags.Changed("dry-run") {
		c.Sweep.DryRun = sweepDryRun
	}
	if flags.Changed("max-products") {
		c.Sweep.MaxProducts = sweepMaxProducts
	}
	if flags.Changed("concurrency") {
		c.Sweep.Concurrency = sweepConcurrency
	}
}

func init() {
	sweepCmd.Flags().StringVar(&sweepOrg, "org", "", "organization ID (default from config)")
	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "resolve without writing values or tasks")
	sweepCmd.Flags().IntVar(&sweepMaxProducts, "max-products", 0, "cap on incomplete products processed (0 = no cap)")
	sweepCmd.Flags().IntVar(&sweepConcurrency, "concurrency", 1, "products processed in parallel")
	rootCmd.AddCommand(sweepCmd)
}
