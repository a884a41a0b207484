package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/meccsim/internal/batch"
	"github.com/nvandessel/meccsim/internal/metrics"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Rerun a scenario over many seeds for both staff settings",
		Long: `Run the scenario once per seed with untrained and once with trained
staff, for seeds base-seed..base-seed+iterations-1, and summarize the final
rows of each arm (mean, min, max, 5th and 95th percentile).

Defaults for --iterations and --workers come from the batch section of
~/.meccsim/config.yaml.

Examples:
  meccsim batch --iterations 500
  meccsim batch --preset alcohol --workers 8
  meccsim batch --json > results.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			baseSeed, _ := cmd.Flags().GetUint64("base-seed")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			sc, err := scenarioFromFlags(cmd)
			if err != nil {
				return err
			}

			iterations := cfg.Batch.Iterations
			if cmd.Flags().Changed("iterations") {
				iterations, _ = cmd.Flags().GetInt("iterations")
			}
			workers := cfg.Batch.Workers
			if cmd.Flags().Changed("workers") {
				workers, _ = cmd.Flags().GetInt("workers")
			}
			if iterations <= 0 {
				return fmt.Errorf("--iterations must be positive, got %d", iterations)
			}
			if workers <= 0 {
				return fmt.Errorf("--workers must be positive, got %d", workers)
			}

			res, err := batch.Run(cmd.Context(), sc, batch.Options{
				Iterations: iterations,
				BaseSeed:   baseSeed,
				Workers:    workers,
				Steps:      -1,
			}, newLogger(cmd, cfg))
			if err != nil {
				return fmt.Errorf("batch failed: %w", err)
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), res)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s: %d iterations per arm, seeds %d..%d, %d steps\n\n",
				valueOrDefault(res.Name, "scenario"), iterations, baseSeed, baseSeed+uint64(iterations)-1, sc.Steps)
			fmt.Fprintf(w, "  %-32s %24s %24s\n", "Metric (mean [p5, p95])", "Untrained", "Trained")
			for _, name := range res.Columns {
				if name == metrics.ColStep {
					continue
				}
				fmt.Fprintf(w, "  %-32s %24s %24s\n", name,
					formatStat(res.Untrained.Summary[name]), formatStat(res.Trained.Summary[name]))
			}

			d := res.FinalStageDifference
			last := res.Stages[len(res.Stages)-1]
			fmt.Fprintf(w, "\nTrained minus untrained in %s: mean %+.2f, min %+.0f, max %+.0f, [p5, p95] [%+.2f, %+.2f]\n",
				last, d.Mean, d.Min, d.Max, d.P5, d.P95)
			return nil
		},
	}

	addScenarioFlags(cmd, false)
	cmd.Flags().Int("iterations", 0, "Seeds per arm (default from config)")
	cmd.Flags().Int("workers", 0, "Concurrent simulations (default from config)")
	cmd.Flags().Uint64("base-seed", 0, "First seed")

	return cmd
}

func formatStat(s batch.Stat) string {
	return fmt.Sprintf("%.2f [%.2f, %.2f]", s.Mean, s.P5, s.P95)
}
