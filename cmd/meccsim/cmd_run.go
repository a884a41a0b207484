package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/meccsim/internal/config"
	"github.com/nvandessel/meccsim/internal/engine"
	"github.com/nvandessel/meccsim/internal/export"
	"github.com/nvandessel/meccsim/internal/metrics"
	"github.com/nvandessel/meccsim/internal/scenario"
	"github.com/nvandessel/meccsim/internal/store"
)

// addScenarioFlags registers the flags that select and adjust a scenario.
func addScenarioFlags(cmd *cobra.Command, seed bool) {
	cmd.Flags().String("preset", "smoking", "Built-in scenario: "+strings.Join(scenario.PresetNames(), ", "))
	cmd.Flags().String("scenario", "", "YAML scenario file (overrides --preset)")
	cmd.Flags().Int("steps", 0, "Number of steps (default: the scenario's own)")
	if seed {
		cmd.Flags().Uint64("seed", 0, "Random seed (default: the scenario's own)")
	}
}

// scenarioFromFlags resolves --scenario or --preset and applies --steps,
// --seed and --trained when they were given.
func scenarioFromFlags(cmd *cobra.Command) (scenario.Config, error) {
	preset, _ := cmd.Flags().GetString("preset")
	path, _ := cmd.Flags().GetString("scenario")

	var (
		cfg scenario.Config
		err error
	)
	if path != "" {
		cfg, err = scenario.LoadFile(path)
	} else {
		cfg, err = scenario.Preset(preset)
	}
	if err != nil {
		return scenario.Config{}, err
	}

	if cmd.Flags().Changed("steps") {
		cfg.Steps, _ = cmd.Flags().GetInt("steps")
		if cfg.Steps < 0 {
			return scenario.Config{}, fmt.Errorf("--steps must be non-negative, got %d", cfg.Steps)
		}
	}
	if f := cmd.Flags().Lookup("seed"); f != nil && f.Changed {
		cfg.Seed, _ = cmd.Flags().GetUint64("seed")
	}
	if f := cmd.Flags().Lookup("trained"); f != nil && f.Changed {
		trained, _ := cmd.Flags().GetBool("trained")
		cfg = cfg.WithTrained(trained)
	}

	if err := cfg.Validate(); err != nil {
		return scenario.Config{}, err
	}
	return cfg, nil
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one simulation",
		Long: `Run a preset or scenario file and print the final metrics row.

Examples:
  meccsim run                                  # Smoking preset, untrained staff
  meccsim run --preset alcohol --trained       # Alcohol preset, trained staff
  meccsim run --scenario town.yaml --steps 52  # Custom scenario
  meccsim run --seed 7 --save                  # Keep the run in the store
  meccsim run --export out.arrow               # Write every row to a file`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			save, _ := cmd.Flags().GetBool("save")
			exportPath, _ := cmd.Flags().GetString("export")
			name, _ := cmd.Flags().GetString("name")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			sc, err := scenarioFromFlags(cmd)
			if err != nil {
				return err
			}

			logger := newLogger(cmd, cfg)
			events := openEvents(cfg)
			defer events.Close()

			table, err := engine.Simulate(cmd.Context(), sc, -1, logger, eventSink(events, armLabel(sc.Name, sc.Trained)))
			if err != nil {
				return fmt.Errorf("simulation failed: %w", err)
			}

			out := runOutput{Name: sc.Name, Seed: sc.Seed, Trained: sc.Trained, Population: sc.Population, Steps: sc.Steps}
			if exportPath != "" {
				if err := writeExport(exportPath, table); err != nil {
					return err
				}
				out.Export = exportPath
			}
			if save {
				id, err := saveRun(cmd, cfg, name, sc, table)
				if err != nil {
					return err
				}
				out.RunID = id
			}

			final, _ := table.Last()
			if jsonOut {
				out.Final = finalMap(table, final)
				return writeJSON(cmd.OutOrStdout(), out)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s: %d people, %d steps, seed %d, %s staff\n",
				valueOrDefault(sc.Name, "scenario"), sc.Population, sc.Steps, sc.Seed, trainedWord(sc.Trained))
			fmt.Fprintln(w)
			printRow(w, table, final)
			if out.Export != "" {
				fmt.Fprintf(w, "\nExported %d rows to %s\n", table.Len(), out.Export)
			}
			if out.RunID != "" {
				fmt.Fprintf(w, "Saved run %s\n", out.RunID)
			}
			return nil
		},
	}

	addScenarioFlags(cmd, true)
	cmd.Flags().Bool("trained", false, "Use trained intervention probabilities")
	cmd.Flags().Bool("save", false, "Save the run to the run store")
	cmd.Flags().String("export", "", "Write all rows to a .csv, .json or .arrow file")
	cmd.Flags().String("name", "", "Name for the saved run (default: scenario name)")

	return cmd
}

func newCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Run untrained and trained staff with the same seed",
		Long: `Run the scenario twice with an identical seed, once with untrained and
once with trained staff, and print the final rows side by side.

With --export out.csv the rows are written to out-untrained.csv and
out-trained.csv.

Examples:
  meccsim compare
  meccsim compare --preset alcohol --seed 3
  meccsim compare --save --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			save, _ := cmd.Flags().GetBool("save")
			exportPath, _ := cmd.Flags().GetString("export")
			name, _ := cmd.Flags().GetString("name")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			sc, err := scenarioFromFlags(cmd)
			if err != nil {
				return err
			}

			logger := newLogger(cmd, cfg)
			events := openEvents(cfg)
			defer events.Close()

			arms := []scenario.Config{sc.WithTrained(false), sc.WithTrained(true)}
			tables := make([]*metrics.Table, len(arms))
			outs := make([]runOutput, len(arms))
			for i, arm := range arms {
				label := armLabel(arm.Name, arm.Trained)
				tables[i], err = engine.Simulate(cmd.Context(), arm, -1, logger.With("arm", trainedWord(arm.Trained)), eventSink(events, label))
				if err != nil {
					return fmt.Errorf("%s simulation failed: %w", trainedWord(arm.Trained), err)
				}
				outs[i] = runOutput{Name: arm.Name, Seed: arm.Seed, Trained: arm.Trained, Population: arm.Population, Steps: arm.Steps}

				if exportPath != "" {
					path := armPath(exportPath, arm.Trained)
					if err := writeExport(path, tables[i]); err != nil {
						return err
					}
					outs[i].Export = path
				}
				if save {
					runName := name
					if runName != "" {
						runName = armLabel(runName, arm.Trained)
					}
					id, err := saveRun(cmd, cfg, runName, arm, tables[i])
					if err != nil {
						return err
					}
					outs[i].RunID = id
				}
			}

			untrained, _ := tables[0].Last()
			trained, _ := tables[1].Last()
			cols := tables[0].Columns()

			if jsonOut {
				outs[0].Final = finalMap(tables[0], untrained)
				outs[1].Final = finalMap(tables[1], trained)
				diff := make(map[string]float64, len(cols))
				for _, c := range cols {
					if c.Name == metrics.ColStep {
						continue
					}
					diff[c.Name] = c.Value(trained) - c.Value(untrained)
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"untrained":  outs[0],
					"trained":    outs[1],
					"difference": diff,
				})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s: %d people, %d steps, seed %d\n\n",
				valueOrDefault(sc.Name, "scenario"), sc.Population, sc.Steps, sc.Seed)
			fmt.Fprintf(w, "  %-32s %12s %12s %12s\n", "Metric", "Untrained", "Trained", "Difference")
			for _, c := range cols {
				if c.Name == metrics.ColStep {
					continue
				}
				u, t := c.Value(untrained), c.Value(trained)
				fmt.Fprintf(w, "  %-32s %12s %12s %12s\n", c.Name, formatValue(c, u), formatValue(c, t), formatDiff(c, t-u))
			}
			for _, o := range outs {
				if o.Export != "" {
					fmt.Fprintf(w, "\nExported %s rows to %s", trainedWord(o.Trained), o.Export)
				}
			}
			for _, o := range outs {
				if o.RunID != "" {
					fmt.Fprintf(w, "\nSaved %s run %s", trainedWord(o.Trained), o.RunID)
				}
			}
			if save || exportPath != "" {
				fmt.Fprintln(w)
			}
			return nil
		},
	}

	addScenarioFlags(cmd, true)
	cmd.Flags().Bool("save", false, "Save both runs to the run store")
	cmd.Flags().String("export", "", "Write each arm's rows to <name>-untrained/-trained.<ext>")
	cmd.Flags().String("name", "", "Name prefix for the saved runs (default: scenario name)")

	return cmd
}

// runOutput is the JSON shape of one finished run.
type runOutput struct {
	RunID      string             `json:"run_id,omitempty"`
	Name       string             `json:"name,omitempty"`
	Seed       uint64             `json:"seed"`
	Trained    bool               `json:"trained"`
	Population int                `json:"population"`
	Steps      int                `json:"steps"`
	Export     string             `json:"export,omitempty"`
	Final      map[string]float64 `json:"final,omitempty"`
}

func saveRun(cmd *cobra.Command, cfg *config.MeccsimConfig, name string, sc scenario.Config, table *metrics.Table) (string, error) {
	runs, err := openRunStore(cfg)
	if err != nil {
		return "", err
	}
	defer runs.Close()

	id, err := runs.SaveRun(cmd.Context(), store.NewRun(name, sc, table))
	if err != nil {
		return "", fmt.Errorf("failed to save run: %w", err)
	}
	return id, nil
}

func writeExport(path string, table *metrics.Table) error {
	format, err := export.FormatFromPath(path)
	if err != nil {
		return err
	}
	if err := export.WriteFile(path, format, table); err != nil {
		return fmt.Errorf("failed to export rows: %w", err)
	}
	return nil
}

// armPath inserts the arm name before the extension: out.csv -> out-trained.csv.
func armPath(path string, trained bool) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + trainedWord(trained) + ext
}

func armLabel(name string, trained bool) string {
	return valueOrDefault(name, "scenario") + "-" + trainedWord(trained)
}

func trainedWord(trained bool) string {
	if trained {
		return "trained"
	}
	return "untrained"
}

func finalMap(t *metrics.Table, r metrics.Row) map[string]float64 {
	cols := t.Columns()
	m := make(map[string]float64, len(cols))
	for _, c := range cols {
		m[c.Name] = c.Value(r)
	}
	return m
}

func printRow(w io.Writer, t *metrics.Table, r metrics.Row) {
	for _, c := range t.Columns() {
		fmt.Fprintf(w, "  %-32s %s\n", c.Name+":", formatValue(c, c.Value(r)))
	}
}

func formatValue(c metrics.Column, v float64) string {
	if c.Integer {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}

func formatDiff(c metrics.Column, v float64) string {
	if c.Integer {
		return fmt.Sprintf("%+d", int64(v))
	}
	return fmt.Sprintf("%+.2f", v)
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
