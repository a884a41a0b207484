package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/meccsim/internal/scenario"
)

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets [name]",
		Short: "List built-in scenarios or print one as YAML",
		Long: `Without a name, list the built-in scenarios. With a name, print that
scenario as YAML; the output is a valid --scenario file to start from.

Examples:
  meccsim presets
  meccsim presets alcohol > alcohol.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			w := cmd.OutOrStdout()

			if len(args) == 1 {
				sc, err := scenario.Preset(args[0])
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(w, sc)
				}
				return scenario.Encode(w, sc)
			}

			names := scenario.PresetNames()
			if jsonOut {
				list := make([]scenario.Config, 0, len(names))
				for _, name := range names {
					sc, _ := scenario.Preset(name)
					list = append(list, sc)
				}
				return writeJSON(w, map[string]any{"presets": list})
			}

			for _, name := range names {
				sc, _ := scenario.Preset(name)
				services := 0
				for _, g := range sc.Services {
					services += g.Count
				}
				fmt.Fprintf(w, "%-10s %d people, %d services, %d steps, seed %d\n", name, sc.Population, services, sc.Steps, sc.Seed)
				fmt.Fprintf(w, "           stages: %s\n", strings.Join(sc.Stages, " -> "))
				if cats := sc.Categories(); len(cats) > 0 {
					fmt.Fprintf(w, "           categories: %s\n", strings.Join(cats, ", "))
				}
			}
			return nil
		},
	}
}
