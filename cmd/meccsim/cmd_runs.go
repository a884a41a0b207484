package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Manage saved runs",
		Long: `List, inspect and delete runs saved with --save.

Runs are identified by their ID or any unique prefix of at least 4
characters.

Examples:
  meccsim runs list
  meccsim runs show 3f2a
  meccsim runs delete 3f2a9c10`,
	}

	cmd.AddCommand(
		newRunsListCmd(),
		newRunsShowCmd(),
		newRunsDeleteCmd(),
	)

	return cmd
}

func newRunsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			runs, err := openRunStore(cfg)
			if err != nil {
				return err
			}
			defer runs.Close()

			list, err := runs.ListRuns(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"runs":  list,
					"count": len(list),
				})
			}

			w := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(w, "No saved runs. Use 'meccsim run --save' to keep one.")
				return nil
			}
			fmt.Fprintf(w, "%-8s  %-24s  %6s  %-9s  %6s  %5s  %s\n", "ID", "NAME", "SEED", "STAFF", "PEOPLE", "STEPS", "CREATED")
			for _, r := range list {
				fmt.Fprintf(w, "%-8s  %-24s  %6d  %-9s  %6d  %5d  %s\n",
					shortID(r.ID), truncate(r.Name, 24), r.Seed, trainedWord(r.Trained), r.Population, r.Steps,
					r.CreatedAt.Local().Format("2006-01-02 15:04"))
			}
			fmt.Fprintf(w, "\n%d run(s)\n", len(list))
			return nil
		},
	}
}

func newRunsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a saved run and its final row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			runs, err := openRunStore(cfg)
			if err != nil {
				return err
			}
			defer runs.Close()

			run, err := runs.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			final, _ := run.Table.Last()

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"run":   run,
					"final": finalMap(run.Table, final),
				})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "ID:         %s\n", run.ID)
			fmt.Fprintf(w, "Name:       %s\n", run.Name)
			fmt.Fprintf(w, "Seed:       %d\n", run.Seed)
			fmt.Fprintf(w, "Staff:      %s\n", trainedWord(run.Trained))
			fmt.Fprintf(w, "Population: %d\n", run.Population)
			fmt.Fprintf(w, "Steps:      %d\n", run.Steps)
			fmt.Fprintf(w, "Created:    %s\n", run.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Fprintf(w, "Rows:       %d\n", run.Table.Len())
			fmt.Fprintln(w)
			printRow(w, run.Table, final)
			return nil
		},
	}
}

func newRunsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a saved run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			runs, err := openRunStore(cfg)
			if err != nil {
				return err
			}
			defer runs.Close()

			// Resolve the prefix first so the full ID can be reported.
			run, err := runs.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := runs.DeleteRun(cmd.Context(), run.ID); err != nil {
				return fmt.Errorf("failed to delete run: %w", err)
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"deleted": run.ID,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", run.ID)
			return nil
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
