package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/meccsim/internal/export"
)

func newExportCmd() *cobra.Command {
	formats := make([]string, 0, len(export.Formats()))
	for _, f := range export.Formats() {
		formats = append(formats, string(f))
	}

	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Export a saved run's rows",
		Long: `Write every row of a saved run as CSV, JSON or Arrow IPC.

The format defaults to the --output extension; without --output the rows
are written to stdout (CSV unless --format says otherwise).

Examples:
  meccsim export 3f2a --output smoking.csv
  meccsim export 3f2a --format arrow --output smoking.arrow
  meccsim export 3f2a --format json | jq '.rows[-1]'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatFlag, _ := cmd.Flags().GetString("format")
			output, _ := cmd.Flags().GetString("output")

			var (
				format export.Format
				err    error
			)
			switch {
			case formatFlag != "":
				format, err = export.ParseFormat(formatFlag)
			case output != "":
				format, err = export.FormatFromPath(output)
			default:
				format = export.FormatCSV
			}
			if err != nil {
				return err
			}

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

			if output == "" {
				return export.Write(cmd.OutOrStdout(), format, run.Table)
			}
			if err := export.WriteFile(output, format, run.Table); err != nil {
				return fmt.Errorf("failed to export run: %w", err)
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"run_id": run.ID,
					"format": format,
					"path":   output,
					"rows":   run.Table.Len(),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d rows of run %s to %s (%s)\n", run.Table.Len(), shortID(run.ID), output, format)
			return nil
		},
	}

	cmd.Flags().String("format", "", "Output format: "+strings.Join(formats, ", "))
	cmd.Flags().StringP("output", "o", "", "Output file (default: stdout)")

	return cmd
}
