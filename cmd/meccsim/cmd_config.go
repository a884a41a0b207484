package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect meccsim configuration",
		Long: `View and check meccsim configuration settings.

Configuration is read from ~/.meccsim/config.yaml, then MECCSIM_*
environment variables, then the global --log-level and --data-dir flags.

Examples:
  meccsim config show          # Effective settings as YAML
  meccsim config show --json   # Effective settings as JSON
  meccsim config validate      # Check the settings`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigValidateCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := configFromFlags(cmd)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			dataDir, err := cfg.DataDir()
			if err != nil {
				return err
			}
			archiveDir, err := cfg.ArchiveDir()
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"config":      cfg,
					"data_dir":    dataDir,
					"archive_dir": archiveDir,
				})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "# data dir:    %s\n", dataDir)
			fmt.Fprintf(w, "# archive dir: %s\n", archiveDir)
			enc := yaml.NewEncoder(w)
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			return enc.Close()
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := configFromFlags(cmd)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			verr := cfg.Validate()

			if jsonOut {
				out := map[string]any{"valid": verr == nil}
				if verr != nil {
					out["error"] = verr.Error()
				}
				if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
			}
			if verr != nil {
				return fmt.Errorf("invalid configuration: %w", verr)
			}
			if !jsonOut {
				fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			}
			return nil
		},
	}
}
