package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvandessel/meccsim/internal/archive"
	"github.com/nvandessel/meccsim/internal/config"
	"github.com/nvandessel/meccsim/internal/pathutil"
)

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive saved runs to compressed files",
		Long: `Write saved runs to zstd-compressed, checksummed archive files and
restore them later.

Default location: ~/.meccsim/archives/meccsim-run-YYYYMMDD-HHMMSS-<id>.mrun.zst
After each archive the retention limits in the archive section of
~/.meccsim/config.yaml are applied (default: keep the newest 10).

Examples:
  meccsim archive create 3f2a
  meccsim archive list
  meccsim archive verify ~/.meccsim/archives/meccsim-run-20260101-120000-3f2a9c10.mrun.zst
  meccsim archive restore backup/meccsim-run-20260101-120000-3f2a9c10.mrun.zst`,
	}

	cmd.AddCommand(
		newArchiveCreateCmd(),
		newArchiveListCmd(),
		newArchiveVerifyCmd(),
		newArchiveRestoreCmd(),
	)

	return cmd
}

func newArchiveCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <run-id>",
		Short: "Archive a saved run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			guard, err := archiveGuard(cfg)
			if err != nil {
				return err
			}
			if dir == "" {
				if dir, err = cfg.ArchiveDir(); err != nil {
					return err
				}
			} else if _, err := guard.Check(dir); err != nil {
				return fmt.Errorf("archive directory rejected: %w", err)
			}

			runs, err := openRunStore(cfg)
			if err != nil {
				return err
			}
			defer runs.Close()

			path, header, err := archive.Create(cmd.Context(), runs, args[0], dir)
			if err != nil {
				return fmt.Errorf("archive failed: %w", err)
			}

			// Apply retention policy
			var deleted []string
			policy, err := cfg.RetentionPolicy()
			if err == nil {
				deleted, err = archive.ApplyRetention(dir, policy)
			}
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to apply retention: %v\n", err)
			}

			var sizeBytes int64
			if info, statErr := os.Stat(path); statErr == nil {
				sizeBytes = info.Size()
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"path":       path,
					"header":     header,
					"size_bytes": sizeBytes,
					"removed":    deleted,
				})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Archived run %s: %d rows (%s, %d bytes)\n", shortID(header.RunID), header.Rows, header.Codec, sizeBytes)
			fmt.Fprintf(w, "  Path: %s\n", path)
			for _, d := range deleted {
				fmt.Fprintf(w, "  Removed by retention: %s\n", filepath.Base(d))
			}
			return nil
		},
	}

	cmd.Flags().String("dir", "", "Archive directory (default from config)")

	return cmd
}

func newArchiveListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archives, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			dir, _ := cmd.Flags().GetString("dir")

			if dir == "" {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				if dir, err = cfg.ArchiveDir(); err != nil {
					return err
				}
			}

			infos, err := archive.List(dir)
			if err != nil {
				return fmt.Errorf("failed to list archives: %w", err)
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"dir":      dir,
					"archives": infos,
					"count":    len(infos),
				})
			}

			w := cmd.OutOrStdout()
			if len(infos) == 0 {
				fmt.Fprintf(w, "No archives in %s\n", dir)
				return nil
			}
			fmt.Fprintf(w, "Archives in %s:\n\n", dir)
			var total int64
			for _, info := range infos {
				total += info.Size
				fmt.Fprintf(w, "  %s  %-8s  %-24s  %8d bytes  %s\n",
					info.CreatedAt.Local().Format("2006-01-02 15:04"), shortID(info.RunID), truncate(info.Name, 24), info.Size, filepath.Base(info.Path))
			}
			fmt.Fprintf(w, "\n%d archive(s), %d bytes\n", len(infos), total)
			return nil
		},
	}

	cmd.Flags().String("dir", "", "Archive directory (default from config)")

	return cmd
}

func newArchiveVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "Check an archive's header and checksum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			header, err := archive.Verify(args[0])
			if err != nil {
				if jsonOut {
					writeJSON(cmd.OutOrStdout(), map[string]any{
						"path":  args[0],
						"valid": false,
						"error": err.Error(),
					})
				}
				return fmt.Errorf("verification failed: %w", err)
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"path":   args[0],
					"valid":  true,
					"header": header,
				})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Archive OK: %s\n", args[0])
			fmt.Fprintf(w, "  Run:     %s (%s)\n", header.RunID, valueOrDefault(header.Name, "unnamed"))
			fmt.Fprintf(w, "  Version: %d, codec %s\n", header.Version, header.Codec)
			fmt.Fprintf(w, "  Rows:    %d\n", header.Rows)
			fmt.Fprintf(w, "  Created: %s\n", header.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

func newArchiveRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <file>",
		Short: "Restore an archived run into the run store",
		Long: `Restore a run from an archive file. A run whose ID is already in the
store is skipped rather than overwritten.

The file must be inside the archive directory, the data directory or the
current working directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			guard, err := archiveGuard(cfg)
			if err != nil {
				return err
			}
			path, err := guard.Check(args[0])
			if err != nil {
				return fmt.Errorf("restore path rejected: %w", err)
			}

			runs, err := openRunStore(cfg)
			if err != nil {
				return err
			}
			defer runs.Close()

			id, skipped, err := archive.Restore(cmd.Context(), runs, path)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"run_id":  id,
					"skipped": skipped,
				})
			}
			if skipped {
				fmt.Fprintf(cmd.OutOrStdout(), "Run %s already in the store, skipped\n", id)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored run %s\n", id)
			return nil
		},
	}
}

// archiveGuard allows the configured archive and data directories plus the
// working directory.
func archiveGuard(cfg *config.MeccsimConfig) (*pathutil.Guard, error) {
	archiveDir, err := cfg.ArchiveDir()
	if err != nil {
		return nil, err
	}
	dataDir, err := cfg.DataDir()
	if err != nil {
		return nil, err
	}
	return pathutil.ArchiveGuard(archiveDir, dataDir)
}
