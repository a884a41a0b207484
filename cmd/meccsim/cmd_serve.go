package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/meccsim/internal/mcp"
	"github.com/nvandessel/meccsim/internal/stream"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve simulations over HTTP and stream rows over WebSocket",
		Long: `Start the live metrics server.

Endpoints:
  GET  /healthz        liveness probe
  GET  /api/presets    built-in scenarios
  POST /api/simulate   run a simulation and return its table
  GET  /ws             stream one row per step (send a START message first)

Completed streamed runs are saved to the run store.

Examples:
  meccsim serve
  meccsim serve --addr :8090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			addr := cfg.Server.Addr
			if cmd.Flags().Changed("addr") {
				addr, _ = cmd.Flags().GetString("addr")
			}

			runs, err := openRunStore(cfg)
			if err != nil {
				return err
			}
			defer runs.Close()

			logger := newLogger(cmd, cfg)
			srv := stream.NewServer(stream.Options{
				StepInterval:  cfg.Server.StepInterval,
				MaxSteps:      cfg.Server.MaxSteps,
				MaxPopulation: cfg.Server.MaxPopulation,
				ReadTimeout:   cfg.Server.ReadTimeout,
				RateLimit:     cfg.Server.RateLimit,
				Burst:         cfg.Server.Burst,
			}, runs, logger)

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			if err := srv.ListenAndServe(ctx, addr); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("stream server stopped")
			return nil
		},
	}

	cmd.Flags().String("addr", "", "Listen address (default from config)")

	return cmd
}

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Run the MCP tool server over stdio",
		Long: `Run a Model Context Protocol server on stdin/stdout exposing the
meccsim_simulate, meccsim_compare, meccsim_batch, meccsim_presets and
meccsim_runs tools and the meccsim://presets/{name} resource.

Logs go to stderr; tool calls are audited to <data_dir>/audit.jsonl.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dataDir, err := cfg.DataDir()
			if err != nil {
				return err
			}

			server, err := mcp.NewServer(&mcp.Config{
				Name:          "meccsim",
				Version:       version,
				DataDir:       dataDir,
				Logger:        newLogger(cmd, cfg),
				MaxSteps:      cfg.Server.MaxSteps,
				MaxPopulation: cfg.Server.MaxPopulation,
				BatchWorkers:  cfg.Batch.Workers,
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}
			defer server.Close()

			return server.Run(cmd.Context())
		},
	}
}
