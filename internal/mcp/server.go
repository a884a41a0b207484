// Package mcp provides an MCP (Model Context Protocol) server that lets
// agent clients run and compare simulations.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/meccsim/internal/ratelimit"
	"github.com/nvandessel/meccsim/internal/store"
)

// AuditFile is the audit log name inside the data directory.
const AuditFile = "audit.jsonl"

// Server wraps the MCP SDK server and provides meccsim-specific functionality.
type Server struct {
	server        *sdk.Server
	runs          store.RunStore
	ownsRuns      bool
	toolLimiters  ratelimit.ToolLimiters
	auditLogger   *AuditLogger
	logger        *slog.Logger
	maxSteps      int
	maxPopulation int
	batchWorkers  int
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "meccsim")
	Version string // Server version

	// DataDir holds the run database and audit log.
	DataDir string

	// Runs overrides the store opened in DataDir.
	Runs store.RunStore

	Logger        *slog.Logger
	MaxSteps      int
	MaxPopulation int
	BatchWorkers  int
}

// NewServer creates a new MCP server with meccsim tools.
func NewServer(cfg *Config) (*Server, error) {
	runs := cfg.Runs
	owns := false
	if runs == nil {
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		sqlStore, err := store.NewSQLiteRunStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open run store: %w", err)
		}
		runs = sqlStore
		owns = true
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 1000
	}
	maxPopulation := cfg.MaxPopulation
	if maxPopulation <= 0 {
		maxPopulation = 100000
	}
	workers := cfg.BatchWorkers
	if workers <= 0 {
		workers = 4
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			logger.Debug("mcp client initialized")
		},
	})

	s := &Server{
		server:        mcpServer,
		runs:          runs,
		ownsRuns:      owns,
		toolLimiters:  ratelimit.NewToolLimiters(),
		logger:        logger,
		maxSteps:      maxSteps,
		maxPopulation: maxPopulation,
		batchWorkers:  workers,
	}
	if cfg.DataDir != "" {
		s.auditLogger = NewAuditLogger(filepath.Join(cfg.DataDir, AuditFile))
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, shutdownSignals...)
	defer stop()

	err := s.server.Run(ctx, &sdk.StdioTransport{})

	s.Close()

	return err
}

// Close releases the run store (when owned) and the audit log.
func (s *Server) Close() error {
	var firstErr error
	if s.ownsRuns {
		if err := s.runs.Close(); err != nil {
			firstErr = err
		}
		s.ownsRuns = false
	}
	if err := s.auditLogger.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	s.auditLogger = nil
	return firstErr
}
