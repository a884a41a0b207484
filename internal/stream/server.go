// Package stream serves simulations over HTTP and streams one metrics row
// per step to WebSocket clients.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nvandessel/meccsim/internal/engine"
	"github.com/nvandessel/meccsim/internal/ratelimit"
	"github.com/nvandessel/meccsim/internal/scenario"
	"github.com/nvandessel/meccsim/internal/store"
)

// Options configure a Server.
type Options struct {
	// StepInterval is the default pause between streamed rows.
	StepInterval time.Duration

	// MaxSteps caps the steps any request may run.
	MaxSteps int

	// MaxPopulation caps the people any request may simulate. Zero means
	// no cap.
	MaxPopulation int

	// ReadTimeout is how long a stream may go without hearing from its
	// client, pongs included. PingInterval must be shorter.
	ReadTimeout  time.Duration
	PingInterval time.Duration

	// RateLimit and Burst bound messages per second per client.
	RateLimit float64
	Burst     int
}

// Server hosts the HTTP API and the WebSocket stream.
type Server struct {
	opts   Options
	log    *slog.Logger
	runs   store.RunStore
	limits *ratelimit.Limiter

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

// NewServer creates a server. runs may be nil, in which case finished
// stream runs are not persisted.
func NewServer(opts Options, runs store.RunStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = 40
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	if opts.PingInterval <= 0 || opts.PingInterval >= opts.ReadTimeout {
		opts.PingInterval = opts.ReadTimeout * 9 / 10
	}
	return &Server{
		opts:   opts,
		log:    logger,
		runs:   runs,
		limits: ratelimit.NewLimiter(opts.RateLimit, opts.Burst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /api/presets", s.handlePresets)
	mux.HandleFunc("POST /api/simulate", s.handleSimulate)
	mux.HandleFunc("GET /ws", s.WSHandler())
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("stream server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	}
}

func (s *Server) handlePresets(rw http.ResponseWriter, r *http.Request) {
	out := make(map[string]scenario.Config)
	for _, name := range scenario.PresetNames() {
		cfg, _ := scenario.Preset(name)
		out[name] = cfg
	}
	writeJSON(rw, http.StatusOK, out)
}

func (s *Server) handleSimulate(rw http.ResponseWriter, r *http.Request) {
	if !s.limits.Allow(clientKey(r.RemoteAddr)) {
		writeJSON(rw, http.StatusTooManyRequests, ErrorMsg{Type: TypeError, Error: "rate limit exceeded"})
		return
	}

	var req SimulateRequest
	dec := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(rw, http.StatusBadRequest, ErrorMsg{Type: TypeError, Error: fmt.Sprintf("decoding request: %v", err)})
		return
	}
	cfg, steps, err := req.Resolve(s.opts.MaxSteps, s.opts.MaxPopulation)
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, ErrorMsg{Type: TypeError, Error: err.Error()})
		return
	}

	table, err := engine.Simulate(r.Context(), cfg, steps, s.log, nil)
	if err != nil {
		writeJSON(rw, http.StatusInternalServerError, ErrorMsg{Type: TypeError, Error: err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, table)
}

// WSHandler streams a run: the client sends START, the server answers META,
// then one ROW per step at the requested pace and DONE after the final row.
// A STOP message or a closed connection ends the run early.
func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send START first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var start StartMsg
		if err := json.Unmarshal(msg, &start); err != nil || start.Type != TypeStart {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected START"), time.Now().Add(time.Second))
			return
		}
		if start.ProtocolVersion != Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
			return
		}
		cfg, steps, err := start.request().Resolve(s.opts.MaxSteps, s.opts.MaxPopulation)
		if err != nil {
			_ = writeWS(conn, ErrorMsg{Type: TypeError, Error: err.Error()})
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "rejected"), time.Now().Add(time.Second))
			return
		}
		model, err := engine.New(cfg)
		if err != nil {
			_ = writeWS(conn, ErrorMsg{Type: TypeError, Error: err.Error()})
			return
		}
		model.SetLogger(s.log, nil)

		interval := s.opts.StepInterval
		if start.IntervalMS > 0 {
			interval = time.Duration(start.IntervalMS) * time.Millisecond
		}

		key := fmt.Sprintf("S%d", s.nextID.Add(1))
		defer s.limits.Forget(key)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Clients need not send anything after START; pongs keep the read
		// deadline moving.
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		})
		go func() {
			ticker := time.NewTicker(s.opts.PingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop: STOP or a read error ends the run.
		var stopped atomic.Bool
		go func() {
			defer cancel()
			for {
				_ = conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var m struct {
					Type string `json:"type"`
				}
				if json.Unmarshal(msg, &m) == nil && m.Type == TypeStop {
					stopped.Store(true)
					return
				}
			}
		}()

		runID := uuid.New().String()
		meta := MetaMsg{
			Type:       TypeMeta,
			RunID:      runID,
			Name:       cfg.Name,
			Seed:       cfg.Seed,
			Trained:    cfg.Trained,
			Steps:      steps,
			Stages:     cfg.Stages,
			Categories: cfg.Categories(),
		}
		for _, c := range model.Table().Columns() {
			meta.Columns = append(meta.Columns, c.Name)
		}
		if err := writeWS(conn, meta); err != nil {
			return
		}
		s.log.Info("stream started", "run_id", runID, "client", key, "name", cfg.Name, "steps", steps)

		sent := 0
		for sent < steps {
			if err := s.limits.Wait(ctx, key); err != nil {
				break
			}
			if err := model.Step(); err != nil {
				break
			}
			row, _ := model.LastRow()
			if err := writeWS(conn, RowMsg{Type: TypeRow, Row: row}); err != nil {
				cancel()
				break
			}
			sent++
			if interval > 0 && sent < steps {
				select {
				case <-ctx.Done():
				case <-time.After(interval):
				}
			}
			if ctx.Err() != nil {
				break
			}
		}

		if sent == steps {
			if err := model.Finish(); err == nil {
				row, _ := model.LastRow()
				if writeWS(conn, RowMsg{Type: TypeRow, Row: row}) == nil {
					s.persist(runID, cfg, model)
				}
			}
		}
		_ = writeWS(conn, DoneMsg{Type: TypeDone, Steps: sent, Stopped: stopped.Load() || sent < steps})
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		s.log.Info("stream finished", "run_id", runID, "client", key, "steps", sent)
	}
}

func (s *Server) persist(runID string, cfg scenario.Config, model *engine.Model) {
	if s.runs == nil {
		return
	}
	run := store.NewRun(cfg.Name, cfg, model.Table())
	run.ID = runID
	if _, err := s.runs.SaveRun(context.Background(), run); err != nil {
		s.log.Warn("failed to save streamed run", "run_id", runID, "error", err)
	}
}

func writeWS(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func clientKey(remoteAddr string) string {
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return h
	}
	return remoteAddr
}
