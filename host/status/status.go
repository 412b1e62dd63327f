// Package status serves machine state and Prometheus metrics over HTTP.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pulsecnc/internal/logging"
	"pulsecnc/standalone"
)

// ShutdownTimeout bounds how long Serve waits for open requests on exit
const ShutdownTimeout = 5 * time.Second

// BusyReporter is the part of a pulse engine the server polls
type BusyReporter interface {
	IsBusy() (bool, error)
}

// Snapshot is the machine state last published by the motion loop
type Snapshot struct {
	Position standalone.Coordinates
	Homed    [standalone.NumAxes]bool
	Spindle  float64
	LastMove string
	Lines    int
	Failed   int
}

// Position is the JSON form of machine coordinates
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	E float64 `json:"e"`
}

// Response is the body of GET /status
type Response struct {
	Position Position        `json:"position"`
	Busy     bool            `json:"busy"`
	Homed    map[string]bool `json:"homed"`
	Spindle  float64         `json:"spindle_percent"`
	LastMove string          `json:"last_move,omitempty"`
	Lines    int             `json:"lines"`
	Failed   int             `json:"failed"`
	Error    string          `json:"error,omitempty"`
}

// Server publishes snapshots handed to it by the motion loop. The planner
// is never read from HTTP goroutines.
type Server struct {
	engine   BusyReporter
	gatherer prometheus.Gatherer
	logger   *slog.Logger

	mu   sync.RWMutex
	snap Snapshot
}

// NewServer creates a status server. A nil gatherer serves the default registry.
func NewServer(engine BusyReporter, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{engine: engine, gatherer: gatherer, logger: logger}
}

// Update replaces the published snapshot
func (s *Server) Update(snap Snapshot) {
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/status", s.handleStatus)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()

	resp := Response{
		Position: Position{X: snap.Position.X, Y: snap.Position.Y, Z: snap.Position.Z, E: snap.Position.E},
		Homed:    make(map[string]bool, standalone.NumAxes),
		Spindle:  snap.Spindle,
		LastMove: snap.LastMove,
		Lines:    snap.Lines,
		Failed:   snap.Failed,
	}
	for _, a := range standalone.Axes {
		resp.Homed[a.String()] = snap.Homed[a]
	}

	status := http.StatusOK
	if s.engine != nil {
		busy, err := s.engine.IsBusy()
		if err != nil {
			s.logger.Warn("status: engine query failed", "error", err)
			resp.Error = err.Error()
			status = http.StatusServiceUnavailable
		}
		resp.Busy = busy
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("status response encode failed", "error", err)
	}
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", "addr", addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("status server shutdown incomplete", "error", err)
		return srv.Close()
	}
	if err := <-serverErrors; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
