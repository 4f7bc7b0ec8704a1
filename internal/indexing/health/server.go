// Package health exposes liveness and Prometheus metrics endpoints.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status is a snapshot of the connector's sync state.
type Status struct {
	Healthy      bool     `json:"healthy"`
	Chain        string   `json:"chain"`
	TipHeight    int64    `json:"tip_height"`
	TipHash      string   `json:"tip_hash,omitempty"`
	TrackedGames []string `json:"tracked_games"`
}

// Prober reports the current status; implemented by the controller.
type Prober interface {
	Health(ctx context.Context) Status
}

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	prober Prober
	server *http.Server
}

// NewServer creates a new health server.
func NewServer(prober Prober, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		prober: prober,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.prober.Health(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]bool{"healthy": status.Healthy})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	status := s.prober.Health(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
