// Package operational exposes the collector's liveness and debug HTTP
// surface: a /healthz probe and a /debug/live-files introspection endpoint.
// This is ambient operator tooling, not the downstream query/storage system
// the core design treats as an external collaborator.
package operational

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tripwire/logcollector/internal/collector"
)

// HealthStatus is the payload returned by the /healthz endpoint.
type HealthStatus struct {
	Status  string  `json:"status"`
	UptimeS float64 `json:"uptime_s"`
}

// Server serves the collector's operational HTTP endpoints. The live-file
// table is not read directly from the Collector, which is single-goroutine
// only: the owning goroutine pushes a snapshot via Update after each
// CollectEntries call, and the HTTP handler reads that cached copy under a
// mutex instead of touching the Collector itself.
type Server struct {
	startTime time.Time

	mu       sync.RWMutex
	snapshot []collector.LiveFileStats
}

// NewServer returns an empty Server with its start time set to now; call
// Update to publish the first live-file snapshot before serving traffic.
func NewServer() *Server {
	return &Server{startTime: time.Now()}
}

// Update replaces the cached live-file snapshot. Call this from the same
// goroutine that owns the Collector, immediately after CollectEntries.
func (s *Server) Update(stats []collector.LiveFileStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = stats
}

// Router returns a configured chi.Router for the operational endpoints.
//
// Route layout:
//
//	GET /healthz            – liveness probe
//	GET /debug/live-files   – JSON snapshot of the live-file table
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/debug/live-files", s.handleLiveFiles)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h := HealthStatus{
		Status:  "ok",
		UptimeS: time.Since(s.startTime).Seconds(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(h)
}

func (s *Server) handleLiveFiles(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	stats := s.snapshot
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
