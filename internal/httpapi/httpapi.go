// Package httpapi exposes a local-only debug/status surface over the
// otherwise call-driven sync core: the read-only verbs of spec.md §6.3
// and an SSE stream of the events.Bus, for a UI shell or operator to poll
// without linking the Go process in-proc. Grounded on the teacher's
// gorilla/mux router usage and pkg/logger.LoggingMiddleware.
package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mytips/synccore/internal/core"
	"github.com/mytips/synccore/internal/dbmanager"
	"github.com/mytips/synccore/internal/events"
	"github.com/mytips/synccore/pkg/logger"
)

// Server is the debug HTTP surface. It calls into internal/core for every
// verb so the HTTP handlers and any future in-process UI caller share one
// implementation instead of duplicating manager/engine calls.
type Server struct {
	router  *mux.Router
	manager *dbmanager.Manager
	core    *core.Core
	bus     *events.Bus
	logger  *slog.Logger
}

// New builds the router with all routes registered.
func New(manager *dbmanager.Manager, c *core.Core, bus *events.Bus, log *slog.Logger) *Server {
	s := &Server{router: mux.NewRouter(), manager: manager, core: c, bus: bus, logger: log}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(logger.LoggingMiddleware(s.logger))

	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/database-info", s.handleDatabaseInfo).Methods(http.MethodGet)
	s.router.HandleFunc("/test-connection", s.handleTestConnection).Methods(http.MethodPost)
	s.router.HandleFunc("/sync-now", s.handleSyncNow).Methods(http.MethodPost)
	s.router.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// Handler returns the http.Handler to mount.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.core.GetSyncStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleDatabaseInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.core.GetDatabaseInfo(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.TestConnection(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	stats, err := s.core.ManualSync(r.Context())
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleEvents streams the event bus as Server-Sent Events, the transport
// named in SPEC_FULL.md's DOMAIN STACK entry for gorilla/mux.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := s.bus.Subscribe(r.Context(), fmt.Sprintf("sse-%d", time.Now().UnixNano()))
	defer sub.Close()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			payload, _ := json.Marshal(ev)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
