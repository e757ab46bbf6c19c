// Package monitor serves a read-only HTTP view of deployments: Prometheus
// metrics, liveness and per-pipeline instance states.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alexisbeaulieu97/pipez/internal/deploy"
	"github.com/alexisbeaulieu97/pipez/internal/logger"
)

// StateSource exposes the journaled states of live deployments.
type StateSource interface {
	Deployments() []string
	States(name string) ([]deploy.InstanceState, bool)
	History(name string) ([]deploy.StateChange, bool)
}

// Server is the monitoring HTTP endpoint.
type Server struct {
	source  StateSource
	metrics http.Handler
	logger  *logger.Logger
	router  chi.Router

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New builds the router. metrics may be nil to disable /metrics.
func New(source StateSource, metrics http.Handler, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{source: source, metrics: metrics, logger: log}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Heartbeat("/healthz"))

	if metrics != nil {
		router.Method(http.MethodGet, "/metrics", metrics)
	}
	router.Get("/pipelines", s.listPipelines)
	router.Get("/pipelines/{name}/states", s.pipelineStates)
	router.Get("/pipelines/{name}/history", s.pipelineHistory)

	s.router = router
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on address and serves in the background. It returns the
// bound address.
func (s *Server) Start(address string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return "", fmt.Errorf("monitor already running on %s", s.listener.Addr())
	}
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return "", fmt.Errorf("monitor listen on %s: %w", address, err)
	}

	s.listener = listener
	s.server = &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	go func(srv *http.Server) {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(err, "monitor server stopped")
		}
	}(s.server)

	s.logger.With("address", listener.Addr().String()).Info("monitor listening")
	return listener.Addr().String(), nil
}

// Shutdown stops a started server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) listPipelines(w http.ResponseWriter, _ *http.Request) {
	names := s.source.Deployments()
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string]any{"pipelines": names})
}

func (s *Server) pipelineStates(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	states, ok := s.source.States(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": fmt.Sprintf("pipeline %s is not deployed", name)})
		return
	}

	settled := true
	for _, st := range states {
		if !st.State.Terminal() {
			settled = false
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pipeline":  name,
		"instances": states,
		"settled":   settled,
	})
}

func (s *Server) pipelineHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	history, ok := s.source.History(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": fmt.Sprintf("pipeline %s is not deployed", name)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pipeline": name, "changes": history})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
