// Package httpserver provides the HTTP view API for the QA workflow
// orchestrator: session lifecycle, workflow event callbacks, the SSE
// state stream, and the clustering monitor endpoints.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/documind/qa-orchestrator/internal/cluster"
	"github.com/documind/qa-orchestrator/internal/workflow"
)

// ReadyFunc probes the document service for the readiness endpoint.
type ReadyFunc func(ctx context.Context) error

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// Server is the HTTP view API server. The view layer is a passive
// subscriber: it reads state snapshots and emits events through these
// endpoints, it never computes stage transitions itself.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	registry   *workflow.Registry
	monitor    *cluster.Monitor
	ready      ReadyFunc
	validate   *validator.Validate
	logger     zerolog.Logger
}

// NewServer creates a new HTTP server with all dependencies. The ready
// func may be nil, in which case readiness reports ready unconditionally.
func NewServer(
	cfg Config,
	registry *workflow.Registry,
	monitor *cluster.Monitor,
	ready ReadyFunc,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		registry: registry,
		monitor:  monitor,
		ready:    ready,
		validate: validator.New(),
		logger:   logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter(cfg.AllowedOrigins)

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter(allowedOrigins []string) chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "HEAD", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	// Health endpoints
	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(jsonContentTypeMiddleware)

		r.Route("/qa/sessions", func(r chi.Router) {
			r.Post("/", s.createSession)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Delete("/", s.deleteSession)
				r.Get("/stream", s.streamState)

				r.Post("/question", s.submitQuestion)
				r.Post("/clarification", s.submitClarification)
				r.Post("/quick-response", s.chooseQuickResponse)
				r.Post("/search/approve", s.approveSearch)
				r.Post("/search/skip", s.skipSearch)
				r.Post("/detail-query/approve", s.approveDetailQuery)
				r.Post("/detail-query/skip", s.skipDetailQuery)
				r.Post("/documents/confirm", s.confirmDocuments)
				r.Post("/documents/more-search", s.requestMoreSearch)
			})
		})

		r.Route("/clusters", func(r chi.Router) {
			r.Post("/rebuild", s.rebuildClusters)
			r.Get("/status", s.clusteringStatus)
			r.Delete("/", s.deleteClusters)
		})
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the router, used by tests to serve requests without
// a listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler reports readiness, probing the document service when
// a probe is configured.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "not_ready",
				"backend": "unreachable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ready",
		"backend": "healthy",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort log; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
