package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"live-transcriber/internal/config"
	"live-transcriber/internal/domain"
	"live-transcriber/internal/metrics"
	"live-transcriber/internal/queue"
	"live-transcriber/internal/session"
	"live-transcriber/internal/transcribe"
)

// Invoker performs one synchronous normalize+infer attempt.
type Invoker interface {
	Run(ctx context.Context, req transcribe.Request) (transcribe.Result, error)
}

// Deps wires the HTTP layer to the queue, session, and pipeline.
type Deps struct {
	Config      *config.Config
	Queue       *queue.Queue
	Session     *session.State
	Invoker     Invoker
	Diagnostics func() domain.DiagnosticReport
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	Logger      *slog.Logger
}

// Server exposes the ingress, egress, and monitoring endpoints.
type Server struct {
	deps      Deps
	server    *http.Server
	startTime time.Time
}

// New builds the HTTP server with all routes configured.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Server{
		deps:      deps,
		startTime: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(s.withMetrics)

	r.Route("/api", func(r chi.Router) {
		r.Post("/chunks", s.handleEnqueueChunk)
		r.Post("/transcribe", s.handleTranscribe)
		r.Get("/transcripts", s.handleTranscripts)
		r.Get("/errors", s.handleErrors)
		r.Get("/status", s.handleStatus)
		r.Get("/events", s.handleEvents)
		r.Get("/diagnostics", s.handleDiagnostics)
	})
	r.Get("/health", s.handleHealth)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", deps.Config.Server.Address, deps.Config.Server.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the configured router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenAndServe runs the HTTP server until shutdown.
func (s *Server) ListenAndServe() error {
	s.deps.Logger.Info("http server listening", slog.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// withMetrics records request counts and latency per route pattern.
func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		s.deps.Metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(ww.statusCode), time.Since(start).Seconds())
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// writeJSON serializes a response payload with the given status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// errorPayload is the failure body returned on every error path.
type errorPayload struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// httpError writes a JSON error payload.
func httpError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, errorPayload{Error: message, Details: details})
}
