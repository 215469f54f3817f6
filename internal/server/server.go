// Package server exposes the platform's HTTP API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/secops-platform/secops-core/internal/intel"
	"github.com/secops-platform/secops-core/internal/metrics"
	"github.com/secops-platform/secops-core/internal/repository"
	"github.com/secops-platform/secops-core/internal/soar"
	"github.com/secops-platform/secops-core/internal/zerotrust"
	"github.com/secops-platform/secops-core/pkg/logger"
)

// Config holds HTTP server timeouts and the listen address.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Server wires the engines behind the HTTP surface.
type Server struct {
	cfg       Config
	soar      *soar.Engine
	zerotrust *zerotrust.Engine
	intel     *intel.Store
	reports   repository.ReportStore
	metrics   *metrics.Metrics
	health    []repository.HealthChecker
	log       *logger.Logger
	httpSrv   *http.Server
}

func New(cfg Config, soarEngine *soar.Engine, ztEngine *zerotrust.Engine, intelStore *intel.Store, reports repository.ReportStore, m *metrics.Metrics, log *logger.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		soar:      soarEngine,
		zerotrust: ztEngine,
		intel:     intelStore,
		reports:   reports,
		metrics:   m,
		log:       log.WithComponent("http-server"),
	}
	s.httpSrv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// AddHealthCheck registers a backing store for the readiness probe.
func (s *Server) AddHealthCheck(hc repository.HealthChecker) {
	s.health = append(s.health, hc)
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/ready", s.handleReady).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/events", s.handleSubmitEvent).Methods("POST")
	api.HandleFunc("/executions", s.handleListExecutions).Methods("GET")
	api.HandleFunc("/executions/{id}", s.handleGetExecution).Methods("GET")
	api.HandleFunc("/executions/{id}/cancel", s.handleCancelExecution).Methods("POST")
	api.HandleFunc("/executions/{id}/steps/{stepID}/advance", s.handleAdvanceStep).Methods("POST")
	api.HandleFunc("/executions/{id}/report", s.handleGetReport).Methods("GET")
	api.HandleFunc("/access/evaluate", s.handleEvaluateAccess).Methods("POST")
	api.HandleFunc("/intel/iocs", s.handleListIOCs).Methods("GET")
	api.HandleFunc("/intel/iocs/{value}", s.handleLookupIOC).Methods("GET")
	api.HandleFunc("/soar/metrics", s.handleSOARMetrics).Methods("GET")

	return r
}

// Start begins serving. It blocks until the listener fails or is shut
// down.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.cfg.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.HTTPRequests.WithLabelValues(r.Method, route, http.StatusText(wrapped.status)).Inc()
		s.metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		s.log.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.Error("panic recovered",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
				)
				http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
