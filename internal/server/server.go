// Package server exposes the receipt pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ppiankov/reconcile/internal/logger"
	"github.com/ppiankov/reconcile/internal/model"
	"github.com/ppiankov/reconcile/internal/pipeline"
	"github.com/ppiankov/reconcile/internal/store"
)

// Server routes HTTP requests to the pipeline and the receipt store
type Server struct {
	pipeline      *pipeline.Pipeline
	store         *store.Store
	log           logger.Logger
	cfg           model.ServerConfig
	maxImageBytes int
	router        *chi.Mux
}

// New creates a server. The pipeline must not auto-save: /upload only
// extracts, /submit persists.
func New(p *pipeline.Pipeline, cfg model.ServerConfig, maxImageBytes int, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	st := p.Store()
	if st == nil {
		st = store.New(model.DefaultConfig().Store.Dir)
	}

	s := &Server{
		pipeline:      p.WithAutoSave(false),
		store:         st,
		log:           log,
		cfg:           cfg,
		maxImageBytes: maxImageBytes,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	timeout := time.Duration(s.cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	r.Use(middleware.Timeout(timeout))

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/upload", s.handleUpload)
	r.Post("/submit", s.handleSubmit)
	r.Post("/parse", s.handleParse)

	r.Get("/receipts", s.handleListReceipts)
	r.Get("/receipts/{filename}", s.handleReceiptFile)

	r.Get("/raw_response", s.handleLatestRaw)
	r.Get("/raw_response/{id}", s.handleRaw)
	r.Get("/view_raw/{id}", s.handleViewRaw)

	r.Handle("/metrics", promhttp.Handler())

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server starting", map[string]interface{}{
			"addr":     addr,
			"provider": s.pipeline.Provider().Name(),
		})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("shutting down server", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.log.Info("server stopped", nil)
	return nil
}

// requestLogger logs one line per request through the structured logger
func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				fields := map[string]interface{}{
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     ww.Status(),
					"bytes":      ww.BytesWritten(),
					"duration":   time.Since(start).String(),
					"request_id": middleware.GetReqID(r.Context()),
					"remote":     r.RemoteAddr,
				}
				if ww.Status() >= http.StatusInternalServerError {
					log.Warn("request failed", fields)
					return
				}
				log.Debug("request served", fields)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
