// Package httpapi serves read-only access history and statistics over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/MrCodeEU/facegate/pkg/events"
	"github.com/MrCodeEU/facegate/pkg/logging"
	"github.com/MrCodeEU/facegate/pkg/stats"
)

// Querier is the read side the API needs. *stats.Service implements it.
type Querier interface {
	SnapshotOrZero(ctx context.Context) (stats.Snapshot, bool)
	History(ctx context.Context, f events.Filter, limit int) ([]events.AccessEvent, error)
	Person(ctx context.Context, identity string, limit int) (stats.PersonSummary, error)
	Trainings(ctx context.Context, limit int) ([]events.TrainingSessionRecord, error)
}

// Server is the HTTP server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	q          Querier
}

// NewServer creates a server listening on addr.
func NewServer(q Querier, addr string) *Server {
	r := chi.NewRouter()
	s := &Server{router: r, q: q}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(30 * time.Second))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.health)

	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.stats)
		r.Get("/events", s.events)
		r.Get("/people/{name}", s.person)
		r.Get("/trainings", s.trainings)
	})
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	logging.Infof("Starting API server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// requestLogger logs one line per request through logrus.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		logging.Component("httpapi").WithFields(logging.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).String(),
			"request_id": chiMiddleware.GetReqID(r.Context()),
		}).Debug("Request handled")
	})
}
