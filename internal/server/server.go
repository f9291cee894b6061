// Package server exposes the orchestrator over HTTP.
//
// Routes:
//
//	GET  /api/health
//	GET  /api/metrics
//	GET  /api/sync/status
//	GET  /api/sync/pending
//	GET  /api/sync/history?limit=N
//	POST /api/sync/trigger
//	POST /api/sync/retry
//	POST /api/sync/cleanup
//
// A trigger is acknowledged with 202 and runs in the background on the
// server's base context. Serve waits for triggered syncs before returning.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/ynab-sync/internal/engine"
	"github.com/roach88/ynab-sync/internal/model"
)

// Engine is the orchestrator surface the server drives.
// Implemented by *engine.Orchestrator.
type Engine interface {
	StartSync(ctx context.Context, budgetID string, opts engine.SyncOptions) (model.SyncRun, error)
	Status(ctx context.Context) (model.SyncRun, error)
	Pending(ctx context.Context) ([]model.PendingItem, error)
	History(ctx context.Context, limit int) ([]model.SyncRun, error)
	RetryFailedItems(ctx context.Context) (int64, error)
	Cleanup(ctx context.Context, historyDays, pendingDays int) (engine.CleanupResult, error)
	Metrics(ctx context.Context, window time.Duration) (engine.MetricsReport, error)
}

// Pinger reports storage health. Implemented by *store.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DefaultMetricsWindow is the trailing window of run counts in /api/metrics.
const DefaultMetricsWindow = 24 * time.Hour

const shutdownTimeout = 10 * time.Second

// Server handles HTTP requests.
type Server struct {
	engine Engine
	pinger Pinger
	logger *slog.Logger
	now    func() time.Time

	historyDays   int
	pendingDays   int
	metricsWindow time.Duration

	baseCtx context.Context
	syncs   sync.WaitGroup
	router  chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithClock overrides the clock used for response timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// WithRetention sets the cleanup defaults used when a request omits them.
func WithRetention(historyDays, pendingDays int) Option {
	return func(s *Server) {
		s.historyDays = historyDays
		s.pendingDays = pendingDays
	}
}

// WithBaseContext sets the context triggered syncs run under. Cancelling it
// stops in-flight syncs.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) {
		s.baseCtx = ctx
	}
}

// New creates a Server.
func New(eng Engine, pinger Pinger, opts ...Option) *Server {
	s := &Server{
		engine:        eng,
		pinger:        pinger,
		logger:        slog.Default(),
		now:           time.Now,
		historyDays:   engine.DefaultHistoryDays,
		pendingDays:   engine.DefaultPendingDays,
		metricsWindow: DefaultMetricsWindow,
		baseCtx:       context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/sync", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Get("/pending", s.handlePending)
			r.Get("/history", s.handleHistory)
			r.Post("/trigger", s.handleTrigger)
			r.Post("/retry", s.handleRetry)
			r.Post("/cleanup", s.handleCleanup)
		})
	})
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Wait blocks until every triggered sync has returned.
func (s *Server) Wait() {
	s.syncs.Wait()
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully. It waits for triggered syncs on every return path, including
// when accepting connections fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("http server listening", "addr", ln.Addr().String())

	var err error
	select {
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		err = srv.Shutdown(shutdownCtx)
	}

	// Background syncs finalize their runs even when serving failed.
	s.Wait()
	if err != nil {
		s.logger.Error("http server stopped", "error", err)
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
