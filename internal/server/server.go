// File: internal/server/server.go
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webprobe/api/schemas"
	"github.com/xkilldash9x/webprobe/internal/agent"
	"github.com/xkilldash9x/webprobe/internal/config"
	"github.com/xkilldash9x/webprobe/internal/service"
	"github.com/xkilldash9x/webprobe/internal/store"
)

const (
	shutdownTimeout   = 30 * time.Second
	releaseTimeout    = 15 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Executor runs one session and writes its report. *service.Runner implements it.
type Executor interface {
	Execute(ctx context.Context, mode string, opts agent.Options) (*service.Outcome, error)
}

// ReportReader serves stored reports. *store.Store implements it.
type ReportReader interface {
	GetReport(ctx context.Context, sessionID string) (*schemas.SessionReport, error)
	ListSessions(ctx context.Context, limit int) ([]store.SessionRow, error)
}

// Server exposes session runs over HTTP.
type Server struct {
	cfg      config.ServerConfig
	runner   Executor
	reports  ReportReader
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	slots    chan struct{}

	mu      sync.Mutex
	held    map[string]schemas.BrowserSession
	maxHeld int

	httpServer *http.Server
}

// New creates a server. reports may be nil when no store is configured. At most
// explorer.parallel sessions run at once, and as many more may be held open.
func New(cfg *config.Config, runner Executor, reports ReportReader, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	parallel := cfg.Explorer.Parallel
	if parallel <= 0 {
		parallel = 1
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		cfg:      cfg.Server,
		runner:   runner,
		reports:  reports,
		gatherer: gatherer,
		logger:   logger.Named("server"),
		slots:    make(chan struct{}, parallel),
		held:     make(map[string]schemas.BrowserSession),
		maxHeld:  parallel,
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/tests", s.handleRunTest)
		r.Delete("/tests/{testId}", s.handleReleaseTest)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{sessionId}", s.handleGetSession)
	})
	return r
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully and
// releases any sessions still held open.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting.", zap.String("address", s.cfg.Addr))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.releaseAll()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.httpServer.Shutdown(shutdownCtx)
	s.releaseAll()
	if err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped.")
	return nil
}

// HeldSessions returns the number of kept-open sessions.
func (s *Server) HeldSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held)
}

func (s *Server) releaseAll() {
	s.mu.Lock()
	held := s.held
	s.held = make(map[string]schemas.BrowserSession)
	s.mu.Unlock()

	for id, sess := range held {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		if err := sess.Release(ctx); err != nil {
			s.logger.Warn("Failed to release held session.", zap.String("test_id", id), zap.Error(err))
		}
		cancel()
	}
}

// requestLogger logs each request once it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("Request handled.",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
