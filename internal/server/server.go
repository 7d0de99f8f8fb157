// Package server exposes an account archive over HTTP for the viewer: the
// derived indexes, the user's annotations and the media files.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus"

	"igarchive/pkg/config"
	"igarchive/pkg/logger"
	"igarchive/pkg/metrics"
	"igarchive/pkg/ratelimit"
)

// Server serves the archive rooted at baseDir
type Server struct {
	baseDir   string
	cfg       config.ServerConfig
	logger    logger.Logger
	limiter   *ratelimit.Keyed
	sanitizer *bluemonday.Policy
	gatherer  prometheus.Gatherer

	// mu serializes read-modify-write cycles on annotations and indexes
	mu sync.Mutex
}

// Option configures a Server
type Option func(*Server)

// WithMetrics exposes gatherer on /metrics
func WithMetrics(gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = gatherer
	}
}

// New creates a Server. A nil log falls back to the global logger.
func New(baseDir string, cfg config.ServerConfig, log logger.Logger, opts ...Option) *Server {
	if log == nil {
		log = logger.GetLogger()
	}
	s := &Server{
		baseDir:   baseDir,
		cfg:       cfg,
		logger:    log.WithField("component", "server"),
		sanitizer: bluemonday.StrictPolicy(),
	}
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.RequestsPerMinute / 10
		if burst < 10 {
			burst = 10
		}
		s.limiter = ratelimit.NewKeyed(cfg.RequestsPerMinute, burst, 10*time.Minute)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the route table.
//
// Middleware order: recovery → logging → CORS → rate limit → bearer auth
// (the last two only on /api).
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.recoverPanics)
	r.Use(s.logRequests)
	r.Use(cors)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Use(s.requireSecret)

		r.Get("/accounts", s.listAccounts)

		r.Route("/posts", func(r chi.Router) {
			r.Get("/", s.listPosts)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getPost)
				r.Delete("/", s.deletePost)
				r.Put("/metadata", s.updateMetadata)
				r.Get("/suggest-categories", s.suggestCategories)
			})
		})

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", s.listCategories)
			r.Post("/", s.addCategory)
		})

		r.Route("/duplicates", func(r chi.Router) {
			r.Get("/", s.listDuplicates)
			r.Post("/merge", s.mergeDuplicates)
			r.Post("/auto-clean", s.autoClean)
		})
	})

	r.Get("/media/{account}/*", s.serveMedia)

	if s.gatherer != nil {
		r.Handle("/metrics", metrics.Handler(s.gatherer))
	}

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoWithFields("archive API listening", map[string]interface{}{
			"addr":         s.cfg.Addr,
			"base_dir":     s.baseDir,
			"allow_delete": s.cfg.AllowDelete,
		})
		errCh <- srv.ListenAndServe()
	}()

	if s.limiter != nil {
		go s.sweepLimiters(ctx, time.Minute)
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("shutting down archive API")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) sweepLimiters(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Sweep(); n > 0 {
				s.logger.DebugWithFields("dropped idle client limiters", map[string]interface{}{"count": n})
			}
		}
	}
}
