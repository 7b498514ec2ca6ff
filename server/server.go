// Package server wires the bit store, handlers and middleware into an
// http.Server and runs it until its context is cancelled.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/KanavDutta/bitflip/api"
	"github.com/KanavDutta/bitflip/config"
	"github.com/KanavDutta/bitflip/core"
	"github.com/KanavDutta/bitflip/metrics"
	"github.com/KanavDutta/bitflip/middleware"
	"github.com/KanavDutta/bitflip/store"
)

// Options carries the collaborators built by the caller.
type Options struct {
	Config *config.Config
	Store  *core.BitStore
	Logger *slog.Logger

	// Registry receives the collectors and backs GET /metrics; nil disables both
	Registry *prometheus.Registry

	// RateStore holds rate limit buckets when rate limiting is enabled; nil means in-memory
	RateStore store.Store
}

// Server is a configured but not yet listening HTTP server.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	handler http.Handler
	http    *http.Server

	// buckets is set when rate limit state lives in this process
	buckets *store.MemoryStore
}

// New builds the handler chain:
// request id, logging, admission, rate limit, body limit, gzip, routes.
func New(opts Options) (*Server, error) {
	if opts.Config == nil || opts.Store == nil {
		return nil, fmt.Errorf("%w: config and store are required", config.ErrInvalidConfig)
	}
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		m       *metrics.Metrics
		handler *api.Handler
	)
	if opts.Registry != nil {
		m = metrics.New(opts.Registry)
		m.RegisterSetBits(func() float64 { return float64(opts.Store.Count()) })
		handler = api.NewHandler(opts.Store, m)
	} else {
		handler = api.NewHandler(opts.Store, nil)
	}

	apiMux := http.NewServeMux()
	api.Register(apiMux, handler)

	var routes http.Handler = apiMux
	if cfg.Server.Compress {
		routes = gzhttp.GzipHandler(routes)
	}
	routes = limitBody(routes, cfg.Server.MaxBodyBytes)

	var buckets *store.MemoryStore
	if cfg.RateLimit.Enabled {
		rs := opts.RateStore
		if rs == nil {
			buckets = store.NewMemoryStore()
			rs = buckets
		}
		rl, err := newRateLimiter(cfg.RateLimit, rs, logger, m)
		if err != nil {
			return nil, err
		}
		routes = rl.Middleware(routes)
	}

	root := http.NewServeMux()
	if opts.Registry != nil {
		// Scrapes bypass the rate limiter
		root.Handle("GET /metrics", api.NewMetricsHandler(opts.Registry))
	}
	root.Handle("/", routes)

	h := middleware.Chain(root,
		middleware.RequestID(),
		middleware.Logging(logger),
		middleware.Admission(cfg.Server.EffectiveWorkers()),
	)

	return &Server{
		cfg:     cfg,
		logger:  logger,
		handler: h,
		buckets: buckets,
		http: &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           h,
			ReadTimeout:       cfg.Server.ReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      cfg.Server.WriteTimeout,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
	}, nil
}

func newRateLimiter(cfg config.RateLimitConfig, rs store.Store, logger *slog.Logger, m *metrics.Metrics) (*middleware.RateLimiter, error) {
	keyFunc, err := middleware.ParseKeyFunc(cfg.KeyExtractor)
	if err != nil {
		return nil, err
	}

	rlc := middleware.RateLimitConfig{
		Capacity:     cfg.Capacity,
		RefillPerSec: cfg.RefillPerSec,
		KeyFunc:      keyFunc,
		Store:        rs,
		Logger:       logger,
	}
	if m != nil {
		rlc.OnDecision = func(_ string, allowed bool) {
			if !allowed {
				m.RecordRateLimited()
			}
		}
	}
	return middleware.NewRateLimiter(rlc)
}

func limitBody(next http.Handler, maxBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}

// Handler returns the full middleware chain, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then drains
// in-flight requests for up to the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.buckets != nil {
		stop := s.buckets.StartBackgroundCleanup(s.cfg.RateLimit.CleanupInterval, s.cfg.RateLimit.MaxIdle)
		defer stop()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", ln.Addr().String(), "workers", s.cfg.Server.EffectiveWorkers())
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down", "timeout", s.cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
