package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rohmanhakim/storefront-ssr/internal/config"
	"github.com/rohmanhakim/storefront-ssr/internal/metadata"
	"github.com/rohmanhakim/storefront-ssr/internal/pagecache"
	"github.com/rohmanhakim/storefront-ssr/internal/render"
	"github.com/rohmanhakim/storefront-ssr/internal/render/bundle"
	"github.com/rohmanhakim/storefront-ssr/internal/render/remote"
	"github.com/rohmanhakim/storefront-ssr/internal/ssr"
	"github.com/rohmanhakim/storefront-ssr/internal/template"
	"github.com/rohmanhakim/storefront-ssr/pkg/retry"
	"github.com/rohmanhakim/storefront-ssr/pkg/timeutil"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// Server owns the HTTP listener and everything built from config.
type Server struct {
	httpServer      *http.Server
	logger          zerolog.Logger
	shutdownTimeout time.Duration
	closers         []io.Closer
}

// New builds the page cache, template and engine providers and the router
// for cfg. Production mode caches pages, compiles the bundle once and
// serves static assets; development re-reads both on every request.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Server, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	recorder, err := metadata.NewRecorder(logger, registry)
	if err != nil {
		return nil, fmt.Errorf("register render metrics: %w", err)
	}
	httpMetrics, err := newHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("register http metrics: %w", err)
	}

	s := &Server{
		logger:          logger.With().Str("component", "server").Logger(),
		shutdownTimeout: cfg.ShutdownTimeout(),
	}

	store, err := s.newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	templates, err := newTemplateProvider(cfg)
	if err != nil {
		s.close()
		return nil, err
	}
	engines, err := newEngineProvider(cfg, logger)
	if err != nil {
		s.close()
		return nil, err
	}

	pages := ssr.NewHandler(
		store,
		templates,
		engines,
		recorder,
		logger,
		ssr.Options{
			Caching:       cfg.Production(),
			Base:          cfg.Base(),
			RenderTimeout: cfg.RenderTimeout(),
		},
	)

	s.httpServer = &http.Server{
		Addr: cfg.Addr(),
		Handler: NewRouter(RouterParams{
			Pages:      pages,
			Gatherer:   registry,
			Metrics:    httpMetrics,
			Logger:     logger,
			Production: cfg.Production(),
			Base:       cfg.Base(),
			ClientDir:  cfg.ClientDir(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) newStore(ctx context.Context, cfg config.Config) (pagecache.Store, error) {
	if !cfg.Production() {
		return pagecache.NoopStore{}, nil
	}
	if cfg.RedisAddr() == "" {
		return pagecache.NewMemoryStore(cfg.CacheMaxEntries(), cfg.CacheMaxAge()), nil
	}

	retryParam := retry.NewRetryParam(
		cfg.Jitter(),
		cfg.RandomSeed(),
		cfg.MaxAttempt(),
		timeutil.NewBackoffParam(
			cfg.BackoffInitialDuration(),
			cfg.BackoffMultiplier(),
			cfg.BackoffMaxDuration(),
		),
	)
	store, err := pagecache.DialRedis(ctx, pagecache.RedisOptions{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword(),
		DB:       cfg.RedisDB(),
		Prefix:   cfg.RedisPrefix(),
		MaxAge:   cfg.CacheMaxAge(),
	}, retryParam)
	if err != nil {
		return nil, fmt.Errorf("connect page cache: %w", err)
	}
	s.closers = append(s.closers, store)
	s.logger.Info().Str("addr", cfg.RedisAddr()).Msg("page cache backed by redis")
	return store, nil
}

func newTemplateProvider(cfg config.Config) (template.Provider, error) {
	if cfg.Production() {
		provider, err := template.NewStaticProvider(cfg.TemplatePath())
		if err != nil {
			return nil, fmt.Errorf("load template: %w", err)
		}
		return provider, nil
	}
	return template.NewDevProvider(cfg.TemplatePath(), cfg.DevScripts()), nil
}

func newEngineProvider(cfg config.Config, logger zerolog.Logger) (render.EngineProvider, error) {
	switch cfg.Engine() {
	case config.EngineRemote:
		return render.NewFixedProvider(remote.New(cfg.RendererURL(), &http.Client{}, logger)), nil
	default:
		if !cfg.Production() {
			return bundle.NewReloadingProvider(cfg.ServerBundle(), logger), nil
		}
		provider, err := bundle.NewStaticProvider(cfg.ServerBundle(), logger)
		if err != nil {
			return nil, fmt.Errorf("load server bundle: %w", err)
		}
		return provider, nil
	}
}

// Handler exposes the assembled router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is done or the listener fails, then drains in-flight
// requests for at most the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       conc.WaitGroup
		serveErr error
	)
	wg.Go(func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("listening")
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
			cancel()
		}
	})

	<-ctx.Done()
	s.logger.Info().Dur("timeout", s.shutdownTimeout).Msg("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancelShutdown()
	shutdownErr := s.httpServer.Shutdown(shutdownCtx)

	wg.Wait()
	s.close()

	if serveErr != nil {
		return serveErr
	}
	return shutdownErr
}

func (s *Server) close() {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close failed")
		}
	}
	s.closers = nil
}
