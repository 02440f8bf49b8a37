// Command render-gate serves product pages through the rate limiter, the
// two-tier cache and breaker-protected catalogue calls.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sternrassler/render-gate/pkg/breaker"
	"github.com/Sternrassler/render-gate/pkg/cache"
	"github.com/Sternrassler/render-gate/pkg/config"
	"github.com/Sternrassler/render-gate/pkg/httpapi"
	"github.com/Sternrassler/render-gate/pkg/logging"
	"github.com/Sternrassler/render-gate/pkg/metrics"
	"github.com/Sternrassler/render-gate/pkg/pipeline"
	"github.com/Sternrassler/render-gate/pkg/ratelimit"
	"github.com/Sternrassler/render-gate/pkg/render"
	"github.com/Sternrassler/render-gate/pkg/strategy"
	"github.com/Sternrassler/render-gate/pkg/tracing"
	"github.com/Sternrassler/render-gate/pkg/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logger := logging.Setup(cfg.LogConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

// run serves until ctx is done, then shuts down gracefully.
func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	tp, shutdownTracing, err := tracing.Setup(ctx, cfg.TracingConfig())
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Tracing shutdown failed")
		}
	}()

	a, err := newApp(ctx, cfg, logger, tp)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Bool("remote_cache", cfg.Redis.Addr != "").
			Str("upstream", cfg.Upstream.BaseURL).
			Msg("Starting render-gate")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// app holds the wired components behind the HTTP handler.
type app struct {
	handler  http.Handler
	pipeline *pipeline.Pipeline
	cache    *cache.Coordinator
	limiter  *ratelimit.Limiter
	redis    *redis.Client
}

func newApp(ctx context.Context, cfg config.Config, logger zerolog.Logger, tp trace.TracerProvider) (*app, error) {
	a := &app{}

	cacheLogger := logging.WithComponent(logger, logging.ComponentCache)
	observer := cache.LogObserver{Logger: cacheLogger}

	localCfg := cfg.LocalConfig()
	localCfg.Observer = observer
	local := cache.NewLocalTier(localCfg)

	coordOpts := []cache.CoordinatorOption{cache.WithLogger(cacheLogger)}
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.OpTimeout*5)
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis not reachable at startup - remote tier will recover in background")
		} else {
			logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
		}
		cancel()

		remoteCfg := cfg.RemoteConfig()
		remoteCfg.Observer = observer
		remoteCfg.Logger = cacheLogger
		coordOpts = append(coordOpts, cache.WithRemote(cache.NewRemoteTier(a.redis, remoteCfg)))
	}
	a.cache = cache.NewCoordinator(local, coordOpts...)

	limiterCfg := cfg.LimiterConfig()
	limiterCfg.Logger = logging.WithComponent(logger, logging.ComponentLimiter)
	a.limiter = ratelimit.New(limiterCfg)
	a.limiter.Start()

	breakerCfg := cfg.BreakerConfig()
	breakerCfg.Observer = breaker.LogObserver{
		Logger: logging.WithComponent(logger, logging.ComponentBreaker),
	}
	breakers := breaker.NewRegistry(breakerCfg)

	prechecker, fetcher, err := newUpstream(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.pipeline, err = pipeline.New(pipeline.Config{
		Limiter:        a.limiter,
		Cache:          a.cache,
		Breakers:       breakers,
		Engine:         strategy.NewEngine(cfg.Policies()),
		Prechecker:     prechecker,
		Fetcher:        fetcher,
		Renderer:       render.NewTemplateRenderer(),
		Logger:         logger,
		TracerProvider: tp,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	api, err := httpapi.New(httpapi.Config{
		Pipeline:       a.pipeline,
		Cache:          a.cache,
		Limiter:        a.limiter,
		Metrics:        metrics.Handler(),
		RequestTimeout: cfg.Server.RequestTimeout,
		TrustProxy:     cfg.Server.TrustProxy,
		Logger:         logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create http api: %w", err)
	}
	a.handler = otelhttp.NewHandler(api, "render-gate",
		otelhttp.WithTracerProvider(tp),
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/metrics" && r.URL.Path != "/health"
		}),
	)

	return a, nil
}

func newUpstream(cfg config.Config, logger zerolog.Logger) (pipeline.Prechecker, pipeline.UpstreamFetcher, error) {
	if cfg.Upstream.BaseURL == "" {
		logger.Warn().Msg("RG_UPSTREAM_URL not set - serving the in-memory catalogue")
		static := upstream.NewStatic()
		return static, static, nil
	}

	upstreamCfg := cfg.UpstreamConfig()
	upstreamCfg.Logger = logger
	client, err := upstream.New(upstreamCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create upstream client: %w", err)
	}
	return client, client, nil
}

// Close stops background work and releases connections.
func (a *app) Close() {
	if a.limiter != nil {
		a.limiter.Close()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
