package main

import (
	"context"
	"fmt"
	"net/http"

	"chat-observability/internal/config"
	"chat-observability/internal/handler"
	"chat-observability/internal/metrics"
	"chat-observability/internal/middleware"
	"chat-observability/internal/repository"
	"chat-observability/internal/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// gateway is the assembled HTTP stack.
type gateway struct {
	handler  http.Handler
	presence *service.Presence
}

// newGateway wires metrics, storage, proxy and middleware. Background work started
// here stops with ctx.
func newGateway(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*gateway, error) {
	registry := metrics.NewRegistry()
	registry.MustRegister(metrics.DefaultDescriptors()...)

	reporter, err := metrics.NewReporter(registry, logger)
	if err != nil {
		return nil, err
	}
	gatherer, err := metrics.NewGatherer(registry, cfg.RuntimeMetrics)
	if err != nil {
		return nil, err
	}

	// storage
	var store repository.PresenceStore
	if cfg.RedisAddr != "" {
		store, err = repository.NewRedisStore(cfg.RedisAddr, reporter)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	} else {
		store = repository.NewMemoryStore(reporter)
	}
	presence := service.NewPresence(store, reporter, logger)

	// downstream transport: cache in front of the breaker
	var transport http.RoundTripper = service.NewBreakerTransport(
		service.NewCircuitBreaker(cfg.BreakerFailures, 1, cfg.BreakerTimeout), nil)
	if cfg.CacheMaxEntries > 0 {
		cache := service.NewResponseCache(ctx, cfg.CacheMaxEntries, cfg.CacheMaxEntryBytes, reporter)
		transport = service.NewCachedRoundTripper(cache, transport)
	}
	proxy, err := handler.NewProxyHandler(cfg.DownstreamURL, transport, logger)
	if err != nil {
		return nil, err
	}

	router := handler.NewRouter(handler.RouterConfig{
		Routes:  cfg.Routes,
		Metrics: promhttp.InstrumentMetricHandler(gatherer, handler.NewMetricsHandler(gatherer, logger)),
		Health:  handler.NewHealthHandler(presence),
		Proxy:   proxy,
	})

	instrument, err := middleware.Instrument(middleware.InstrumentConfig{
		Registry: registry,
		Resolver: handler.RouteResolver(router),
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	chain := []middleware.Middleware{
		instrument,
		middleware.RequestLogger(middleware.LoggerConfig{
			Logger:       logger,
			SkipPaths:    cfg.LogSkipPaths,
			MaxBodyBytes: cfg.MaxLoggedBodyBytes,
		}),
		middleware.SlowRequests(logger, cfg.SlowRequestThreshold, nil),
		middleware.RequestID,
		middleware.Recover(logger),
		middleware.RequestSizeLimit(middleware.MaxRequestSize, logger),
		middleware.StripIdentityHeaders,
	}
	if cfg.JWTSecret != "" {
		chain = append(chain, middleware.Identity([]byte(cfg.JWTSecret), cfg.JWTIssuer, logger))
		logger.Info().Msg("JWT identity enabled")
	}
	chain = append(chain, middleware.Connections(presence, logger))

	return &gateway{
		handler:  middleware.Chain(router, chain...),
		presence: presence,
	}, nil
}
