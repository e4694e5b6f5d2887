package main

import (
	"context"
	"net/http"
	"net/http/httputil"

	"ratelimit-gateway/middleware/auth"
	"ratelimit-gateway/middleware/ratelimit"
	"ratelimit-gateway/middleware/ratelimit/infra"
	"ratelimit-gateway/middleware/requestid"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// newRouter monta a cadeia: request id -> subject do JWT -> rate limit ->
// concorrência -> proxy. /health e /metrics passam pelo rate limit, que os
// trata como isentos quando configurados em ExemptPaths.
func newRouter(ctx context.Context, cfg Config, rdb redis.UniversalClient, reg *prometheus.Registry, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestid.Middleware(cfg.ForwardRequestID, logger))
	r.Use(auth.Middleware(auth.Options{Secret: []byte(cfg.JWTSecret), Logger: logger}))

	metrics := ratelimit.NewMetrics(reg)

	if cfg.RateLimitEnabled {
		opts := ratelimit.Options{
			Counter:           infra.NewRedisCounterStore(rdb),
			RequestsPerMinute: cfg.RequestsPerMinute,
			ExemptPaths:       cfg.ExemptPaths,
			KeyPrefix:         cfg.KeyPrefix,
			StoreTimeout:      cfg.StoreTimeout,
			Metrics:           metrics,
			Logger:            logger,
		}
		if cfg.StatsEnabled {
			opts.Stats = infra.NewRedisStatsStore(rdb,
				infra.WithStatsPrefix(cfg.StatsPrefix),
				infra.WithStatsTTL(cfg.StatsTTL),
				infra.WithStatsTrackIdentities(cfg.StatsTrackKeys),
			)
		}
		if cfg.LocalFallback {
			fallback := infra.NewFallbackStore(cfg.RequestsPerMinute)
			fallback.StartJanitor(ctx)
			opts.Fallback = fallback
		}
		r.Use(ratelimit.Middleware(opts))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	proxy := newProxy(cfg, logger)
	limited := ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Max:            cfg.ConcurrencyMax,
		AcquireTimeout: cfg.ConcurrencyTimeout,
		Metrics:        metrics,
		Logger:         logger,
	})(proxy)
	r.Handle("/*", limited)

	return r
}

func newProxy(cfg Config, logger *zap.Logger) http.Handler {
	proxy := httputil.NewSingleHostReverseProxy(cfg.upstream())
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("proxy error",
			requestid.Field(r.Context()),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}
	return proxy
}
