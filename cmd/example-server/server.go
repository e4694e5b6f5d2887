package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"ratelimit-gateway/middleware/ratelimit"
	"ratelimit-gateway/middleware/ratelimit/infra"
	"ratelimit-gateway/middleware/requestid"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// newServer injeta o middleware direto no webserver, sem proxy e sem Redis:
// o contador em memória só vale para uma instância.
func newServer(ctx context.Context, requestsPerMinute int, logger *zap.Logger) http.Handler {
	counter := infra.NewMemoryCounterStore()
	counter.StartJanitor(ctx, time.Minute)

	stats := infra.NewMemoryStatsStore(infra.WithTrackIdentities(true))
	reg := prometheus.NewRegistry()
	metrics := ratelimit.NewMetrics(reg)

	r := chi.NewRouter()
	r.Use(requestid.Middleware(false, logger))
	r.Use(ratelimit.Middleware(ratelimit.Options{
		Counter:           counter,
		RequestsPerMinute: requestsPerMinute,
		ExemptPaths:       []string{"/health", "/metrics", "/stats"},
		Stats:             stats,
		Metrics:           metrics,
		Logger:            logger,
	}))
	r.Use(ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Max: 50, Metrics: metrics, Logger: logger}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"total":      stats.Total(),
			"byRoute":    stats.ByRoute(),
			"byIdentity": stats.ByIdentity(),
		})
	})
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		dec, _ := ratelimit.DecisionFromContext(r.Context())
		logger.Debug("request served",
			requestid.Field(r.Context()),
			zap.String("path", r.URL.Path),
			zap.Int("remaining", dec.Remaining),
		)
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}
