package ratelimit

import (
	"context"
	"net/http"
	"time"

	"ratelimit-gateway/middleware/ratelimit/application"
	"ratelimit-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

type Options struct {
	// Counter é o store compartilhado. Nil desliga o middleware.
	Counter domain.CounterStore

	RequestsPerMinute int
	ExemptPaths       []string
	KeyPrefix         string
	StoreTimeout      time.Duration

	IdentityFn IdentityFunc

	// Stats recebe cada decisão allow/deny (best-effort).
	Stats domain.StatsStore
	// Fallback é consultado só quando o Counter falha. Nil = fail-open puro.
	Fallback domain.LimiterStore
	Metrics  *Metrics
	Logger   *zap.Logger

	Now func() time.Time
}

type decisionKey struct{}

// DecisionFromContext devolve a decisão tomada para a requisição, se houver.
func DecisionFromContext(ctx context.Context) (domain.Decision, bool) {
	dec, ok := ctx.Value(decisionKey{}).(domain.Decision)
	return dec, ok
}

// Middleware aplica o limite global por minuto usando o contador compartilhado.
//
// Fluxo: path isento passa direto; senão resolve a identidade, incrementa o contador
// da janela e responde 429 acima do limite. Se o store falhar, loga e deixa passar
// sem headers (ou consulta o Fallback, quando configurado).
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Counter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.IdentityFn == nil {
		opts.IdentityFn = ResolveIdentity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	svc := application.Service{
		Counter: opts.Counter,
		Options: domain.Options{
			RequestsPerMinute:  opts.RequestsPerMinute,
			ExemptPathPrefixes: append([]string(nil), opts.ExemptPaths...),
			KeyPrefix:          opts.KeyPrefix,
		},
		StoreTimeout: opts.StoreTimeout,
		Now:          opts.Now,
		Logger:       logger,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if svc.IsExempt(r.URL.Path) {
				opts.Metrics.observeDecision(outcomeExempt)
				next.ServeHTTP(w, r)
				return
			}

			identity := opts.IdentityFn(r)
			if identity == "" {
				identity = ResolveIdentity(r)
			}

			start := time.Now()
			dec, err := svc.Decide(r.Context(), identity)
			opts.Metrics.observeStore(time.Since(start), err)
			if err != nil {
				logger.Warn("rate limit: counter store unavailable, failing open",
					zap.String("identity", identity),
					zap.Error(err),
				)
				if opts.Fallback != nil && !opts.Fallback.Get(domain.Key(identity)).Allow() {
					opts.Metrics.observeDecision(outcomeFallbackDenied)
					writeRejected(w, dec.Limit)
					return
				}
				opts.Metrics.observeDecision(outcomeFailOpen)
				next.ServeHTTP(w, r)
				return
			}

			if opts.Stats != nil {
				recordStats(r.Context(), opts.Stats, svc.EffectiveStoreTimeout(), logger, domain.StatsEvent{
					Identity: identity,
					Allowed:  dec.Allowed,
					Method:   r.Method,
					Path:     r.URL.Path,
					At:       opts.Now(),
				})
			}

			if !dec.Allowed {
				logger.Warn("rate limit exceeded",
					zap.String("identity", identity),
					zap.Int64("count", dec.Count),
					zap.Int("limit", dec.Limit),
				)
				opts.Metrics.observeDecision(outcomeDenied)
				setRateLimitHeaders(w.Header(), dec)
				writeRejected(w, dec.Limit)
				return
			}

			opts.Metrics.observeDecision(outcomeAllowed)
			hw := &headerWriter{ResponseWriter: w, dec: dec}
			next.ServeHTTP(hw, r.WithContext(context.WithValue(r.Context(), decisionKey{}, dec)))
			// handler que não escreveu nada ainda recebe os headers antes do 200 implícito
			hw.apply()
		})
	}
}

// recordStats é best-effort e tem o mesmo prazo de uma chamada ao contador.
func recordStats(ctx context.Context, stats domain.StatsStore, timeout time.Duration, logger *zap.Logger, ev domain.StatsEvent) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := stats.Record(ctx, ev); err != nil {
		logger.Warn("rate limit: record stats failed",
			zap.String("identity", ev.Identity),
			zap.Error(err),
		)
	}
}
