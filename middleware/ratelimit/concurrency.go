package ratelimit

import (
	"net/http"
	"time"

	"ratelimit-gateway/middleware/ratelimit/application"
	"ratelimit-gateway/middleware/ratelimit/infra"

	"go.uber.org/zap"
)

type ConcurrencyOptions struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
	Metrics        *Metrics
	Logger         *zap.Logger
}

// ConcurrencyMiddleware limita requisições em voo nesta instância. Diferente do
// rate limit, não é global: cada réplica tem o seu próprio pool. Max <= 0 desliga.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	svc := application.ConcurrencyService{
		Pool:           infra.NewChanPool(opts.Max),
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := svc.Acquire(r.Context())
			if !ok {
				logger.Debug("concurrency limit reached", zap.Int("max", opts.Max), zap.String("path", r.URL.Path))
				opts.Metrics.slotRejected()
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}
			opts.Metrics.slotAcquired()
			defer func() {
				release()
				opts.Metrics.slotReleased()
			}()

			next.ServeHTTP(w, r)
		})
	}
}
