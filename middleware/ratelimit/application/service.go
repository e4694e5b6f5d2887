package application

import (
	"context"
	"strings"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultStoreTimeout limita a espera pelo store compartilhado. Estourou, é fail-open.
const DefaultStoreTimeout = 200 * time.Millisecond

// Service concentra a regra de aplicação do rate limit por janela de um minuto.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
// Não guarda estado entre chamadas: a ordem dos contadores vem do INCR atômico do store.
type Service struct {
	Counter      domain.CounterStore
	Options      domain.Options
	StoreTimeout time.Duration
	Now          func() time.Time
	Logger       *zap.Logger
}

// IsExempt compara o path com os prefixos isentos, sem diferenciar maiúsculas.
func (s Service) IsExempt(path string) bool {
	for _, prefix := range s.Options.ExemptPathPrefixes {
		if prefix == "" {
			continue
		}
		if len(path) >= len(prefix) && strings.EqualFold(path[:len(prefix)], prefix) {
			return true
		}
	}
	return false
}

// Decide incrementa o contador da identidade na janela atual e decide.
//
// Qualquer falha no incremento volta como erro que satisfaz
// errors.Is(err, domain.ErrStoreUnavailable); não há retry.
func (s Service) Decide(ctx context.Context, identity string) (domain.Decision, error) {
	now := s.now()
	limit := s.Options.Limit()
	key := domain.WindowKey(s.Options.KeyPrefix, identity, now)

	if s.Counter == nil {
		return domain.Decision{Key: key, Limit: limit}, errors.WithMessage(domain.ErrStoreUnavailable, "no counter store")
	}

	count, err := s.increment(ctx, key)
	if err != nil {
		return domain.Decision{Key: key, Limit: limit}, errors.WithMessagef(storeError{cause: err}, "increment %s", key)
	}

	// Só quem criou o contador arma o TTL. Se isso falhar o contador fica sem expirar;
	// risco aceito, a decisão segue valendo.
	if count == 1 {
		if err := s.expire(ctx, key); err != nil {
			s.logger().Warn("rate limit: arm counter expiry failed",
				zap.String("key", string(key)),
				zap.Error(err),
			)
		}
	}

	return domain.Decision{
		Allowed:   count <= int64(limit),
		Key:       key,
		Count:     count,
		Limit:     limit,
		Remaining: int(max(0, int64(limit)-count)),
		ResetAt:   now.Add(domain.Window).Unix(),
	}, nil
}

// increment e expire têm cada um o seu prazo: um INCR lento não pode deixar
// o EXPIRE sem tempo e a chave sem TTL.
func (s Service) increment(ctx context.Context, key domain.Key) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout())
	defer cancel()
	return s.Counter.Increment(ctx, key)
}

func (s Service) expire(ctx context.Context, key domain.Key) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout())
	defer cancel()
	return s.Counter.Expire(ctx, key, domain.CounterTTL)
}

// EffectiveStoreTimeout é o prazo de cada chamada ao store (DefaultStoreTimeout se zero).
func (s Service) EffectiveStoreTimeout() time.Duration { return s.storeTimeout() }

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s Service) storeTimeout() time.Duration {
	if s.StoreTimeout <= 0 {
		return DefaultStoreTimeout
	}
	return s.StoreTimeout
}

func (s Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

type storeError struct {
	cause error
}

func (e storeError) Error() string {
	return domain.ErrStoreUnavailable.Error() + ": " + e.cause.Error()
}

func (e storeError) Is(target error) bool { return target == domain.ErrStoreUnavailable }

func (e storeError) Unwrap() error { return e.cause }
