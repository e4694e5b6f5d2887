package infra

import (
	"context"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisCounterStore implementa domain.CounterStore sobre Redis.
//
// Todas as réplicas do gateway escrevem nas mesmas chaves; a ordem 1, 2, 3...
// dos contadores vem do INCR, que é atômico no servidor.
type RedisCounterStore struct {
	rdb redis.UniversalClient
}

var _ domain.CounterStore = (*RedisCounterStore)(nil)

func NewRedisCounterStore(rdb redis.UniversalClient) *RedisCounterStore {
	return &RedisCounterStore{rdb: rdb}
}

func (s *RedisCounterStore) Increment(ctx context.Context, key domain.Key) (int64, error) {
	value, err := s.rdb.Incr(ctx, string(key)).Result()
	if err != nil {
		return 0, errors.WithMessage(err, "incr")
	}
	return value, nil
}

func (s *RedisCounterStore) Expire(ctx context.Context, key domain.Key, ttl time.Duration) error {
	err := s.rdb.Expire(ctx, string(key), ttl).Err()
	if err != nil {
		return errors.WithMessage(err, "expire")
	}
	return nil
}
