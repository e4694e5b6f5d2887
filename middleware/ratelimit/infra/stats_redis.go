package infra

import (
	"context"
	"strings"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisStatsStore agrega decisões em hashes no Redis, compartilhados entre réplicas.
//
// Layout (prefix padrão "ratelimit:stats"):
//
//	<prefix>:total                   allowed/denied cumulativo, sem TTL
//	<prefix>:minute:<yyyyMMddHHmm>   allowed/denied por minuto, com TTL
//	<prefix>:route:<yyyyMMddHHmm>    "<METHOD> <rota>:allowed|denied", com TTL (rota via domain.RouteLabel)
//	<prefix>:identity:<identity>     só com WithStatsTrackIdentities(true), com TTL
type RedisStatsStore struct {
	rdb redis.UniversalClient

	prefix string
	// ttl aplica nas chaves por minuto, por rota e por identidade.
	ttl time.Duration

	trackIdentities bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsTrackIdentities(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackIdentities = track }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	bucket := at.UTC().Format("200601021504")
	minuteKey := s.prefix + ":minute:" + bucket
	pipe.HIncrBy(ctx, minuteKey, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, minuteKey, s.ttl)
	}

	if route := domain.RouteLabel(ev.Method, ev.Path); route != "" {
		routeKey := s.prefix + ":route:" + bucket
		pipe.HIncrBy(ctx, routeKey, route+":"+field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, routeKey, s.ttl)
		}
	}

	if s.trackIdentities {
		if id := strings.TrimSpace(ev.Identity); id != "" {
			identityKey := s.prefix + ":identity:" + id
			pipe.HIncrBy(ctx, identityKey, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, identityKey, s.ttl)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		return errors.WithMessage(err, "record stats")
	}
	return nil
}
