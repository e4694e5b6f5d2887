package main

import (
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Config é lida de flags e variáveis de ambiente (o .env, se existir, é
// carregado antes). Flag vence env, env vence default.
type Config struct {
	ListenAddr  string `name:"listen-addr" env:"LISTEN_ADDR" default:":8080" help:"Address the gateway listens on."`
	UpstreamURL string `name:"upstream-url" env:"UPSTREAM_URL" help:"Upstream base URL requests are proxied to."`

	RateLimitEnabled  bool          `name:"rate-limit-enabled" env:"RATE_LIMIT_ENABLED" default:"true" negatable:"" help:"Enable the per-minute rate limit."`
	RequestsPerMinute int           `name:"requests-per-minute" env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100" help:"Requests allowed per identity per minute."`
	ExemptPaths       []string      `name:"exempt-paths" env:"RATE_LIMIT_EXEMPT_PATHS" default:"/health,/metrics" help:"Path prefixes that bypass the limit (case-insensitive)."`
	KeyPrefix         string        `name:"key-prefix" env:"RATE_LIMIT_KEY_PREFIX" default:"ratelimit" help:"Prefix of the counter keys in Redis."`
	StoreTimeout      time.Duration `name:"store-timeout" env:"RATE_LIMIT_STORE_TIMEOUT" default:"200ms" help:"Deadline for each counter store call."`
	LocalFallback     bool          `name:"local-fallback" env:"RATE_LIMIT_LOCAL_FALLBACK" default:"false" help:"Use an in-process token bucket while Redis is unavailable."`
	JWTSecret         string        `name:"jwt-secret" env:"RATE_LIMIT_JWT_SECRET" help:"HS256 secret used to read the subject of bearer tokens."`
	ForwardRequestID  bool          `name:"forward-request-id" env:"REQUEST_ID_FORWARD" default:"true" negatable:"" help:"Reuse the client X-Request-Id instead of generating one."`

	RedisAddr           string   `name:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" help:"Redis address (single node)."`
	RedisUsername       string   `name:"redis-username" env:"REDIS_USERNAME" help:"Redis ACL username."`
	RedisPassword       string   `name:"redis-password" env:"REDIS_PASSWORD" help:"Redis password."`
	RedisDB             int      `name:"redis-db" env:"REDIS_DB" default:"0" help:"Redis logical database."`
	RedisSentinelMaster string   `name:"redis-sentinel-master" env:"REDIS_SENTINEL_MASTER" help:"Sentinel master name. Empty uses a single node."`
	RedisSentinelAddrs  []string `name:"redis-sentinel-addrs" env:"REDIS_SENTINEL_ADDRS" help:"Sentinel addresses."`

	StatsEnabled   bool          `name:"stats-enabled" env:"RATE_STATS_ENABLED" default:"false" help:"Record allow/deny statistics in Redis."`
	StatsPrefix    string        `name:"stats-prefix" env:"RATE_STATS_PREFIX" default:"ratelimit:stats" help:"Prefix of the statistics keys."`
	StatsTTL       time.Duration `name:"stats-ttl" env:"RATE_STATS_TTL" default:"24h" help:"TTL of the per-minute statistics buckets."`
	StatsTrackKeys bool          `name:"stats-track-keys" env:"RATE_STATS_TRACK_KEYS" default:"false" help:"Also count per identity (high cardinality)."`

	ConcurrencyMax     int           `name:"concurrency-max" env:"CONCURRENCY_MAX" default:"100" help:"Max in-flight requests on this instance. 0 disables."`
	ConcurrencyTimeout time.Duration `name:"concurrency-timeout" env:"CONCURRENCY_TIMEOUT" default:"0s" help:"How long to wait for a free slot. 0 waits for the request context."`

	LogLevel string `name:"log-level" env:"LOG_LEVEL" default:"info" help:"Log level (debug, info, warn, error)."`
}

// Validate é chamado pelo kong depois do parse.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.UpstreamURL) == "" {
		return errors.New("UPSTREAM_URL is required")
	}
	u, err := url.Parse(c.UpstreamURL)
	if err != nil {
		return errors.Wrap(err, "invalid UPSTREAM_URL")
	}
	if u.Scheme == "" || u.Host == "" {
		return errors.Errorf("invalid UPSTREAM_URL %q: scheme and host are required", c.UpstreamURL)
	}
	if c.RequestsPerMinute <= 0 {
		return errors.New("RATE_LIMIT_REQUESTS_PER_MINUTE must be > 0")
	}
	if c.StoreTimeout <= 0 {
		return errors.New("RATE_LIMIT_STORE_TIMEOUT must be > 0")
	}
	if c.ConcurrencyMax < 0 {
		return errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if c.RedisSentinelMaster != "" && len(c.RedisSentinelAddrs) == 0 {
		return errors.New("REDIS_SENTINEL_ADDRS is required when REDIS_SENTINEL_MASTER is set")
	}
	return nil
}

func (c *Config) upstream() *url.URL {
	u, _ := url.Parse(c.UpstreamURL)
	return u
}

// redisClient abre um cliente simples ou via sentinel. Não conecta: o go-redis
// disca sob demanda, então Redis fora do ar não impede o boot.
//
// Retry desligado: um INCR repetido após perder só a resposta contaria a
// requisição duas vezes, e cada tentativa consome o StoreTimeout.
func (c *Config) redisClient() redis.UniversalClient {
	if c.RedisSentinelMaster != "" {
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    c.RedisSentinelMaster,
			SentinelAddrs: c.RedisSentinelAddrs,
			Username:      c.RedisUsername,
			Password:      c.RedisPassword,
			DB:            c.RedisDB,
			MaxRetries:    -1,
		})
	}
	return redis.NewClient(&redis.Options{
		Addr:       c.RedisAddr,
		Username:   c.RedisUsername,
		Password:   c.RedisPassword,
		DB:         c.RedisDB,
		MaxRetries: -1,
	})
}
