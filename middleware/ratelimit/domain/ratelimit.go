package domain

// Camada de domínio do rate limit distribuído.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	// Window é o tamanho da janela fixa de contagem.
	Window = time.Minute
	// CounterTTL é a expiração armada no contador quando ele nasce.
	CounterTTL = 60 * time.Second
	// RetryAfter é a recomendação devolvida em Retry-After quando bloquear.
	RetryAfter = 60 * time.Second

	DefaultRequestsPerMinute = 100
	DefaultKeyPrefix         = "ratelimit"

	// UnknownAddress é usado quando a requisição não traz nenhum sinal de origem.
	// Todos esses clientes dividem o mesmo contador (falha para o lado restritivo).
	UnknownAddress = "unknown"

	bucketLayout = "200601021504"
)

// ErrStoreUnavailable indica que o contador compartilhado não respondeu.
// O middleware trata como fail-open.
var ErrStoreUnavailable = errors.New("counter store unavailable")

type Key string

// WindowKey monta a chave do contador: <prefix>:<identity>:<yyyyMMddHHmm>.
//
// Duas requisições da mesma identidade no mesmo minuto (UTC) caem na mesma chave;
// minutos diferentes nunca colidem.
func WindowKey(prefix, identity string, now time.Time) Key {
	prefix = strings.Trim(prefix, ":")
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return Key(prefix + ":" + identity + ":" + now.UTC().Format(bucketLayout))
}

// CounterStore é o contrato mínimo com o store externo de contadores.
//
// Increment precisa ser atômico (incrementa e devolve o novo valor num único round-trip),
// senão duas réplicas podem ler o mesmo valor e deixar passar requisições a mais.
type CounterStore interface {
	Increment(ctx context.Context, key Key) (int64, error)
	Expire(ctx context.Context, key Key, ttl time.Duration) error
}

// Limiter representa algo que pode decidir se uma ação é permitida agora.
//
// Usado pelo fallback local (token bucket) enquanto o store está fora.
type Limiter interface {
	Allow() bool
}

// LimiterStore obtém um limiter por chave (ex: IP, usuário).
type LimiterStore interface {
	Get(Key) Limiter
}

// Options é a configuração estática do limiter. Carregada uma vez no start e
// passada por valor; ninguém altera depois disso.
type Options struct {
	RequestsPerMinute  int
	ExemptPathPrefixes []string
	KeyPrefix          string
}

func (o Options) Limit() int {
	if o.RequestsPerMinute <= 0 {
		return DefaultRequestsPerMinute
	}
	return o.RequestsPerMinute
}

type Decision struct {
	Allowed bool
	Key     Key
	// Count é o valor do contador depois do incremento.
	Count     int64
	Limit     int
	Remaining int
	// ResetAt é now+60s em unix seconds.
	ResetAt int64
}
