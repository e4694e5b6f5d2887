package infra

import (
	"context"
	"sync"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"
)

// MemoryCounterStore é um CounterStore em memória com a mesma semântica de INCR/EXPIRE.
// Útil para testes e para rodar uma instância só.
//
// Não é compartilhado entre réplicas; não use como limite global em produção.
type MemoryCounterStore struct {
	mu      sync.Mutex
	entries map[domain.Key]*counterEntry
	now     func() time.Time
}

type counterEntry struct {
	value     int64
	expiresAt time.Time // zero = sem expiração
}

var _ domain.CounterStore = (*MemoryCounterStore)(nil)

type MemoryCounterOption func(*MemoryCounterStore)

// WithCounterClock troca o relógio usado para expirar chaves (testes).
func WithCounterClock(now func() time.Time) MemoryCounterOption {
	return func(s *MemoryCounterStore) { s.now = now }
}

func NewMemoryCounterStore(opts ...MemoryCounterOption) *MemoryCounterStore {
	s := &MemoryCounterStore{
		entries: make(map[domain.Key]*counterEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryCounterStore) Increment(ctx context.Context, key domain.Key) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok || ent.expired(now) {
		ent = &counterEntry{}
		s.entries[key] = ent
	}
	ent.value++
	return ent.value, nil
}

func (s *MemoryCounterStore) Expire(ctx context.Context, key domain.Key, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok || ent.expired(now) {
		return nil
	}
	if ttl <= 0 {
		delete(s.entries, key)
		return nil
	}
	ent.expiresAt = now.Add(ttl)
	return nil
}

// Value devolve o valor atual da chave (0 se não existe ou expirou).
func (s *MemoryCounterStore) Value(key domain.Key) int64 {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok || ent.expired(now) {
		return 0
	}
	return ent.value
}

// Cleanup remove chaves expiradas.
func (s *MemoryCounterStore) Cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.expired(now) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor limpa chaves expiradas periodicamente até o ctx encerrar.
func (s *MemoryCounterStore) StartJanitor(ctx context.Context, every time.Duration) {
	startJanitor(ctx, every, s.Cleanup)
}

func (e *counterEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}
