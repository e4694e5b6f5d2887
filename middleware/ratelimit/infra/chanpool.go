package infra

import (
	"context"
	"sync"

	"ratelimit-gateway/middleware/ratelimit/domain"
)

// SlotPool é um semáforo sobre channel bufferizado. O release devolvido é
// idempotente: chamar duas vezes não libera duas vagas.
type SlotPool struct {
	slots chan struct{}
}

var _ domain.SlotPool = (*SlotPool)(nil)

func NewChanPool(size int) *SlotPool {
	if size <= 0 {
		size = 1
	}
	return &SlotPool{slots: make(chan struct{}, size)}
}

func (p *SlotPool) Acquire(ctx context.Context) (func(), bool) {
	// vaga livre vence um ctx já cancelado
	select {
	case p.slots <- struct{}{}:
		return p.releaser(), true
	default:
	}

	select {
	case p.slots <- struct{}{}:
		return p.releaser(), true
	case <-ctx.Done():
		return nil, false
	}
}

func (p *SlotPool) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(func() { <-p.slots })
	}
}

// InUse é o número de vagas ocupadas agora.
func (p *SlotPool) InUse() int { return len(p.slots) }

func (p *SlotPool) Size() int { return cap(p.slots) }
