package domain

import "context"

// SlotPool limita quantas requisições ficam em voo ao mesmo tempo numa instância.
//
// Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar. Com ok=true,
// release deve ser chamada exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}
