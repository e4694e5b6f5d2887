// Package domain define contratos e tipos de domínio para o rate limit distribuído,
// estatísticas e limite de concorrência.
//
// Este pacote não depende de net/http nem de implementações concretas.
// A chave do contador, a decisão e o contrato do store compartilhado (INCR/EXPIRE)
// ficam aqui para que application e infra possam ser testados isoladamente.
package domain
