// Package infra contém implementações concretas para os contratos do pacote domain.
//
//   - RedisCounterStore: contador compartilhado (INCR/EXPIRE) via go-redis
//   - MemoryCounterStore: mesma semântica em memória, para testes e instância única
//   - Store: token bucket local (golang.org/x/time/rate), usado como fallback
//   - RedisStatsStore / MemoryStatsStore: estatísticas de decisões
//   - SlotPool: semáforo para limite de concorrência
package infra
