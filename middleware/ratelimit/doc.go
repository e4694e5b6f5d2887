// Package ratelimit fornece os adapters HTTP (net/http) do rate limit distribuído
// e do limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: chave da janela, decisão, contratos do store (sem net/http)
//   - application: casos de uso (incremento, TTL, decisão; acquire/timeout)
//   - infra: Redis, memória, token bucket local, estatísticas, semáforo
//   - ratelimit (este pacote): middlewares HTTP, resolução de identidade,
//     headers X-RateLimit-*, resposta 429 e métricas
//
// Fluxo por requisição:
//
//  1. Path isento (ex: /health) passa direto, sem tocar no store
//  2. Resolve a identidade: "user:<sub>" ou "ip:<endereço>"
//  3. INCR em <prefix>:<identidade>:<yyyyMMddHHmm>; EXPIRE 60s quando o valor é 1
//  4. Acima do limite responde 429 com Retry-After: 60
//  5. Store fora do ar: loga e deixa passar (fail-open), sem headers
//
// O estado compartilhado fica todo no Redis; o middleware não guarda nada entre
// requisições, então qualquer número de réplicas enxerga o mesmo contador.
package ratelimit
