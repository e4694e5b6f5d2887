package domain

import (
	"context"
	"strings"
	"time"
)

// StatsEvent representa um evento de decisão do rate limit.
//
// Observação: cuidado com cardinalidade (ex.: salvar Identity/Path sem controle pode
// explodir o número de chaves no Redis).
type StatsEvent struct {
	Identity string
	Allowed  bool

	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas do rate limit.
//
// O middleware trata erro como best-effort (não derruba request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

const (
	// rotas nas estatísticas usam só os primeiros segmentos do path
	routeSegments = 2
	maxRouteLen   = 128
)

// RouteLabel reduz método + path a um rótulo de cardinalidade baixa:
// "/api/courses/42/lessons" vira "GET /api/courses/*". O path vem do cliente,
// então ids e lixo não podem virar uma entrada nova cada.
func RouteLabel(method, path string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	path = strings.TrimSpace(path)
	if path == "" {
		return method
	}

	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", routeSegments+1)
	label := "/" + strings.Join(parts[:min(len(parts), routeSegments)], "/")
	if len(parts) > routeSegments {
		label += "/*"
	}
	if len(label) > maxRouteLen {
		label = label[:maxRouteLen]
	}
	return strings.TrimSpace(method + " " + label)
}
