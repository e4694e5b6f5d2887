package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"

	"ratelimit-gateway/middleware/ratelimit/domain"
)

// IdentityFunc devolve a identidade usada na chave do contador
// ("user:<id>" ou "ip:<endereço>"). Vazio cai no ResolveIdentity.
type IdentityFunc func(r *http.Request) string

type subjectKey struct{}

// WithSubject marca o contexto com o sujeito autenticado (ex: "sub" do JWT).
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(subjectKey{}).(string)
	return subject
}

// ResolveIdentity prefere o sujeito autenticado ao endereço de rede, para que
// usuários atrás do mesmo NAT não dividam o limite.
//
// Ordem do endereço: primeiro item do X-Forwarded-For (cliente original),
// X-Real-IP, host do RemoteAddr. Nunca retorna vazio.
func ResolveIdentity(r *http.Request) string {
	if subject := strings.TrimSpace(SubjectFromContext(r.Context())); subject != "" {
		return "user:" + subject
	}
	return "ip:" + clientAddress(r)
}

func clientAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return normalizeAddress(ip)
		}
	}

	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return normalizeAddress(ip)
	}

	remote := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(remote); err == nil && host != "" {
		return normalizeAddress(host)
	}
	if remote != "" {
		return normalizeAddress(remote)
	}
	return domain.UnknownAddress
}

// loopback IPv6 vira IPv4 para a mesma máquina não ter duas chaves.
func normalizeAddress(addr string) string {
	if addr == "::1" || addr == "[::1]" {
		return "127.0.0.1"
	}
	return addr
}
