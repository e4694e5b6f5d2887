// Package auth extrai o subject de um Bearer JWT (HS256) para que o rate limit
// conte por usuário. Não autentica nada: token ausente ou inválido segue como
// anônimo e cai na identidade por IP.
package auth

import (
	"net/http"
	"strings"

	"ratelimit-gateway/middleware/ratelimit"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"
)

type Options struct {
	// Secret HS256. Vazio desliga a extração.
	Secret []byte
	Logger *zap.Logger
}

// Subject devolve o "sub" de um token válido. ok=false para qualquer falha.
func Subject(token string, secret []byte) (string, bool) {
	if token == "" || len(secret) == 0 {
		return "", false
	}
	tok, err := jwt.Parse([]byte(token), jwt.WithKey(jwa.HS256, secret), jwt.WithValidate(true))
	if err != nil {
		return "", false
	}
	sub := strings.TrimSpace(tok.Subject())
	return sub, sub != ""
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if len(opts.Secret) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			sub, ok := Subject(token, opts.Secret)
			if !ok {
				logger.Debug("ignoring invalid bearer token", zap.String("path", r.URL.Path))
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(ratelimit.WithSubject(r.Context(), sub)))
		})
	}
}
