// Package requestid garante um X-Request-Id em cada requisição, repassado ao
// upstream e devolvido ao cliente.
package requestid

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const Header = "X-Request-Id"

// tamanho máximo aceito de um id vindo do cliente
const maxClientIDLen = 128

type ctxKey struct{}

func ToContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Field é o campo de log do request id (vazio quando não houver).
func Field(ctx context.Context) zap.Field {
	return zap.String("requestId", FromContext(ctx))
}

// Middleware reaproveita o id do cliente quando forwardClient=true; senão gera
// um novo e loga o do cliente só como referência.
func Middleware(forwardClient bool, logger *zap.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := uuid.NewString()
			clientID := strings.TrimSpace(r.Header.Get(Header))
			if clientID != "" && len(clientID) <= maxClientIDLen {
				if forwardClient {
					id = clientID
				} else {
					logger.Debug("replacing client request id",
						zap.String("clientRequestId", clientID),
						zap.String("requestId", id),
					)
				}
			}

			r.Header.Set(Header, id)
			w.Header().Set(Header, id)
			next.ServeHTTP(w, r.WithContext(ToContext(r.Context(), id)))
		})
	}
}
