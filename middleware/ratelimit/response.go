package ratelimit

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"github.com/pkg/errors"
)

const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
	HeaderRetry     = "Retry-After"
)

var retryAfterSeconds = int(domain.RetryAfter.Seconds())

type rejectedBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

func setRateLimitHeaders(h http.Header, dec domain.Decision) {
	h.Set(HeaderLimit, formatInt(dec.Limit))
	h.Set(HeaderRemaining, formatInt(dec.Remaining))
	h.Set(HeaderReset, formatInt64(dec.ResetAt))
}

func writeRejected(w http.ResponseWriter, limit int) {
	w.Header().Set(HeaderRetry, formatInt(retryAfterSeconds))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(rejectedBody{
		Error:      "Rate limit exceeded",
		Message:    "Too many requests. Limit: " + formatInt(limit) + " requests per minute.",
		RetryAfter: retryAfterSeconds,
	})
}

// headerWriter aplica os headers X-RateLimit-* no momento em que a resposta
// começa (primeiro WriteHeader/Write/Flush), sem mexer em status ou body.
type headerWriter struct {
	http.ResponseWriter
	dec     domain.Decision
	applied bool
}

func (w *headerWriter) apply() {
	if w.applied {
		return
	}
	w.applied = true
	setRateLimitHeaders(w.ResponseWriter.Header(), w.dec)
}

func (w *headerWriter) WriteHeader(statusCode int) {
	w.apply()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *headerWriter) Write(b []byte) (int, error) {
	w.apply()
	return w.ResponseWriter.Write(b)
}

// Flush mantém o streaming do reverse proxy funcionando.
func (w *headerWriter) Flush() {
	w.apply()
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *headerWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("headerWriter: upstream writer doesn't implement Hijack")
	}
	return hijacker.Hijack()
}

func (w *headerWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
