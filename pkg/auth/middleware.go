package auth

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/mselser95/parimutuel/pkg/types"
	"go.uber.org/zap"
)

// MaxBodyBytes bounds the request body read for signature verification.
const MaxBodyBytes = 1 << 20

// Middleware verifies each request and stores the caller identity in its context.
// The body is buffered and restored so handlers can still decode it.
func Middleware(v Verifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
			if err != nil || len(body) > MaxBodyBytes {
				writeUnauthorized(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			identity, err := v.Verify(r, body)
			if err == nil && identity.IsEscrow() {
				err = fmt.Errorf("%w: %s is a market escrow", types.ErrUnauthorized, identity)
			}
			if err != nil {
				AuthFailuresTotal.Inc()
				logger.Debug("request-unauthorized",
					zap.String("path", r.URL.Path),
					zap.Error(err))
				writeUnauthorized(w, http.StatusUnauthorized, err.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "kind": "unauthorized"})
}
