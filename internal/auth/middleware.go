package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

type ctxKey string

const (
	ctxKeyClaims ctxKey = "claims"
)

func FromContext(ctx context.Context) (*Claims, bool) {
	cl, ok := ctx.Value(ctxKeyClaims).(*Claims)
	return cl, ok
}

// ShopFromContext returns the authenticated shop, or "" when the request
// was not authenticated.
func ShopFromContext(ctx context.Context) string {
	if cl, ok := FromContext(ctx); ok {
		return cl.Shop()
	}
	return ""
}

// WithClaims stores cl in ctx.
func WithClaims(ctx context.Context, cl *Claims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims, cl)
}

func SessionMiddleware(secret, apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("Authorization")
			if raw == "" || !strings.HasPrefix(raw, "Bearer ") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			cl, err := ParseToken(strings.TrimPrefix(raw, "Bearer "), secret, apiKey)
			if err != nil {
				slog.Warn("session token rejected", "err", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), cl)))
		})
	}
}
