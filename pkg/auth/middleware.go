// Package auth provides the optional API-key middleware in front of the
// gateway.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/bturcanu/adgateway/pkg/types"
)

type contextKey string

const callerKey contextKey = "caller_id"

// CallerFromContext returns the authenticated caller, or "" when the request
// was not authenticated.
func CallerFromContext(ctx context.Context) string {
	v, _ := ctx.Value(callerKey).(string)
	return v
}

// WithCaller stores callerID on ctx.
func WithCaller(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, callerKey, callerID)
}

// PublicPaths are served without a key.
var PublicPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
}

// APIKeyAuth rejects requests without a known key in X-API-Key or
// Authorization: Bearer.
func APIKeyAuth(keys *KeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if PublicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := keyFromRequest(r)
			if apiKey == "" {
				types.ErrUnauthorized("missing API key").WriteJSON(w)
				return
			}
			callerID, ok := keys.Lookup(apiKey)
			if !ok {
				types.ErrUnauthorized("invalid API key").WriteJSON(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), callerID)))
		})
	}
}

func keyFromRequest(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get("X-API-Key")); k != "" {
		return k
	}
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(bearer)
	}
	return ""
}
