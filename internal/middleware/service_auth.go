package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gigledger/backend/internal/auth"
)

type contextKey string

const ctxClaimsKey contextKey = "service_client"

// TokenValidator is the part of auth.Service used by ServiceAuth.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.Claims, error)
}

// ServiceAuth authenticates collaborator requests by their bearer token and
// stores the client's claims in the request context.
func ServiceAuth(v TokenValidator, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "missing or malformed Authorization header")
				return
			}
			claims, err := v.ValidateToken(r.Context(), raw)
			if err != nil {
				log.Warn("rejected service token", "path", r.URL.Path, "error", err)
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireScope rejects clients that were not granted scope. It must run
// after ServiceAuth.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := ClaimsFromCtx(r.Context())
			if c == nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !c.HasScope(scope) {
				writeError(w, http.StatusForbidden, "client lacks scope "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClaimsFromCtx returns the authenticated client's claims or nil.
func ClaimsFromCtx(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(ctxClaimsKey).(*auth.Claims)
	return c
}

// WithClaims returns a context carrying the given claims.
func WithClaims(ctx context.Context, c *auth.Claims) context.Context {
	return context.WithValue(ctx, ctxClaimsKey, c)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
