package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey int

const actorIDKey ctxKey = 0

// actorID returns the authenticated subject from the request context, or
// "admin" when the guard is disabled and no identity was ever extracted.
func actorID(ctx context.Context) string {
	if id, ok := ctx.Value(actorIDKey).(string); ok && id != "" {
		return id
	}
	return "admin"
}

// AdminAuth guards the "/admin/*" prefix behind a single switchable
// gate: every admin route mounts this one middleware, so turning
// authentication on later is a one-line config change rather than a
// route-by-route rewrite. Enabled defaults to false so a fresh
// deployment's admin surface is reachable without standing up an
// identity provider first; an operator turns it on once a signing
// secret is configured.
type AdminAuth struct {
	Enabled bool
	Secret  []byte
}

// NewAdminAuth builds a disabled guard; call Enable once a secret exists.
func NewAdminAuth() AdminAuth {
	return AdminAuth{}
}

// Enable turns the guard on with the given HMAC signing secret.
func (a *AdminAuth) Enable(secret []byte) {
	a.Enabled = true
	a.Secret = secret
}

// Middleware is a no-op when disabled; when enabled it requires a valid
// HS256 bearer token in the Authorization header.
func (a AdminAuth) Middleware(next http.Handler) http.Handler {
	if !a.Enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		tokenStr, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenStr == "" {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}

		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			return a.Secret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}

		subject := "admin"
		if sub, err := token.Claims.GetSubject(); err == nil && sub != "" {
			subject = sub
		}
		ctx := context.WithValue(r.Context(), actorIDKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
