package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/httputil"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/logger"
)

type identityKey struct{}

// Identity is the authenticated caller.
type Identity struct {
	AccountID string
	Email     string
}

// TokenVerifier validates a bearer token.
type TokenVerifier func(token string) (*Identity, error)

// Authenticate rejects requests without a valid bearer token and stores the
// caller's Identity in the context.
func Authenticate(verify TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearer(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w, "missing or malformed authorization header")
				return
			}
			id, err := verify(token)
			if err != nil || id == nil || id.AccountID == "" {
				unauthorized(w, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// OptionalAuthenticate attaches an Identity when a valid token is present
// and otherwise passes the request through anonymously.
func OptionalAuthenticate(verify TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, ok := bearer(r.Header.Get("Authorization")); ok {
				if id, err := verify(token); err == nil && id != nil && id.AccountID != "" {
					r = r.WithContext(WithIdentity(r.Context(), id))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	ctx = logger.WithAccountID(ctx, id.AccountID)
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns nil for anonymous requests.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func unauthorized(w http.ResponseWriter, msg string) {
	httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{
		Error: &httputil.ErrorResponse{Code: "UNAUTHORIZED", Message: msg},
	})
}
