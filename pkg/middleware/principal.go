package middleware

import (
	"context"
	"net/http"

	"github.com/utafrali/cartengine/pkg/logger"
)

// Headers set by the API gateway in front of the engine. The gateway
// authenticates users and forwards the user ID; anonymous shoppers carry an
// opaque session token instead.
const (
	UserIDHeader       = "X-User-ID"
	SessionTokenHeader = "X-Session-Token"
)

// Principal identifies who a request acts for. At most one of the two fields
// decides cart ownership: an authenticated user always wins over a session.
type Principal struct {
	UserID       string
	SessionToken string
}

// Authenticated reports whether the principal is a logged-in user.
func (p Principal) Authenticated() bool { return p.UserID != "" }

// Anonymous reports whether the request carries neither a user nor a session.
func (p Principal) Anonymous() bool { return p.UserID == "" && p.SessionToken == "" }

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored by Identify.
func PrincipalFromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey{}).(Principal)
	return p
}

// Identify reads the gateway headers into a Principal on the context.
func Identify() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := Principal{
				UserID:       r.Header.Get(UserIDHeader),
				SessionToken: r.Header.Get(SessionTokenHeader),
			}
			ctx := WithPrincipal(r.Context(), p)
			if p.UserID != "" {
				ctx = logger.WithUserID(ctx, p.UserID)
			} else if p.SessionToken != "" {
				ctx = logger.WithSession(ctx, p.SessionToken)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
