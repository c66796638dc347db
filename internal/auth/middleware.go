package auth

import (
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
)

// IdentityMiddleware attaches the caller identity from a bearer token to the
// request context. It never rejects a request: a missing or unreadable token
// just leaves the caller unknown. An identity already placed in the context,
// e.g. by the gateway adapter, takes precedence.
func IdentityMiddleware(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := GetCaller(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				next.ServeHTTP(w, r)
				return
			}

			subject, err := ExtractSubject(authHeader)
			if err != nil {
				logger.Warn("failed to read caller from token", "err", err)
				next.ServeHTTP(w, r)
				return
			}

			ctx := WithCaller(r.Context(), Caller{Subject: subject, Source: "token"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
