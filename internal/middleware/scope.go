package middleware

import (
	"net/http"

	"github.com/devinsight/devinsight/internal/auth"
	"github.com/devinsight/devinsight/internal/model"
)

// RequireScope rejects requests whose token lacks scope. Must run after Auth.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := auth.AuthFromContext(r.Context())
			if authCtx == nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			}
			if !authCtx.HasScope(scope) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions. Required scope: "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRead requires the read scope (granted by write as well).
func RequireRead() func(http.Handler) http.Handler {
	return RequireScope(model.ScopeRead)
}

// RequireWrite requires the write scope.
func RequireWrite() func(http.Handler) http.Handler {
	return RequireScope(model.ScopeWrite)
}

// ScopeByMethod requires read for safe methods and write otherwise.
func ScopeByMethod() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		read := RequireRead()(next)
		write := RequireWrite()(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				read.ServeHTTP(w, r)
			default:
				write.ServeHTTP(w, r)
			}
		})
	}
}
