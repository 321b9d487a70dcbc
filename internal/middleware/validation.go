package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
)

// ValidateIDParam rejects requests whose chi URL parameter name is not a
// ULID, before any handler or query runs. Register it on a router whose
// pattern declares the parameter.
func ValidateIDParam(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := ulid.ParseStrict(chi.URLParam(r, name)); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid "+name)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
