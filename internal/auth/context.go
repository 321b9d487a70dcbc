package auth

import (
	"context"

	"github.com/devinsight/devinsight/internal/model"
)

type ctxKey struct{}

// ContextWithAuth stores the caller identity resolved from an access token.
func ContextWithAuth(ctx context.Context, ac *model.AuthContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, ac)
}

// AuthFromContext returns the caller identity, or nil for anonymous
// requests.
func AuthFromContext(ctx context.Context) *model.AuthContext {
	ac, _ := ctx.Value(ctxKey{}).(*model.AuthContext)
	return ac
}

// MustAuthFromContext is AuthFromContext for handlers mounted behind the
// authentication middleware. It panics when the middleware is missing.
func MustAuthFromContext(ctx context.Context) *model.AuthContext {
	ac := AuthFromContext(ctx)
	if ac == nil {
		panic("auth: no caller identity in context; route is missing the authenticate middleware")
	}
	return ac
}

// UserIDFromContext returns the caller's user ID, or "".
func UserIDFromContext(ctx context.Context) string {
	if ac := AuthFromContext(ctx); ac != nil {
		return ac.UserID
	}
	return ""
}
