package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/devinsight/devinsight/internal/auth"
	"github.com/devinsight/devinsight/internal/model"
	"github.com/devinsight/devinsight/internal/service"
)

// Authenticator verifies access tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*model.AuthContext, error)
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger        *slog.Logger
	Authenticator Authenticator
}

// Auth returns a middleware that authenticates API requests with a bearer
// access token and injects the auth context into the request.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				logAuthFailure(cfg.Logger, r, "missing_token")
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authorization header")
				return
			}

			authCtx, err := cfg.Authenticator.Authenticate(r.Context(), token)
			if err != nil {
				status, code, message, reason := classifyAuthError(err)
				if status == http.StatusInternalServerError {
					cfg.Logger.Error("authentication error",
						slog.String("error", err.Error()),
						slog.String("request_id", GetRequestID(r.Context())),
					)
				} else {
					logAuthFailure(cfg.Logger, r, reason)
				}
				writeError(w, status, code, message)
				return
			}

			if holder := userHolderFrom(r.Context()); holder != nil {
				holder.userID = authCtx.UserID
			}

			cfg.Logger.Debug("authentication successful",
				slog.String("user_id", authCtx.UserID),
				slog.String("endpoint", r.Method+" "+r.URL.Path),
				slog.String("request_id", GetRequestID(r.Context())),
			)

			ctx := auth.ContextWithAuth(r.Context(), authCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// classifyAuthError maps an authentication failure to a response.
func classifyAuthError(err error) (status int, code, message, reason string) {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized, "TOKEN_EXPIRED", "Access token has expired", "expired"
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrWrongTokenType):
		return http.StatusUnauthorized, "INVALID_TOKEN", "Invalid access token", "invalid_token"
	case errors.Is(err, service.ErrTokenRevoked):
		return http.StatusUnauthorized, "TOKEN_REVOKED", "Access token has been revoked", "revoked"
	case errors.Is(err, service.ErrUserNotFound):
		return http.StatusUnauthorized, "INVALID_TOKEN", "Invalid access token", "unknown_user"
	case errors.Is(err, service.ErrAccountDisabled):
		return http.StatusForbidden, "ACCOUNT_DISABLED", "Account is disabled", "disabled"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", "internal"
}

func logAuthFailure(logger *slog.Logger, r *http.Request, reason string) {
	logger.Warn("authentication failed",
		slog.String("reason", reason),
		slog.String("ip", clientIP(r)),
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())),
	)
}

// extractBearerToken returns the token of an "Authorization: Bearer <t>"
// header, or "".
func extractBearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// userHolder lets Auth report the user back to the logging middleware.
type userHolder struct {
	userID string
}

type userHolderKey struct{}

func withUserHolder(ctx context.Context, h *userHolder) context.Context {
	return context.WithValue(ctx, userHolderKey{}, h)
}

func userHolderFrom(ctx context.Context) *userHolder {
	h, _ := ctx.Value(userHolderKey{}).(*userHolder)
	return h
}
