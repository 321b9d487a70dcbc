package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/devinsight/devinsight/internal/auth"
	"github.com/devinsight/devinsight/internal/gitprovider"
	"github.com/devinsight/devinsight/internal/middleware"
	"github.com/devinsight/devinsight/internal/service"
)

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// errorMappings is checked in order; the first errors.Is match wins.
var errorMappings = []errorMapping{
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password"},
	{service.ErrAccountDisabled, http.StatusForbidden, "ACCOUNT_DISABLED", "Account is disabled"},
	{service.ErrUserNotFound, http.StatusNotFound, "USER_NOT_FOUND", "User not found"},
	{service.ErrUsernameTaken, http.StatusConflict, "USERNAME_TAKEN", "Username already exists"},
	{service.ErrEmailTaken, http.StatusConflict, "EMAIL_TAKEN", "Email already registered"},
	{service.ErrWrongPassword, http.StatusBadRequest, "WRONG_PASSWORD", "Current password is incorrect"},
	{service.ErrSamePassword, http.StatusBadRequest, "SAME_PASSWORD", "New password must differ from the current one"},
	{service.ErrTokenRevoked, http.StatusUnauthorized, "TOKEN_REVOKED", "Token has been revoked"},
	{auth.ErrTokenExpired, http.StatusUnauthorized, "TOKEN_EXPIRED", "Token has expired"},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token"},
	{auth.ErrWrongTokenType, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token"},

	{service.ErrRepositoryNotFound, http.StatusNotFound, "REPOSITORY_NOT_FOUND", "Repository not found"},
	{service.ErrRepositoryExists, http.StatusConflict, "REPOSITORY_EXISTS", "Repository already added"},
	{service.ErrRepositoryInactive, http.StatusBadRequest, "REPOSITORY_INACTIVE", "Repository is inactive"},
	{service.ErrAlreadyTracked, http.StatusConflict, "ALREADY_TRACKED", "Repository is already tracked"},
	{service.ErrNotTracked, http.StatusConflict, "NOT_TRACKED", "Repository is not tracked"},
	{service.ErrSyncInProgress, http.StatusConflict, "SYNC_IN_PROGRESS", "A sync is already running for this repository"},
	{service.ErrQueueUnavailable, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "Background sync is not available"},
	{service.ErrInvalidAPIKey, http.StatusUnprocessableEntity, "INVALID_STORED_KEY", "Stored API key cannot be used, update it"},

	{gitprovider.ErrUnauthorized, http.StatusBadRequest, "PROVIDER_UNAUTHORIZED", ""},
	{gitprovider.ErrForbidden, http.StatusBadRequest, "PROVIDER_FORBIDDEN", ""},
	{gitprovider.ErrNotFound, http.StatusNotFound, "PROVIDER_NOT_FOUND", ""},
	{gitprovider.ErrRateLimited, http.StatusTooManyRequests, "PROVIDER_RATE_LIMITED", ""},
	{gitprovider.ErrUnavailable, http.StatusBadGateway, "PROVIDER_UNAVAILABLE", ""},
	{gitprovider.ErrNetwork, http.StatusBadGateway, "PROVIDER_UNAVAILABLE", ""},
}

// handleServiceError maps service errors to HTTP responses. Unmapped errors
// are logged with the request ID and surface as a generic 500.
func handleServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var ve *service.ValidationError
	if errors.As(err, &ve) {
		writeValidationError(w, ve.Fields)
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			message := m.message
			if message == "" {
				message = service.ProviderMessage(err)
			}
			writeError(w, m.status, m.code, message)
			return
		}
	}

	logger.Error("unhandled service error",
		"error", err,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.GetRequestID(r.Context()),
	)
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
}
