package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/devinsight/devinsight/internal/auth"
	"github.com/devinsight/devinsight/internal/handler/dto"
	"github.com/devinsight/devinsight/internal/model"
	"github.com/devinsight/devinsight/internal/service"
)

// AuthService is the account API used by AuthHandler.
type AuthService interface {
	Register(ctx context.Context, in service.RegisterInput) (*service.AuthResult, error)
	Login(ctx context.Context, in service.LoginInput) (*service.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*service.AccessToken, error)
	Logout(ctx context.Context, ac *model.AuthContext, refreshToken string) error
	Profile(ctx context.Context, userID string) (*model.User, error)
	UpdateProfile(ctx context.Context, userID string, email *string) (*model.User, error)
	ChangePassword(ctx context.Context, userID, current, next string) error
	Deactivate(ctx context.Context, ac *model.AuthContext, password string) error
	CheckUsername(ctx context.Context, username string) (*service.Availability, error)
	CheckEmail(ctx context.Context, email string) (*service.Availability, error)
}

// AuthHandler handles /api/v1/auth.
type AuthHandler struct {
	svc    AuthService
	logger *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(svc AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, logger: logger.With("component", "handler.auth")}
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	result, err := h.svc.Register(r.Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Registration successful", dto.ToAuthResponse(result.User, result.Tokens))
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	result, err := h.svc.Login(r.Context(), service.LoginInput{
		Login:    req.Login(),
		Password: req.Password,
		Scopes:   req.Scopes,
	})
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Login successful", dto.ToAuthResponse(result.User, result.Tokens))
}

// Refresh handles POST /api/v1/auth/refresh. The refresh token is read from
// the Authorization header, or from a refresh_token body field.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		var req dto.LogoutRequest
		if !decodeJSON(w, r, &req, true) {
			return
		}
		token = strings.TrimSpace(req.RefreshToken)
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token is required")
		return
	}

	access, err := h.svc.Refresh(r.Context(), token)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Token refreshed", access)
}

// Logout handles POST /api/v1/auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req dto.LogoutRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	if err := h.svc.Logout(r.Context(), auth.MustAuthFromContext(r.Context()), strings.TrimSpace(req.RefreshToken)); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Logged out", nil)
}

// Profile handles GET /api/v1/auth/profile.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.Profile(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "OK", user)
}

// UpdateProfile handles PUT /api/v1/auth/profile.
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req dto.UpdateProfileRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	user, err := h.svc.UpdateProfile(r.Context(), auth.UserIDFromContext(r.Context()), req.Email)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Profile updated", user)
}

// ChangePassword handles POST /api/v1/auth/change-password.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ChangePasswordRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	if err := h.svc.ChangePassword(r.Context(), auth.UserIDFromContext(r.Context()), req.CurrentPassword, req.NewPassword); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Password changed", nil)
}

// Deactivate handles POST /api/v1/auth/deactivate.
func (h *AuthHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	var req dto.DeactivateRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	if err := h.svc.Deactivate(r.Context(), auth.MustAuthFromContext(r.Context()), req.Password); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Account deactivated", nil)
}

// CheckUsername handles GET /api/v1/auth/check-username.
func (h *AuthHandler) CheckUsername(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.CheckUsername(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "OK", result)
}

// CheckEmail handles GET /api/v1/auth/check-email.
func (h *AuthHandler) CheckEmail(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.CheckEmail(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "OK", result)
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
