package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/devinsight/devinsight/internal/auth"
	"github.com/devinsight/devinsight/internal/cache"
	"github.com/devinsight/devinsight/internal/metrics"
	"github.com/devinsight/devinsight/internal/model"
	"github.com/devinsight/devinsight/internal/repository"
)

// Auth service errors.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWrongPassword      = errors.New("current password is incorrect")
	ErrSamePassword       = errors.New("new password must differ from the current one")
	ErrTokenRevoked       = errors.New("token has been revoked")
)

// AuthService handles accounts and token lifecycles.
type AuthService struct {
	repo    *repository.Repository
	cache   *cache.Cache
	tokens  *auth.TokenManager
	logger  *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

// NewAuthService creates a new AuthService.
func NewAuthService(repo *repository.Repository, c *cache.Cache, tokens *auth.TokenManager, logger *slog.Logger, recorder metrics.Recorder) *AuthService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &AuthService{
		repo:    repo,
		cache:   c,
		tokens:  tokens,
		logger:  logger.With("component", "service.auth"),
		metrics: recorder,
		now:     time.Now,
	}
}

// RegisterInput defines input for creating an account.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// LoginInput defines input for logging in. Login holds a username or, when
// it contains '@', an email.
type LoginInput struct {
	Login    string
	Password string
	Scopes   []string
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	User   *model.User
	Tokens *model.TokenPair
}

// AccessToken is the result of a refresh.
type AccessToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	ExpiresAt   time.Time `json:"-"`
}

// Register creates an account and signs it in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	username := strings.TrimSpace(in.Username)
	email := normalizeEmail(in.Email)

	errs := validationErrors{}
	errs.add("username", ValidateUsername(username))
	errs.add("email", ValidateEmail(email))
	_, pwErr := ValidatePassword(in.Password)
	errs.add("password", pwErr)
	if err := errs.err(); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	user := &model.User{
		ID:           generateULID(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrUsernameExists):
			return nil, ErrUsernameTaken
		case errors.Is(err, repository.ErrEmailExists):
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	tokens, err := s.tokens.IssuePair(user, model.DefaultScopes)
	if err != nil {
		return nil, err
	}

	s.metrics.IncRegistration()
	s.logger.Info("user_registered", "user_id", user.ID, "username", user.Username)
	return &AuthResult{User: user, Tokens: tokens}, nil
}

// Login verifies credentials and issues a token pair.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	login := strings.TrimSpace(in.Login)
	if login == "" || in.Password == "" {
		s.metrics.IncLogin("invalid")
		return nil, ErrInvalidCredentials
	}

	var user *model.User
	var err error
	if strings.Contains(login, "@") {
		user, err = s.repo.GetUserByEmail(ctx, normalizeEmail(login))
	} else {
		user, err = s.repo.GetUserByUsername(ctx, login)
	}
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// Same cost as a real verification so lookups do not leak.
			auth.VerifyDummy(in.Password)
			s.metrics.IncLogin("invalid")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	ok, err := auth.VerifyPassword(in.Password, user.PasswordHash)
	if err != nil || !ok {
		s.metrics.IncLogin("invalid")
		s.logger.Warn("login_failed", "user_id", user.ID, "reason", "bad_password")
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		s.metrics.IncLogin("disabled")
		return nil, ErrAccountDisabled
	}
	s.upgradeHash(ctx, user, in.Password)

	scopes := model.NormalizeScopes(in.Scopes)
	if len(scopes) == 0 {
		return nil, fieldError("scopes", "no valid scopes requested")
	}
	tokens, err := s.tokens.IssuePair(user, scopes)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.repo.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("touch_last_login_failed", "user_id", user.ID, "error", err)
	} else {
		user.LastLoginAt = &now
	}
	if err := s.cache.SetUser(ctx, user); err != nil {
		s.logger.Warn("cache_user_failed", "user_id", user.ID, "error", err)
	}

	s.metrics.IncLogin("success")
	s.logger.Info("user_logged_in", "user_id", user.ID)
	return &AuthResult{User: user, Tokens: tokens}, nil
}

// Refresh exchanges a refresh token for a new access token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AccessToken, error) {
	claims, err := s.tokens.Parse(refreshToken, model.TokenTypeRefresh)
	if err != nil {
		s.metrics.IncTokenRefresh("invalid")
		return nil, err
	}
	if s.isRevoked(ctx, claims.ID) {
		s.metrics.IncTokenRefresh("revoked")
		return nil, ErrTokenRevoked
	}
	if _, err := s.activeUser(ctx, claims.UserID); err != nil {
		s.metrics.IncTokenRefresh("invalid")
		return nil, err
	}

	token, expiresAt, err := s.tokens.IssueAccess(claims)
	if err != nil {
		return nil, err
	}
	s.metrics.IncTokenRefresh("success")
	return &AccessToken{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.tokens.AccessTTL().Seconds()),
		ExpiresAt:   expiresAt,
	}, nil
}

// Authenticate verifies an access token for a request.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*model.AuthContext, error) {
	claims, err := s.tokens.Parse(accessToken, model.TokenTypeAccess)
	if err != nil {
		return nil, err
	}
	if s.isRevoked(ctx, claims.ID) {
		return nil, ErrTokenRevoked
	}
	if _, err := s.activeUser(ctx, claims.UserID); err != nil {
		return nil, err
	}
	return claims.AuthContext(), nil
}

// Logout revokes the current access token and, when given, the refresh
// token until they expire.
func (s *AuthService) Logout(ctx context.Context, ac *model.AuthContext, refreshToken string) error {
	if err := s.cache.RevokeToken(ctx, ac.TokenID, ac.ExpiresAt); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	if refreshToken != "" {
		claims, err := s.tokens.Parse(refreshToken, model.TokenTypeRefresh)
		switch {
		case err != nil:
			s.logger.Debug("logout_refresh_ignored", "user_id", ac.UserID, "error", err)
		case claims.UserID != ac.UserID:
			s.logger.Warn("logout_refresh_foreign", "user_id", ac.UserID)
		default:
			if err := s.cache.RevokeToken(ctx, claims.ID, claims.ExpiresAtTime()); err != nil {
				return fmt.Errorf("revoke refresh token: %w", err)
			}
		}
	}
	s.logger.Info("user_logged_out", "user_id", ac.UserID)
	return nil
}

// Profile returns the user's account.
func (s *AuthService) Profile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// UpdateProfile changes mutable profile fields.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, email *string) (*model.User, error) {
	if email != nil {
		normalized := normalizeEmail(*email)
		if err := ValidateEmail(normalized); err != nil {
			return nil, err
		}
		if err := s.repo.UpdateUserEmail(ctx, userID, normalized); err != nil {
			switch {
			case errors.Is(err, repository.ErrEmailExists):
				return nil, ErrEmailTaken
			case errors.Is(err, repository.ErrUserNotFound):
				return nil, ErrUserNotFound
			}
			return nil, err
		}
	}
	return s.Profile(ctx, userID)
}

// ChangePassword replaces the password after checking the current one.
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.Profile(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := auth.VerifyPassword(current, user.PasswordHash)
	if err != nil || !ok {
		return ErrWrongPassword
	}
	if current == next {
		return ErrSamePassword
	}
	if _, err := ValidatePassword(next); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return &ValidationError{Fields: map[string]string{"new_password": ve.Fields["password"]}}
		}
		return err
	}

	hash, err := auth.HashPassword(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.repo.UpdateUserPassword(ctx, userID, hash); err != nil {
		return err
	}
	s.logger.Info("password_changed", "user_id", userID)
	return nil
}

// Deactivate disables the account and revokes the calling token.
func (s *AuthService) Deactivate(ctx context.Context, ac *model.AuthContext, password string) error {
	user, err := s.Profile(ctx, ac.UserID)
	if err != nil {
		return err
	}
	ok, err := auth.VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return ErrWrongPassword
	}
	if err := s.repo.SetUserActive(ctx, user.ID, false); err != nil {
		return err
	}
	if err := s.cache.DeleteUser(ctx, user.ID); err != nil {
		s.logger.Warn("cache_user_delete_failed", "user_id", user.ID, "error", err)
	}
	if err := s.cache.RevokeToken(ctx, ac.TokenID, ac.ExpiresAt); err != nil {
		s.logger.Warn("revoke_token_failed", "user_id", user.ID, "error", err)
	}
	s.logger.Info("user_deactivated", "user_id", user.ID)
	return nil
}

// Availability answers check-username / check-email.
type Availability struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// CheckUsername reports whether a username can be registered.
func (s *AuthService) CheckUsername(ctx context.Context, username string) (*Availability, error) {
	username = strings.TrimSpace(username)
	if err := ValidateUsername(username); err != nil {
		return &Availability{Reason: reasonOf(err)}, nil
	}
	exists, err := s.repo.UsernameExists(ctx, username)
	if err != nil {
		return nil, err
	}
	if exists {
		return &Availability{Reason: ErrUsernameTaken.Error()}, nil
	}
	return &Availability{Available: true}, nil
}

// CheckEmail reports whether an email can be registered.
func (s *AuthService) CheckEmail(ctx context.Context, email string) (*Availability, error) {
	email = normalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return &Availability{Reason: reasonOf(err)}, nil
	}
	exists, err := s.repo.EmailExists(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return &Availability{Reason: ErrEmailTaken.Error()}, nil
	}
	return &Availability{Available: true}, nil
}

// activeUser consults the user cache before the database.
func (s *AuthService) activeUser(ctx context.Context, userID string) (*model.CachedUser, error) {
	cached, err := s.cache.GetUser(ctx, userID)
	if err == nil {
		if !cached.IsActive {
			return nil, ErrAccountDisabled
		}
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("user_cache_read_failed", "user_id", userID, "error", err)
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, auth.ErrInvalidToken
		}
		return nil, err
	}
	if err := s.cache.SetUser(ctx, user); err != nil {
		s.logger.Warn("cache_user_failed", "user_id", userID, "error", err)
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}
	return user.ToCached(), nil
}

// isRevoked fails open when Redis is unavailable.
func (s *AuthService) isRevoked(ctx context.Context, tokenID string) bool {
	revoked, err := s.cache.IsTokenRevoked(ctx, tokenID)
	if err != nil {
		s.logger.Warn("revocation_check_failed", "error", err)
		return false
	}
	return revoked
}

func reasonOf(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		for field, msg := range ve.Fields {
			return field + " " + msg
		}
	}
	return err.Error()
}

// upgradeHash re-hashes a verified password stored with outdated cost
// settings. Failure only costs another attempt at the next login.
func (s *AuthService) upgradeHash(ctx context.Context, user *model.User, password string) {
	if !auth.NeedsRehash(user.PasswordHash) {
		return
	}
	hash, err := auth.HashPassword(password)
	if err == nil {
		err = s.repo.UpdateUserPassword(ctx, user.ID, hash)
	}
	if err != nil {
		s.logger.Warn("password_rehash_failed", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = hash
	s.logger.Info("password_rehashed", "user_id", user.ID)
}
