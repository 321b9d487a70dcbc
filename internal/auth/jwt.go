package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/oklog/ulid/v2"

	"github.com/devinsight/devinsight/internal/model"
)

// Token errors.
var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")
	ErrWrongTokenType = errors.New("wrong token type")
)

// Claims are the JWT claims of access and refresh tokens.
type Claims struct {
	UserID   string          `json:"uid"`
	Username string          `json:"username"`
	Type     model.TokenType `json:"typ"`
	Scopes   []string        `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HS256 tokens.
type TokenManager struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenManager creates a TokenManager.
func NewTokenManager(secret, issuer string, accessTTL, refreshTTL time.Duration) *TokenManager {
	return &TokenManager{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// AccessTTL returns the access token lifetime.
func (m *TokenManager) AccessTTL() time.Duration {
	return m.accessTTL
}

// IssuePair issues an access token and a refresh token carrying the same scopes.
func (m *TokenManager) IssuePair(user *model.User, scopes []string) (*model.TokenPair, error) {
	access, accessExp, err := m.issue(user.ID, user.Username, model.TokenTypeAccess, scopes, m.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := m.issue(user.ID, user.Username, model.TokenTypeRefresh, scopes, m.refreshTTL)
	if err != nil {
		return nil, err
	}

	return &model.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        int64(m.accessTTL.Seconds()),
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// IssueAccess issues a new access token from verified refresh claims.
func (m *TokenManager) IssueAccess(refresh *Claims) (string, time.Time, error) {
	return m.issue(refresh.UserID, refresh.Username, model.TokenTypeAccess, refresh.Scopes, m.accessTTL)
}

func (m *TokenManager) issue(userID, username string, typ model.TokenType, scopes []string, ttl time.Duration) (string, time.Time, error) {
	now := m.now().UTC()
	expiresAt := now.Add(ttl)

	claims := Claims{
		UserID:   userID,
		Username: username,
		Type:     typ,
		Scopes:   scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse verifies signature, issuer, expiry and token type.
func (m *TokenManager) Parse(tokenString string, want model.TokenType) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if m.issuer != "" && !claims.VerifyIssuer(m.issuer, true) {
		return nil, ErrInvalidToken
	}
	if claims.ID == "" || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	if claims.Type != want {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// ExpiresAtTime returns the expiry of the claims, or the zero time.
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// AuthContext converts verified access claims into request auth context.
func (c *Claims) AuthContext() *model.AuthContext {
	return &model.AuthContext{
		UserID:    c.UserID,
		Username:  c.Username,
		TokenID:   c.ID,
		Scopes:    c.Scopes,
		ExpiresAt: c.ExpiresAtTime(),
	}
}
