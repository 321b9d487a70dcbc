package model

import (
	"slices"
	"time"
)

// Scope constants for token authorization.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
)

// ValidScopes contains all valid scope values.
var ValidScopes = []string{ScopeRead, ScopeWrite}

// DefaultScopes are granted when a login does not ask for fewer.
var DefaultScopes = []string{ScopeRead, ScopeWrite}

// TokenType distinguishes access tokens from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// TokenPair is returned by register and login.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	AccessExpiresAt  time.Time `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
}

// AuthContext holds authenticated request context.
// This is injected into the request context by auth middleware.
type AuthContext struct {
	UserID    string
	Username  string
	TokenID   string
	Scopes    []string
	ExpiresAt time.Time
}

// HasScope checks if the auth context has a specific scope.
// Write implies read.
func (a *AuthContext) HasScope(scope string) bool {
	if scope == ScopeRead && slices.Contains(a.Scopes, ScopeWrite) {
		return true
	}
	return slices.Contains(a.Scopes, scope)
}

// NormalizeScopes filters unknown scopes and removes duplicates.
// An empty request yields DefaultScopes.
func NormalizeScopes(requested []string) []string {
	if len(requested) == 0 {
		return slices.Clone(DefaultScopes)
	}
	out := make([]string, 0, len(requested))
	for _, s := range ValidScopes {
		if slices.Contains(requested, s) {
			out = append(out, s)
		}
	}
	return out
}
