// Package model defines domain entities for the application.
package model

import "time"

// User is an account that owns tracked repositories.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	IsActive     bool       `json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// CachedUser is the subset of a user kept in Redis for auth lookups.
type CachedUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsActive bool   `json:"is_active"`
}

// ToCached converts a user for the auth cache.
func (u *User) ToCached() *CachedUser {
	return &CachedUser{
		ID:       u.ID,
		Username: u.Username,
		IsActive: u.IsActive,
	}
}
