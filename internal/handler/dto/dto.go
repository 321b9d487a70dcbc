// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"time"

	"github.com/devinsight/devinsight/internal/model"
)

// Response is the envelope of every API response.
type Response struct {
	Success   bool              `json:"success"`
	Code      int               `json:"code"`
	Message   string            `json:"message"`
	Data      any               `json:"data"`
	Timestamp string            `json:"timestamp"`
	ErrorCode string            `json:"error_code,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// Pagination describes a page of a numbered listing.
type Pagination struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
	HasPrev    bool  `json:"has_prev"`
	NextPage   *int  `json:"next_page"`
	PrevPage   *int  `json:"prev_page"`
}

// NewPagination computes page links. total_pages is 0 for an empty listing.
func NewPagination(page, perPage int, total int64) Pagination {
	p := Pagination{Page: page, PerPage: perPage, Total: total}
	if perPage > 0 {
		p.TotalPages = int((total + int64(perPage) - 1) / int64(perPage))
	}
	p.HasNext = page < p.TotalPages
	p.HasPrev = page > 1
	if p.HasNext {
		next := page + 1
		p.NextPage = &next
	}
	if p.HasPrev {
		prev := page - 1
		p.PrevPage = &prev
	}
	return p
}

// Page is a paginated list.
type Page[T any] struct {
	Items      []T        `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// ============================================================================
// Auth
// ============================================================================

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the body of POST /auth/login. Username may hold an email.
type LoginRequest struct {
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Scopes   []string `json:"scopes,omitempty"`
}

// Login returns the identifier to look the user up by.
func (r LoginRequest) Login() string {
	if r.Username != "" {
		return r.Username
	}
	return r.Email
}

// LogoutRequest is the optional body of POST /auth/logout.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// UpdateProfileRequest is the body of PUT /auth/profile.
type UpdateProfileRequest struct {
	Email *string `json:"email"`
}

// ChangePasswordRequest is the body of POST /auth/change-password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// DeactivateRequest is the body of POST /auth/deactivate.
type DeactivateRequest struct {
	Password string `json:"password"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	User         *model.User `json:"user"`
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int64       `json:"expires_in"`
}

// ToAuthResponse flattens a user and token pair.
func ToAuthResponse(user *model.User, tokens *model.TokenPair) AuthResponse {
	return AuthResponse{
		User:         user,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    tokens.TokenType,
		ExpiresIn:    tokens.ExpiresIn,
	}
}

// ============================================================================
// Repositories
// ============================================================================

// CreateRepositoryRequest is the body of POST /repositories.
type CreateRepositoryRequest struct {
	Name           string `json:"name"`
	URL            string `json:"url"`
	APIKey         string `json:"api_key"`
	Platform       string `json:"platform"`
	ProjectID      string `json:"project_id"`
	OrganizationID string `json:"organization_id"`
	APIBaseURL     string `json:"api_base_url"`
	IsTracked      *bool  `json:"is_tracked"`
}

// UpdateRepositoryRequest is the body of PUT /repositories/{id}.
type UpdateRepositoryRequest struct {
	Name      *string `json:"name"`
	APIKey    *string `json:"api_key"`
	IsActive  *bool   `json:"is_active"`
	IsTracked *bool   `json:"is_tracked"`
}

// SyncRequest is the body of POST /repositories/{id}/sync. Absent flags
// default to syncing both commits and merge requests.
type SyncRequest struct {
	Force             bool  `json:"force"`
	SyncCommits       *bool `json:"sync_commits"`
	SyncMergeRequests *bool `json:"sync_merge_requests"`
	Async             bool  `json:"async"`
}

// Options resolves the request into sync options.
func (r SyncRequest) Options() model.SyncOptions {
	opts := model.DefaultSyncOptions()
	opts.Force = r.Force
	if r.SyncCommits != nil {
		opts.SyncCommits = *r.SyncCommits
	}
	if r.SyncMergeRequests != nil {
		opts.SyncMergeRequests = *r.SyncMergeRequests
	}
	return opts
}

// SyncJobResponse acknowledges an asynchronous sync.
type SyncJobResponse struct {
	JobID        string    `json:"job_id"`
	RepositoryID string    `json:"repository_id"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// ValidateRequest is the body of POST /repositories/validate.
type ValidateRequest struct {
	URL            string `json:"url"`
	APIKey         string `json:"api_key"`
	Platform       string `json:"platform"`
	OrganizationID string `json:"organization_id"`
	APIBaseURL     string `json:"api_base_url"`
}

// AddYunxiaoRequest is the body of POST /repositories/yunxiao/add.
type AddYunxiaoRequest struct {
	RepositoryID   string `json:"repository_id"`
	Name           string `json:"name"`
	CloneURL       string `json:"clone_url"`
	WebURL         string `json:"web_url"`
	APIKey         string `json:"api_key"`
	OrganizationID string `json:"organization_id"`
	IsTracked      bool   `json:"is_tracked"`
}

// RemoteSearchResponse is a page of remote repositories.
type RemoteSearchResponse struct {
	Items          any        `json:"items"`
	Pagination     Pagination `json:"pagination"`
	TotalEstimated bool       `json:"total_estimated"`
}
