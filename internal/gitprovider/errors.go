package gitprovider

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors matched by *Error.
var (
	ErrUnauthorized = errors.New("invalid or expired access token")
	ErrForbidden    = errors.New("insufficient permission for this resource")
	ErrNotFound     = errors.New("repository or resource not found")
	ErrRateLimited  = errors.New("provider rate limit exceeded, retry later")
	ErrUnavailable  = errors.New("provider unavailable")
	ErrNetwork      = errors.New("provider unreachable")
)

// Error is a failed provider call.
type Error struct {
	Platform string
	Status   int
	Op       string
	Err      error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Platform, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Platform, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// statusError maps an HTTP status to a provider error, or nil for 2xx.
func statusError(platform, op string, status int) error {
	var err error
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		err = ErrUnauthorized
	case status == http.StatusForbidden:
		err = ErrForbidden
	case status == http.StatusNotFound:
		err = ErrNotFound
	case status == http.StatusTooManyRequests:
		err = ErrRateLimited
	case status >= 500:
		err = ErrUnavailable
	default:
		err = fmt.Errorf("unexpected status %d", status)
	}
	return &Error{Platform: platform, Status: status, Op: op, Err: err}
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrNetwork)
}
