package hibp

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrInvalidUserAgent   = errors.New("hibp: user agent must not be empty")
	ErrBadRequest         = errors.New("hibp: bad request")
	ErrUnauthorized       = errors.New("hibp: unauthorized, missing or invalid API key")
	ErrForbidden          = errors.New("hibp: forbidden, missing or banned user agent")
	ErrNotFound           = errors.New("hibp: not found")
	ErrRateLimited        = errors.New("hibp: rate limited")
	ErrServiceUnavailable = errors.New("hibp: service unavailable")
)

// RateLimitedError is returned for a 429 response. The limiter has already
// been paused for RetryAfter when the caller sees it.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("hibp: rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

// UnexpectedStatusError carries a status the client has no mapping for.
type UnexpectedStatusError struct {
	StatusCode int
	Body       string
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("hibp: unexpected response %d %s: %s",
		e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

func statusError(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusServiceUnavailable:
		return ErrServiceUnavailable
	}
	return nil
}
