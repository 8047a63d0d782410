package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound means the provider knows nothing about the ticker or expiry
var ErrNotFound = errors.New("no listed options found")

// APIError is a non-2xx answer from a provider
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: %s (status: %d, endpoint: %s)", e.Provider, e.Message, e.StatusCode, e.Endpoint)
}

// Unwrap lets a 404 match ErrNotFound
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// RateLimitError means the provider asked us to slow down
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limit exceeded, retry after %v", e.Provider, e.RetryAfter)
}

// IsRateLimited reports whether err is a too-many-requests condition,
// typed or only visible in the message text.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit")
}

// CheckStatus turns a non-200 response into a typed error. body is the
// already-read response body.
func CheckStatus(provider, endpoint string, resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{Provider: provider, RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	default:
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return &APIError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Message:    msg,
			Endpoint:   endpoint,
		}
	}
}

func retryAfter(header string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Second
}
