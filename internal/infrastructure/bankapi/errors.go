package bankapi

import (
	"fmt"
	"time"
)

// NetworkError is a transport failure or a non-2xx response other than 401
// and 429. StatusCode is 0 for transport failures.
type NetworkError struct {
	TenantID   string
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s for tenant %s failed with status %d: %s", e.Op, e.TenantID, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s for tenant %s failed: %v", e.Op, e.TenantID, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RateLimitError is a 429 from the provider, or a local limiter wait that
// could not complete before the context ended.
type RateLimitError struct {
	TenantID   string
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s for tenant %s rate limited: %v", e.Op, e.TenantID, e.Err)
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s for tenant %s rate limited, retry after %s", e.Op, e.TenantID, e.RetryAfter)
	}
	return fmt.Sprintf("%s for tenant %s rate limited", e.Op, e.TenantID)
}

func (e *RateLimitError) Unwrap() error { return e.Err }
