package credential

import (
	"errors"
	"fmt"
)

var ErrUnknownTenant = errors.New("unknown tenant")

// CredentialError reports a problem with a tenant's own configuration
// (missing or unreadable key). It is fatal for that tenant only.
type CredentialError struct {
	TenantID string
	Err      error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential error for tenant %s: %v", e.TenantID, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// AuthError reports a failed token request, or a 401 from the provider API.
// StatusCode is 0 when the request never got a response.
type AuthError struct {
	TenantID   string
	Grant      string
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("auth error for tenant %s (%s): status %d: %s", e.TenantID, e.Grant, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("auth error for tenant %s (%s): status %d", e.TenantID, e.Grant, e.StatusCode)
	default:
		return fmt.Sprintf("auth error for tenant %s (%s): %v", e.TenantID, e.Grant, e.Err)
	}
}

func (e *AuthError) Unwrap() error { return e.Err }
