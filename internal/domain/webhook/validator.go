// Package webhook authenticates inbound provider events and applies them to
// the store.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"bankbridge/internal/domain/tenant"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Revolut-Signature"

var (
	ErrUnknownTenant       = errors.New("unknown tenant")
	ErrSecretNotConfigured = errors.New("webhook secret not configured")
)

// SignatureError is returned when the signature is missing or does not
// match the body.
type SignatureError struct {
	TenantID string
	Reason   string
}

func (e *SignatureError) Error() string {
	return "invalid webhook signature for tenant " + e.TenantID + ": " + e.Reason
}

// StatusCode maps a validation error to the HTTP status the caller gets.
func StatusCode(err error) int {
	var sigErr *SignatureError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnknownTenant):
		return http.StatusNotFound
	case errors.Is(err, ErrSecretNotConfigured):
		return http.StatusInternalServerError
	case errors.As(err, &sigErr):
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}

// Validator checks inbound webhooks against the tenant registry. It has no
// side effects.
type Validator struct {
	tenants *tenant.Registry
}

func NewValidator(tenants *tenant.Registry) *Validator {
	return &Validator{tenants: tenants}
}

// Validate returns the canonical tenant id when the body is signed with the
// tenant's secret. Checks run in order: tenant, secret, signature.
func (v *Validator) Validate(tenantID string, body []byte, signature string) (string, error) {
	cred, ok := v.tenants.Get(tenantID)
	if !ok {
		return "", ErrUnknownTenant
	}
	if cred.WebhookSecret == "" {
		return cred.TenantID, ErrSecretNotConfigured
	}
	if signature == "" {
		return cred.TenantID, &SignatureError{TenantID: cred.TenantID, Reason: "missing " + SignatureHeader + " header"}
	}
	if !VerifySignature(cred.WebhookSecret, body, signature) {
		return cred.TenantID, &SignatureError{TenantID: cred.TenantID, Reason: "signature mismatch"}
	}
	return cred.TenantID, nil
}

// Sign returns the lowercase hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares in constant time. Hex case is ignored; anything
// that does not decode as hex fails.
func VerifySignature(secret string, body []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
