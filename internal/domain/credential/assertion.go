package credential

import (
	"errors"
	"fmt"
	"os"

	"bankbridge/internal/domain/tenant"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// GenerateAssertion builds the RS256 client assertion for a tenant:
// iss = sub = client id, aud = provider audience, five minute lifetime and
// a unique jti.
func (m *Manager) GenerateAssertion(tenantID string) (string, error) {
	tenantID = tenant.NormalizeID(tenantID)
	cred, ok := m.registry.Get(tenantID)
	if !ok {
		return "", &CredentialError{TenantID: tenantID, Err: ErrUnknownTenant}
	}
	if cred.ClientID == "" {
		return "", &CredentialError{TenantID: tenantID, Err: errors.New("client id not configured")}
	}
	if cred.PrivateKeyPath == "" {
		return "", &CredentialError{TenantID: tenantID, Err: errors.New("private key path not configured")}
	}

	pemBytes, err := os.ReadFile(cred.PrivateKeyPath)
	if err != nil {
		return "", &CredentialError{TenantID: tenantID, Err: fmt.Errorf("failed to read private key: %w", err)}
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return "", &CredentialError{TenantID: tenantID, Err: fmt.Errorf("failed to parse private key: %w", err)}
	}

	now := m.now()
	claims := jwt.MapClaims{
		"iss": cred.ClientID,
		"sub": cred.ClientID,
		"aud": m.audience,
		"iat": now.Unix(),
		"exp": now.Add(AssertionTTL).Unix(),
		"jti": uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", &CredentialError{TenantID: tenantID, Err: fmt.Errorf("failed to sign assertion: %w", err)}
	}
	return signed, nil
}
