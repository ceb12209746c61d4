package credential

import "time"

// State is the lifecycle position of a tenant's token.
type State string

const (
	StateAbsent     State = "absent"
	StateValid      State = "valid"
	StateRefreshing State = "refreshing"
	StateInvalid    State = "invalid"
)

const (
	// ValiditySkew is subtracted from expires_in when deciding whether a
	// cached token may still be handed out.
	ValiditySkew = 60 * time.Second
	// RefreshLead is how long before expiry the refresh timer fires.
	RefreshLead = 300 * time.Second
)

// TokenRecord is one access token as issued by the provider.
type TokenRecord struct {
	TenantID     string    `json:"tenant_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresIn    int64     `json:"expires_in"`
	ObtainedAt   time.Time `json:"obtained_at"`
}

func (t *TokenRecord) ExpiresAt() time.Time {
	return t.ObtainedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// ValidAt reports whether the token may be used at now.
func (t *TokenRecord) ValidAt(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return now.Before(t.ExpiresAt().Add(-ValiditySkew))
}

// TokenStatus is the diagnostic view of one tenant's token. It never
// contains token material.
type TokenStatus struct {
	TenantID         string     `json:"tenant"`
	State            State      `json:"state"`
	HasToken         bool       `json:"has_token"`
	HasRefreshToken  bool       `json:"has_refresh_token"`
	ObtainedAt       *time.Time `json:"obtained_at,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	ExpiresInSeconds int64      `json:"expires_in_seconds"`
	RefreshScheduled bool       `json:"refresh_scheduled"`
	LastError        string     `json:"last_error,omitempty"`
}
