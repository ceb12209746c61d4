// Package tenant holds the registry of companies the integration layer acts
// for. Each tenant has its own provider client id, signing key and webhook
// secret; the registry is built once at startup and never mutated.
package tenant

import (
	"sort"
	"strings"
)

// Credential is the static configuration of one tenant.
type Credential struct {
	TenantID       string `yaml:"id"`
	ClientID       string `yaml:"client_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
	WebhookSecret  string `yaml:"webhook_secret"`
}

// Registry is a read-only set of tenant credentials keyed by lowercase id.
type Registry struct {
	tenants map[string]Credential
	ids     []string
}

func NewRegistry(creds []Credential) *Registry {
	r := &Registry{tenants: make(map[string]Credential, len(creds))}
	for _, c := range creds {
		c.TenantID = NormalizeID(c.TenantID)
		if c.TenantID == "" {
			continue
		}
		if _, exists := r.tenants[c.TenantID]; !exists {
			r.ids = append(r.ids, c.TenantID)
		}
		r.tenants[c.TenantID] = c
	}
	sort.Strings(r.ids)
	return r
}

// Get looks up a tenant; the id is matched case-insensitively.
func (r *Registry) Get(id string) (Credential, bool) {
	c, ok := r.tenants[NormalizeID(id)]
	return c, ok
}

// IDs returns the tenant ids in sorted order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

func (r *Registry) Len() int {
	return len(r.ids)
}

func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
