package tenant

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	clientIDSuffix       = "_CLIENT_ID"
	privateKeyPathSuffix = "_PRIVATE_KEY_PATH"
	webhookSecretSuffix  = "_WEBHOOK_SECRET"
)

type registryFile struct {
	Tenants []Credential `yaml:"tenants"`
}

// FromEnv scans environ (KEY=VALUE pairs) for <prefix><TENANT>_CLIENT_ID and
// collects the matching key path and webhook secret for each tenant found.
// TENANT is lowercased to form the tenant id.
func FromEnv(prefix string, environ []string) []Credential {
	values := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			values[k] = v
		}
	}

	var creds []Credential
	for key, clientID := range values {
		// <prefix>CLIENT_ID alone is a global setting, not a tenant.
		if len(key) <= len(prefix)+len(clientIDSuffix) ||
			!strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, clientIDSuffix) {
			continue
		}
		name := key[len(prefix) : len(key)-len(clientIDSuffix)]
		if name == "" || strings.TrimSpace(clientID) == "" {
			continue
		}
		base := prefix + name
		creds = append(creds, Credential{
			TenantID:       NormalizeID(name),
			ClientID:       strings.TrimSpace(clientID),
			PrivateKeyPath: values[base+privateKeyPathSuffix],
			WebhookSecret:  values[base+webhookSecretSuffix],
		})
	}

	sort.Slice(creds, func(i, j int) bool { return creds[i].TenantID < creds[j].TenantID })
	return creds
}

// FromFile reads a YAML registry of the form
//
//	tenants:
//	  - id: acme
//	    client_id: ...
//	    private_key_path: ...
//	    webhook_secret: ...
func FromFile(path string) ([]Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenants file: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tenants file: %w", err)
	}

	for i, c := range file.Tenants {
		if NormalizeID(c.TenantID) == "" {
			return nil, fmt.Errorf("tenants file entry %d has no id", i)
		}
		if strings.TrimSpace(c.ClientID) == "" {
			return nil, fmt.Errorf("tenant %s in tenants file has no client_id", c.TenantID)
		}
		file.Tenants[i].TenantID = NormalizeID(c.TenantID)
	}
	return file.Tenants, nil
}

// Merge overlays env-sourced credentials on file-sourced ones. Non-empty env
// fields win; tenants present in only one source are kept as they are.
func Merge(file, env []Credential) []Credential {
	byID := make(map[string]Credential, len(file)+len(env))
	var order []string
	for _, c := range file {
		if _, ok := byID[c.TenantID]; !ok {
			order = append(order, c.TenantID)
		}
		byID[c.TenantID] = c
	}
	for _, c := range env {
		base, ok := byID[c.TenantID]
		if !ok {
			order = append(order, c.TenantID)
			byID[c.TenantID] = c
			continue
		}
		if c.ClientID != "" {
			base.ClientID = c.ClientID
		}
		if c.PrivateKeyPath != "" {
			base.PrivateKeyPath = c.PrivateKeyPath
		}
		if c.WebhookSecret != "" {
			base.WebhookSecret = c.WebhookSecret
		}
		byID[c.TenantID] = base
	}

	out := make([]Credential, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}
