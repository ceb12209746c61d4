package tenant

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	environ := []string{
		"REVOLUT_HYPERVISUAL_CLIENT_ID=hv-client",
		"REVOLUT_HYPERVISUAL_PRIVATE_KEY_PATH=/keys/hv.pem",
		"REVOLUT_HYPERVISUAL_WEBHOOK_SECRET=hv-secret",
		"REVOLUT_ENKI_REALTY_CLIENT_ID=enki-client",
		"REVOLUT_CLIENT_ID=ignored-global",
		"REVOLUT_EMPTY_CLIENT_ID=",
		"REVOLUT_SYNC_INTERVAL=5",
		"PATH=/usr/bin",
	}

	creds := FromEnv("REVOLUT_", environ)
	require.Len(t, creds, 2)

	assert.Equal(t, Credential{TenantID: "enki_realty", ClientID: "enki-client"}, creds[0])
	assert.Equal(t, Credential{
		TenantID:       "hypervisual",
		ClientID:       "hv-client",
		PrivateKeyPath: "/keys/hv.pem",
		WebhookSecret:  "hv-secret",
	}, creds[1])
}

func TestFromEnvIgnoresGlobalClientID(t *testing.T) {
	environ := []string{
		"REVOLUT_CLIENT_ID=global-client",
		"REVOLUT__CLIENT_ID=empty-name",
		"REVOLUT_ACME_CLIENT_ID=acme-client",
	}

	creds := FromEnv("REVOLUT_", environ)
	require.Len(t, creds, 1)
	assert.Equal(t, "acme", creds[0].TenantID)
	assert.Equal(t, "acme-client", creds[0].ClientID)
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	content := `
tenants:
  - id: Lexia
    client_id: lexia-client
    private_key_path: /keys/lexia.pem
    webhook_secret: lexia-secret
  - id: dynamics
    client_id: dyn-client
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	creds, err := FromFile(path)
	require.NoError(t, err)
	require.Len(t, creds, 2)
	assert.Equal(t, "lexia", creds[0].TenantID)
	assert.Equal(t, "/keys/lexia.pem", creds[0].PrivateKeyPath)
	assert.Equal(t, "dynamics", creds[1].TenantID)
	assert.Empty(t, creds[1].WebhookSecret)
}

func TestFromFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing id", "tenants:\n  - client_id: x\n"},
		{"missing client id", "tenants:\n  - id: acme\n"},
		{"malformed yaml", "tenants: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tenants.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))
			_, err := FromFile(path)
			assert.Error(t, err)
		})
	}

	_, err := FromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMerge_EnvOverridesFile(t *testing.T) {
	file := []Credential{
		{TenantID: "acme", ClientID: "file-client", PrivateKeyPath: "/file.pem", WebhookSecret: "file-secret"},
		{TenantID: "globex", ClientID: "globex-client"},
	}
	env := []Credential{
		{TenantID: "acme", ClientID: "env-client", WebhookSecret: "env-secret"},
		{TenantID: "initech", ClientID: "initech-client"},
	}

	merged := NewRegistry(Merge(file, env))

	acme, ok := merged.Get("ACME")
	require.True(t, ok)
	assert.Equal(t, "env-client", acme.ClientID)
	assert.Equal(t, "/file.pem", acme.PrivateKeyPath)
	assert.Equal(t, "env-secret", acme.WebhookSecret)

	assert.Equal(t, []string{"acme", "globex", "initech"}, merged.IDs())
	assert.Equal(t, 3, merged.Len())
}

func TestRegistry_UnknownTenant(t *testing.T) {
	r := NewRegistry([]Credential{{TenantID: "acme", ClientID: "c"}})
	_, ok := r.Get("globex")
	assert.False(t, ok)
}
