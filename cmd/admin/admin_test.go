package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bankbridge/internal/domain/tenant"
	"bankbridge/internal/domain/webhook"
)

func TestResolveTenants(t *testing.T) {
	a := &app{tenants: tenant.NewRegistry([]tenant.Credential{
		{TenantID: "acme"},
		{TenantID: "globex"},
	})}

	tests := []struct {
		name    string
		tenant  string
		all     bool
		want    []string
		wantErr bool
	}{
		{name: "all", all: true, want: []string{"acme", "globex"}},
		{name: "single normalized", tenant: "ACME", want: []string{"acme"}},
		{name: "unknown", tenant: "initech", wantErr: true},
		{name: "neither flag", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.resolveTenants(tt.tenant, tt.all)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("resolveTenants() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWebhookSignWithExplicitSecret(t *testing.T) {
	payload := []byte(`{"event":"TransactionCreated","data":{"id":"tx-1"}}`)
	path := filepath.Join(t.TempDir(), "event.json")
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		t.Fatal(err)
	}

	cmd := webhookSignCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--file", path, "--secret", "whsec"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	want := webhook.SignatureHeader + ": " + webhook.Sign("whsec", payload) + "\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestWebhookSignRequiresFile(t *testing.T) {
	cmd := webhookSignCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--secret", "whsec"})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error without --file")
	}
}

func TestSyncRejectsReconciliationType(t *testing.T) {
	cmd := syncCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"reconciliation", "--all"})

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "unknown sync type") {
		t.Fatalf("expected unknown sync type error, got %v", err)
	}
}

func TestCleanupRejectsNonPositiveAge(t *testing.T) {
	for _, age := range []string{"0s", "-24h"} {
		t.Run(age, func(t *testing.T) {
			cmd := cleanupCmd()
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs([]string{"--all", "--older-than=" + age})

			err := cmd.Execute()
			if err == nil || !strings.Contains(err.Error(), "--older-than must be positive") {
				t.Fatalf("expected older-than error, got %v", err)
			}
		})
	}
}

func TestCleanupDefaultsToNinetyDays(t *testing.T) {
	flag := cleanupCmd().Flags().Lookup("older-than")
	if flag == nil {
		t.Fatal("older-than flag not registered")
	}
	if flag.DefValue != "2160h0m0s" {
		t.Errorf("default = %s, want 2160h0m0s", flag.DefValue)
	}
}
