package credential

import (
	"context"
	"strings"
	"testing"
	"time"

	"bankbridge/internal/domain/store"
	"bankbridge/internal/infrastructure/crypto"
	"bankbridge/internal/infrastructure/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMasterKey = "01234567890123456789012345678901"

func TestMemoryTokenStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTokenStore()

	rec, err := s.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, s.Put(ctx, &TokenRecord{TenantID: "acme", AccessToken: "a"}))
	require.NoError(t, s.Put(ctx, &TokenRecord{TenantID: "globex", AccessToken: "g"}))

	rec, err = s.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "a", rec.AccessToken)

	// Returned records are copies.
	rec.AccessToken = "mutated"
	again, _ := s.Get(ctx, "acme")
	assert.Equal(t, "a", again.AccessToken)

	assert.Equal(t, []string{"acme", "globex"}, s.Tenants())

	require.NoError(t, s.Delete(ctx, "acme"))
	rec, _ = s.Get(ctx, "acme")
	assert.Nil(t, rec)
}

func TestPersistentTokenStore_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	docs := memstore.New()
	sealer, err := crypto.NewTenantSealer(testMasterKey)
	require.NoError(t, err)

	obtained := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	first := NewPersistentTokenStore(docs, sealer)
	require.NoError(t, first.Put(ctx, &TokenRecord{
		TenantID:     "acme",
		AccessToken:  "secret-access",
		RefreshToken: "secret-refresh",
		ExpiresIn:    2400,
		ObtainedAt:   obtained,
	}))

	stored, err := docs.ReadByFilter(ctx, store.CollectionTokens, store.Where(store.Eq("tenant_id", "acme")))
	require.NoError(t, err)
	require.Len(t, stored, 1)
	sealed, _ := stored[0]["sealed"].(string)
	assert.NotEmpty(t, sealed)
	assert.False(t, strings.Contains(sealed, "secret-access"))

	second := NewPersistentTokenStore(docs, sealer)
	rec, err := second.Get(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "secret-access", rec.AccessToken)
	assert.Equal(t, "secret-refresh", rec.RefreshToken)
	assert.True(t, rec.ObtainedAt.Equal(obtained))
}

func TestPersistentTokenStore_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	docs := memstore.New()
	sealer, _ := crypto.NewTenantSealer(testMasterKey)
	s := NewPersistentTokenStore(docs, sealer)

	require.NoError(t, s.Put(ctx, &TokenRecord{TenantID: "acme", AccessToken: "one"}))
	require.NoError(t, s.Put(ctx, &TokenRecord{TenantID: "acme", AccessToken: "two"}))
	assert.Equal(t, 1, docs.Len(store.CollectionTokens))

	rec, err := NewPersistentTokenStore(docs, sealer).Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "two", rec.AccessToken)
}

func TestPersistentTokenStore_Delete(t *testing.T) {
	ctx := context.Background()
	docs := memstore.New()
	sealer, _ := crypto.NewTenantSealer(testMasterKey)
	s := NewPersistentTokenStore(docs, sealer)

	require.NoError(t, s.Put(ctx, &TokenRecord{TenantID: "acme", AccessToken: "one"}))
	require.NoError(t, s.Delete(ctx, "acme"))

	rec, err := NewPersistentTokenStore(docs, sealer).Get(ctx, "acme")
	require.NoError(t, err)
	assert.Nil(t, rec)

	// Deleting a tenant that never had a token is not an error.
	assert.NoError(t, s.Delete(ctx, "globex"))
}
