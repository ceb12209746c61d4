package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bankbridge/internal/domain/store"
)

// tokenExternalID gives every tenant's token document the same natural key,
// so the store's (tenant_id, external_id) constraint keeps one per tenant.
const tokenExternalID = "oauth_token"

// Sealer encrypts token payloads with a tenant-scoped key.
type Sealer interface {
	Seal(tenantID, plaintext string) (string, error)
	Open(tenantID, ciphertext string) (string, error)
}

type storedToken struct {
	TenantID   string    `json:"tenant_id"`
	ExternalID string    `json:"external_id"`
	Sealed     string    `json:"sealed"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PersistentTokenStore caches tokens in memory and writes them through to
// the document store encrypted, so a restart does not force every tenant to
// re-authenticate.
type PersistentTokenStore struct {
	cache  *MemoryTokenStore
	docs   store.Store
	sealer Sealer
	now    func() time.Time
}

func NewPersistentTokenStore(docs store.Store, sealer Sealer) *PersistentTokenStore {
	return &PersistentTokenStore{
		cache:  NewMemoryTokenStore(),
		docs:   docs,
		sealer: sealer,
		now:    time.Now,
	}
}

func (s *PersistentTokenStore) Get(ctx context.Context, tenantID string) (*TokenRecord, error) {
	if rec, _ := s.cache.Get(ctx, tenantID); rec != nil {
		return rec, nil
	}

	doc, err := s.find(ctx, tenantID)
	if err != nil || doc == nil {
		return nil, err
	}

	var stored storedToken
	if err := store.Decode(doc, &stored); err != nil {
		return nil, err
	}
	if stored.Sealed == "" {
		return nil, nil
	}

	plain, err := s.sealer.Open(tenantID, stored.Sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to open stored token for tenant %s: %w", tenantID, err)
	}

	var rec TokenRecord
	if err := json.Unmarshal([]byte(plain), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode stored token for tenant %s: %w", tenantID, err)
	}
	_ = s.cache.Put(ctx, &rec)
	return &rec, nil
}

func (s *PersistentTokenStore) Put(ctx context.Context, rec *TokenRecord) error {
	_ = s.cache.Put(ctx, rec)

	plain, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode token for tenant %s: %w", rec.TenantID, err)
	}
	sealed, err := s.sealer.Seal(rec.TenantID, string(plain))
	if err != nil {
		return fmt.Errorf("failed to seal token for tenant %s: %w", rec.TenantID, err)
	}
	return s.write(ctx, rec.TenantID, sealed)
}

func (s *PersistentTokenStore) Delete(ctx context.Context, tenantID string) error {
	_ = s.cache.Delete(ctx, tenantID)

	doc, err := s.find(ctx, tenantID)
	if err != nil || doc == nil {
		return err
	}
	if _, err := s.docs.UpdateOne(ctx, store.CollectionTokens, doc.ID(), store.Document{
		"sealed":     "",
		"updated_at": s.now().UTC(),
	}); err != nil {
		return fmt.Errorf("failed to clear stored token for tenant %s: %w", tenantID, err)
	}
	return nil
}

func (s *PersistentTokenStore) Tenants() []string {
	return s.cache.Tenants()
}

func (s *PersistentTokenStore) write(ctx context.Context, tenantID, sealed string) error {
	doc, err := s.find(ctx, tenantID)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	if doc == nil {
		newDoc, err := store.Encode(storedToken{
			TenantID:   tenantID,
			ExternalID: tokenExternalID,
			Sealed:     sealed,
			UpdatedAt:  now,
		})
		if err != nil {
			return err
		}
		_, err = s.docs.CreateOne(ctx, store.CollectionTokens, newDoc)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("failed to persist token for tenant %s: %w", tenantID, err)
		}
		if doc, err = s.find(ctx, tenantID); err != nil || doc == nil {
			return fmt.Errorf("failed to persist token for tenant %s: concurrent write lost", tenantID)
		}
	}

	if _, err := s.docs.UpdateOne(ctx, store.CollectionTokens, doc.ID(), store.Document{
		"sealed":     sealed,
		"updated_at": now,
	}); err != nil {
		return fmt.Errorf("failed to persist token for tenant %s: %w", tenantID, err)
	}
	return nil
}

func (s *PersistentTokenStore) find(ctx context.Context, tenantID string) (store.Document, error) {
	docs, err := s.docs.ReadByFilter(ctx, store.CollectionTokens, store.Where(
		store.Eq("tenant_id", tenantID),
		store.Eq("external_id", tokenExternalID),
	).WithLimit(1))
	if err != nil {
		return nil, fmt.Errorf("failed to read stored token for tenant %s: %w", tenantID, err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}
