package banking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bankbridge/internal/domain/store"

	"github.com/shopspring/decimal"
)

type AccountRepository struct {
	docs store.Store
}

func NewAccountRepository(docs store.Store) *AccountRepository {
	return &AccountRepository{docs: docs}
}

// GetByExternalID returns nil, nil when the account is not stored.
func (r *AccountRepository) GetByExternalID(ctx context.Context, tenantID, externalID string) (*BankAccount, error) {
	docs, err := r.docs.ReadByFilter(ctx, store.CollectionAccounts, store.Where(
		store.Eq("tenant_id", tenantID),
		store.Eq("external_id", externalID),
	).WithLimit(1))
	if err != nil {
		return nil, fmt.Errorf("failed to read account %s: %w", externalID, err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return decodeAccount(docs[0])
}

func (r *AccountRepository) ListByTenant(ctx context.Context, tenantID string) ([]*BankAccount, error) {
	docs, err := r.docs.ReadByFilter(ctx, store.CollectionAccounts, store.Where(store.Eq("tenant_id", tenantID)))
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	out := make([]*BankAccount, 0, len(docs))
	for _, doc := range docs {
		acc, err := decodeAccount(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, nil
}

// Upsert writes the account snapshot. An unchanged account only has its
// last_synced_at bumped and is reported as skipped.
func (r *AccountRepository) Upsert(ctx context.Context, acc *BankAccount, now time.Time) (UpsertOutcome, *BankAccount, error) {
	existing, err := r.GetByExternalID(ctx, acc.TenantID, acc.ExternalID)
	if err != nil {
		return "", nil, err
	}

	if existing == nil {
		rec := *acc
		rec.ID = ""
		rec.LastSyncedAt = now.UTC()
		doc, err := store.Encode(rec)
		if err != nil {
			return "", nil, err
		}
		created, err := r.docs.CreateOne(ctx, store.CollectionAccounts, doc)
		if err == nil {
			out, err := decodeAccount(created)
			return OutcomeCreated, out, err
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return "", nil, fmt.Errorf("failed to create account %s: %w", acc.ExternalID, err)
		}
		if existing, err = r.GetByExternalID(ctx, acc.TenantID, acc.ExternalID); err != nil || existing == nil {
			return "", nil, fmt.Errorf("account %s not found after duplicate create: %v", acc.ExternalID, err)
		}
	}

	outcome := OutcomeUpdated
	patch := store.Document{"last_synced_at": now.UTC()}
	if sameAccount(existing, acc) {
		outcome = OutcomeSkipped
	} else {
		patch["name"] = acc.Name
		patch["currency"] = acc.Currency
		patch["balance"] = acc.Balance
		patch["state"] = acc.State
		patch["public"] = acc.Public
	}

	updated, err := r.docs.UpdateOne(ctx, store.CollectionAccounts, existing.ID, patch)
	if err != nil {
		return "", nil, fmt.Errorf("failed to update account %s: %w", acc.ExternalID, err)
	}
	out, err := decodeAccount(updated)
	if err != nil {
		return "", nil, err
	}
	return outcome, out, nil
}

// UpdateBalance records a balance reported outside a full sync.
func (r *AccountRepository) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal, currency string, now time.Time) (*BankAccount, error) {
	patch := store.Document{
		"balance":        balance,
		"last_synced_at": now.UTC(),
	}
	if currency != "" {
		patch["currency"] = currency
	}
	updated, err := r.docs.UpdateOne(ctx, store.CollectionAccounts, id, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance of account %s: %w", id, err)
	}
	return decodeAccount(updated)
}

func sameAccount(a, b *BankAccount) bool {
	return a.Name == b.Name &&
		a.Currency == b.Currency &&
		a.Balance.Equal(b.Balance) &&
		a.State == b.State &&
		a.Public == b.Public
}

func decodeAccount(doc store.Document) (*BankAccount, error) {
	var acc BankAccount
	if err := store.Decode(doc, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}
