package banking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bankbridge/internal/domain/store"

	"github.com/shopspring/decimal"
)

type TransactionRepository struct {
	docs store.Store
}

func NewTransactionRepository(docs store.Store) *TransactionRepository {
	return &TransactionRepository{docs: docs}
}

// providerFields is the subset of a transaction the provider owns. Local
// fields (reconciled, invoice_id) are never part of an upsert patch.
type providerFields struct {
	AccountExternalID string           `json:"account_external_id,omitempty"`
	Type              string           `json:"type,omitempty"`
	State             TransactionState `json:"state"`
	Amount            decimal.Decimal  `json:"amount"`
	Fee               decimal.Decimal  `json:"fee"`
	Currency          string           `json:"currency,omitempty"`
	Reference         string           `json:"reference,omitempty"`
	Counterparty      string           `json:"counterparty,omitempty"`
	CreatedAt         *time.Time       `json:"created_at,omitempty"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
	StateHistory      []StateChange    `json:"state_history"`
	Partial           bool             `json:"partial"`
	Source            string           `json:"source,omitempty"`
	SyncedAt          time.Time        `json:"synced_at"`
}

// GetByExternalID returns nil, nil when the transaction is not stored.
func (r *TransactionRepository) GetByExternalID(ctx context.Context, tenantID, externalID string) (*BankTransaction, error) {
	docs, err := r.docs.ReadByFilter(ctx, store.CollectionTransactions, store.Where(
		store.Eq("tenant_id", tenantID),
		store.Eq("external_id", externalID),
	).WithLimit(1))
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction %s: %w", externalID, err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return decodeTransaction(docs[0])
}

func (r *TransactionRepository) GetByID(ctx context.Context, tenantID, id string) (*BankTransaction, error) {
	docs, err := r.docs.ReadByFilter(ctx, store.CollectionTransactions, store.Where(
		store.Eq("tenant_id", tenantID),
		store.Eq("id", id),
	).WithLimit(1))
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction %s: %w", id, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("transaction %s: %w", id, store.ErrNotFound)
	}
	return decodeTransaction(docs[0])
}

// ListUnreconciled returns completed transactions not yet matched to an
// invoice, oldest first. Partial placeholders are left out until a sync
// fills in their amount and reference.
func (r *TransactionRepository) ListUnreconciled(ctx context.Context, tenantID string) ([]*BankTransaction, error) {
	docs, err := r.docs.ReadByFilter(ctx, store.CollectionTransactions, store.Where(
		store.Eq("tenant_id", tenantID),
		store.Eq("state", string(StateCompleted)),
		store.Eq("reconciled", false),
		store.Neq("partial", true),
	).SortBy("created_at"))
	if err != nil {
		return nil, fmt.Errorf("failed to list unreconciled transactions: %w", err)
	}
	return decodeTransactions(docs)
}

func (r *TransactionRepository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*BankTransaction, error) {
	docs, err := r.docs.ReadByFilter(ctx, store.CollectionTransactions, store.Where(
		store.Eq("tenant_id", tenantID),
	).SortBy("-created_at").WithLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return decodeTransactions(docs)
}

// ListCreatedSince returns the tenant's transactions created at or after
// since, oldest first.
func (r *TransactionRepository) ListCreatedSince(ctx context.Context, tenantID string, since time.Time) ([]*BankTransaction, error) {
	docs, err := r.docs.ReadByFilter(ctx, store.CollectionTransactions, store.Where(
		store.Eq("tenant_id", tenantID),
		store.Gte("created_at", since),
	).SortBy("created_at"))
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions since %s: %w", since.Format(time.RFC3339), err)
	}
	return decodeTransactions(docs)
}

// DeleteCreatedBefore purges the tenant's transactions created at or before
// cutoff. Records without a creation time are kept.
func (r *TransactionRepository) DeleteCreatedBefore(ctx context.Context, tenantID string, cutoff time.Time) (int, error) {
	n, err := r.docs.DeleteMany(ctx, store.CollectionTransactions, store.Where(
		store.Eq("tenant_id", tenantID),
		store.Lte("created_at", cutoff),
	))
	if err != nil {
		return 0, fmt.Errorf("failed to purge transactions before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return n, nil
}

// Upsert writes tx keyed by (tenant, external id). An existing record in the
// same state is left untouched and reported as skipped; a state change is
// applied with a history entry. A create that loses a race to a concurrent
// writer falls back to the update path.
func (r *TransactionRepository) Upsert(ctx context.Context, tx *BankTransaction, now time.Time) (UpsertOutcome, *BankTransaction, error) {
	existing, err := r.GetByExternalID(ctx, tx.TenantID, tx.ExternalID)
	if err != nil {
		return "", nil, err
	}

	if existing == nil {
		created, err := r.create(ctx, tx, now)
		if err == nil {
			return OutcomeCreated, created, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return "", nil, err
		}
		existing, err = r.GetByExternalID(ctx, tx.TenantID, tx.ExternalID)
		if err != nil {
			return "", nil, err
		}
		if existing == nil {
			return "", nil, fmt.Errorf("transaction %s not found after duplicate create", tx.ExternalID)
		}
	}

	if existing.State == tx.State && !existing.Partial {
		return OutcomeSkipped, existing, nil
	}

	fields := providerFields{
		AccountExternalID: tx.AccountExternalID,
		Type:              tx.Type,
		State:             tx.State,
		Amount:            tx.Amount,
		Fee:               tx.Fee,
		Currency:          tx.Currency,
		Reference:         tx.Reference,
		Counterparty:      tx.Counterparty,
		CreatedAt:         utcPtr(tx.CreatedAt),
		CompletedAt:       utcPtr(tx.CompletedAt),
		StateHistory:      appendHistory(existing, tx.State, now),
		Partial:           tx.Partial,
		Source:            tx.Source,
		SyncedAt:          now.UTC(),
	}
	patch, err := store.Encode(fields)
	if err != nil {
		return "", nil, err
	}

	updated, err := r.docs.UpdateOne(ctx, store.CollectionTransactions, existing.ID, patch)
	if err != nil {
		return "", nil, fmt.Errorf("failed to update transaction %s: %w", tx.ExternalID, err)
	}
	out, err := decodeTransaction(updated)
	if err != nil {
		return "", nil, err
	}
	return OutcomeUpdated, out, nil
}

// UpdateState moves a stored transaction to state, recording the change.
func (r *TransactionRepository) UpdateState(ctx context.Context, existing *BankTransaction, state TransactionState, source string, now time.Time) (*BankTransaction, error) {
	patch := store.Document{
		"state":         string(state),
		"state_history": appendHistory(existing, state, now),
		"synced_at":     now.UTC(),
		"source":        source,
	}
	updated, err := r.docs.UpdateOne(ctx, store.CollectionTransactions, existing.ID, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update state of transaction %s: %w", existing.ExternalID, err)
	}
	return decodeTransaction(updated)
}

// MarkReconciled flags the transaction as settled against invoiceID.
func (r *TransactionRepository) MarkReconciled(ctx context.Context, id, invoiceID string) error {
	if _, err := r.docs.UpdateOne(ctx, store.CollectionTransactions, id, store.Document{
		"reconciled": true,
		"invoice_id": invoiceID,
	}); err != nil {
		return fmt.Errorf("failed to mark transaction %s reconciled: %w", id, err)
	}
	return nil
}

func (r *TransactionRepository) create(ctx context.Context, tx *BankTransaction, now time.Time) (*BankTransaction, error) {
	rec := *tx
	rec.ID = ""
	rec.SyncedAt = now.UTC()
	rec.CreatedAt = utcPtr(tx.CreatedAt)
	rec.CompletedAt = utcPtr(tx.CompletedAt)

	doc, err := store.Encode(rec)
	if err != nil {
		return nil, err
	}
	created, err := r.docs.CreateOne(ctx, store.CollectionTransactions, doc)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create transaction %s: %w", tx.ExternalID, err)
	}
	return decodeTransaction(created)
}

func appendHistory(existing *BankTransaction, to TransactionState, now time.Time) []StateChange {
	history := append([]StateChange{}, existing.StateHistory...)
	if existing.State != to && existing.State != "" {
		history = append(history, StateChange{From: existing.State, To: to, At: now.UTC()})
	}
	return history
}

func decodeTransaction(doc store.Document) (*BankTransaction, error) {
	var tx BankTransaction
	if err := store.Decode(doc, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func decodeTransactions(docs []store.Document) ([]*BankTransaction, error) {
	out := make([]*BankTransaction, 0, len(docs))
	for _, doc := range docs {
		tx, err := decodeTransaction(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
