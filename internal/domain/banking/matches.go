package banking

import (
	"context"
	"errors"
	"fmt"

	"bankbridge/internal/domain/store"
)

type MatchRepository struct {
	docs store.Store
}

func NewMatchRepository(docs store.Store) *MatchRepository {
	return &MatchRepository{docs: docs}
}

func (r *MatchRepository) Exists(ctx context.Context, tenantID, transactionID, invoiceID string) (bool, error) {
	docs, err := r.docs.ReadByFilter(ctx, store.CollectionMatches, store.Where(
		store.Eq("tenant_id", tenantID),
		store.Eq("transaction_id", transactionID),
		store.Eq("invoice_id", invoiceID),
	).WithLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to read reconciliation match: %w", err)
	}
	return len(docs) > 0, nil
}

// Create stores the match. created is false when the pair was already
// matched, including by a concurrent writer.
func (r *MatchRepository) Create(ctx context.Context, m *ReconciliationMatch) (created bool, err error) {
	rec := *m
	rec.ExternalID = MatchKey(m.TransactionID, m.InvoiceID)
	rec.MatchedAt = m.MatchedAt.UTC()

	doc, err := store.Encode(rec)
	if err != nil {
		return false, err
	}
	if _, err := r.docs.CreateOne(ctx, store.CollectionMatches, doc); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create reconciliation match: %w", err)
	}
	return true, nil
}

func (r *MatchRepository) ListByTenant(ctx context.Context, tenantID string) ([]*ReconciliationMatch, error) {
	docs, err := r.docs.ReadByFilter(ctx, store.CollectionMatches, store.Where(
		store.Eq("tenant_id", tenantID),
	).SortBy("matched_at"))
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliation matches: %w", err)
	}

	out := make([]*ReconciliationMatch, 0, len(docs))
	for _, doc := range docs {
		var m ReconciliationMatch
		if err := store.Decode(doc, &m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, nil
}
