package banking

import (
	"context"
	"fmt"
	"time"

	"bankbridge/internal/domain/store"
)

type InvoiceRepository struct {
	docs store.Store
}

func NewInvoiceRepository(docs store.Store) *InvoiceRepository {
	return &InvoiceRepository{docs: docs}
}

// ListUnpaid returns every invoice of the tenant whose status is not paid.
func (r *InvoiceRepository) ListUnpaid(ctx context.Context, tenantID string) ([]*Invoice, error) {
	docs, err := r.docs.ReadByFilter(ctx, store.CollectionInvoices, store.Where(
		store.Eq("tenant_id", tenantID),
		store.Neq("status", InvoiceStatusPaid),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to list unpaid invoices: %w", err)
	}

	out := make([]*Invoice, 0, len(docs))
	for _, doc := range docs {
		inv, err := decodeInvoice(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

func (r *InvoiceRepository) GetByID(ctx context.Context, tenantID, id string) (*Invoice, error) {
	docs, err := r.docs.ReadByFilter(ctx, store.CollectionInvoices, store.Where(
		store.Eq("tenant_id", tenantID),
		store.Eq("id", id),
	).WithLimit(1))
	if err != nil {
		return nil, fmt.Errorf("failed to read invoice %s: %w", id, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("invoice %s: %w", id, store.ErrNotFound)
	}
	return decodeInvoice(docs[0])
}

// Create stores a new invoice. Invoices are normally written by the
// invoicing system; this exists for seeding and tests.
func (r *InvoiceRepository) Create(ctx context.Context, inv *Invoice) (*Invoice, error) {
	doc, err := store.Encode(inv)
	if err != nil {
		return nil, err
	}
	created, err := r.docs.CreateOne(ctx, store.CollectionInvoices, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create invoice %s: %w", inv.InvoiceNumber, err)
	}
	return decodeInvoice(created)
}

// MarkPaid settles the invoice with the matched transaction's details.
func (r *InvoiceRepository) MarkPaid(ctx context.Context, id string, paidAt *time.Time, reference, transactionID string) error {
	patch := store.Document{
		"status":            InvoiceStatusPaid,
		"payment_reference": reference,
		"transaction_id":    transactionID,
	}
	if paidAt != nil {
		patch["payment_date"] = paidAt.UTC()
	}
	if _, err := r.docs.UpdateOne(ctx, store.CollectionInvoices, id, patch); err != nil {
		return fmt.Errorf("failed to mark invoice %s paid: %w", id, err)
	}
	return nil
}

func decodeInvoice(doc store.Document) (*Invoice, error) {
	var inv Invoice
	if err := store.Decode(doc, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}
