package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"bankbridge/internal/domain/banking"
	"bankbridge/internal/domain/store"
	"bankbridge/internal/infrastructure/memstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// failingStore rejects updates to one collection.
type failingStore struct {
	store.Store
	collection string
}

func (s *failingStore) UpdateOne(ctx context.Context, collection, id string, patch store.Document) (store.Document, error) {
	if collection == s.collection {
		return nil, errors.New("connection reset")
	}
	return s.Store.UpdateOne(ctx, collection, id, patch)
}

type fixture struct {
	docs         store.Store
	transactions *banking.TransactionRepository
	invoices     *banking.InvoiceRepository
	matches      *banking.MatchRepository
	engine       *Engine
}

func newFixture(docs store.Store) *fixture {
	f := &fixture{
		docs:         docs,
		transactions: banking.NewTransactionRepository(docs),
		invoices:     banking.NewInvoiceRepository(docs),
		matches:      banking.NewMatchRepository(docs),
	}
	f.engine = NewEngine(f.transactions, f.invoices, f.matches)
	f.engine.now = func() time.Time { return testNow }
	return f
}

func (f *fixture) addTransaction(t *testing.T, externalID, amount, reference string, state banking.TransactionState) *banking.BankTransaction {
	t.Helper()
	created := testNow.Add(-time.Hour)
	completed := testNow.Add(-30 * time.Minute)
	_, tx, err := f.transactions.Upsert(context.Background(), &banking.BankTransaction{
		TenantID:    "T1",
		ExternalID:  externalID,
		State:       state,
		Amount:      decimal.RequireFromString(amount),
		Currency:    "EUR",
		Reference:   reference,
		CreatedAt:   &created,
		CompletedAt: &completed,
		Source:      banking.SourceSync,
	}, testNow)
	require.NoError(t, err)
	return tx
}

func (f *fixture) addInvoice(t *testing.T, number, client, amount string) *banking.Invoice {
	t.Helper()
	inv, err := f.invoices.Create(context.Background(), &banking.Invoice{
		TenantID:      "T1",
		InvoiceNumber: number,
		ClientName:    client,
		Amount:        decimal.RequireFromString(amount),
		Status:        "sent",
	})
	require.NoError(t, err)
	return inv
}

func TestReconcile_ExactAmount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(memstore.New())
	tx := f.addTransaction(t, "tx_1", "1000.00", "INV-001", banking.StateCompleted)
	inv := f.addInvoice(t, "INV-001", "Client A", "1000.00")

	result, err := f.engine.Reconcile(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Matched)
	assert.Equal(t, 0, result.Unmatched)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, banking.BasisExactAmount, result.Matches[0].MatchBasis)

	gotTx, err := f.transactions.GetByID(ctx, "T1", tx.ID)
	require.NoError(t, err)
	assert.True(t, gotTx.Reconciled)
	assert.Equal(t, inv.ID, gotTx.InvoiceID)

	gotInv, err := f.invoices.GetByID(ctx, "T1", inv.ID)
	require.NoError(t, err)
	assert.Equal(t, banking.InvoiceStatusPaid, gotInv.Status)
	assert.Equal(t, "INV-001", gotInv.PaymentReference)
	assert.Equal(t, tx.ID, gotInv.TransactionID)
	require.NotNil(t, gotInv.PaymentDate)
	assert.True(t, gotInv.PaymentDate.Equal(testNow.Add(-30*time.Minute)))

	again, err := f.engine.Reconcile(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, 0, again.Processed)
	assert.Equal(t, 0, again.Matched)

	matches, err := f.matches.ListByTenant(ctx, "T1")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestReconcile_ReferenceSubstring(t *testing.T) {
	ctx := context.Background()
	f := newFixture(memstore.New())
	f.addTransaction(t, "tx_1", "480.00", "Payment for inv-042 thanks", banking.StateCompleted)
	f.addInvoice(t, "INV-001", "Client A", "1000.00")
	inv := f.addInvoice(t, "INV-042", "Client B", "500.00")

	result, err := f.engine.Reconcile(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, inv.ID, result.Matches[0].InvoiceID)
	assert.Equal(t, banking.BasisReferenceSubstring, result.Matches[0].MatchBasis)
}

func TestReconcile_MatchedInvoiceLeavesCandidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(memstore.New())
	f.addTransaction(t, "tx_1", "100.00", "", banking.StateCompleted)
	f.addTransaction(t, "tx_2", "100.00", "", banking.StateCompleted)
	f.addInvoice(t, "INV-001", "Client A", "100.00")

	result, err := f.engine.Reconcile(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Matched)
	assert.Equal(t, 1, result.Unmatched)
}

func TestReconcile_OutgoingPaymentLeavesInvoiceOpen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(memstore.New())
	tx := f.addTransaction(t, "tx_out", "-250.00", "Refund to ACME Corp", banking.StateCompleted)
	inv := f.addInvoice(t, "INV-001", "ACME Corp", "1000.00")

	result, err := f.engine.Reconcile(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Matched)
	assert.Equal(t, 1, result.Unmatched)

	gotInv, err := f.invoices.GetByID(ctx, "T1", inv.ID)
	require.NoError(t, err)
	assert.NotEqual(t, banking.InvoiceStatusPaid, gotInv.Status)

	gotTx, err := f.transactions.GetByID(ctx, "T1", tx.ID)
	require.NoError(t, err)
	assert.False(t, gotTx.Reconciled)
}

func TestReconcile_IgnoresPendingTransactions(t *testing.T) {
	f := newFixture(memstore.New())
	f.addTransaction(t, "tx_1", "1000.00", "INV-001", banking.StatePending)
	f.addInvoice(t, "INV-001", "Client A", "1000.00")

	result, err := f.engine.Reconcile(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
}

func TestReconcile_UpdateFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	base := memstore.New()
	seed := newFixture(base)
	tx := seed.addTransaction(t, "tx_1", "1000.00", "", banking.StateCompleted)
	seed.addInvoice(t, "INV-001", "Client A", "1000.00")

	f := newFixture(&failingStore{Store: base, collection: store.CollectionInvoices})
	result, err := f.engine.Reconcile(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Matched)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, tx.ID, result.Errors[0].TransactionID)

	gotTx, err := seed.transactions.GetByID(ctx, "T1", tx.ID)
	require.NoError(t, err)
	assert.False(t, gotTx.Reconciled)
}

func TestManualMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(memstore.New())
	tx := f.addTransaction(t, "tx_1", "12.00", "", banking.StateCompleted)
	inv := f.addInvoice(t, "INV-009", "Client Z", "999.00")

	match, err := f.engine.ManualMatch(ctx, "T1", tx.ID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, banking.BasisManual, match.MatchBasis)

	_, err = f.engine.ManualMatch(ctx, "T1", tx.ID, inv.ID)
	assert.ErrorIs(t, err, ErrAlreadyReconciled)

	_, err = f.engine.ManualMatch(ctx, "T1", "missing", inv.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFindMatch(t *testing.T) {
	invoices := []*banking.Invoice{
		{ID: "a", InvoiceNumber: "INV-001", ClientName: "Acme Ltd", Amount: decimal.RequireFromString("250.00")},
		{ID: "b", InvoiceNumber: "INV-002", ClientName: "Globex", Amount: decimal.RequireFromString("99.99")},
		{ID: "c", InvoiceNumber: "", ClientName: "", Amount: decimal.RequireFromString("1.00")},
	}

	tests := []struct {
		name      string
		amount    string
		reference string
		wantID    string
		wantBasis banking.MatchBasis
	}{
		{"exact amount", "99.99", "", "b", banking.BasisExactAmount},
		{"within tolerance", "250.009", "", "a", banking.BasisExactAmount},
		{"tolerance is exclusive", "250.01", "", "", ""},
		{"amount wins over reference", "99.99", "INV-001", "b", banking.BasisExactAmount},
		{"invoice number", "5.00", "ref inv-002", "b", banking.BasisReferenceSubstring},
		{"client name", "5.00", "ACME LTD march", "a", banking.BasisReferenceSubstring},
		{"first candidate wins", "5.00", "INV-001 INV-002", "a", banking.BasisReferenceSubstring},
		{"empty reference", "5.00", "", "", ""},
		{"no match", "5.00", "unrelated", "", ""},
		{"outgoing with client name", "-250.00", "Refund to Acme Ltd", "", ""},
		{"outgoing with exact amount", "-99.99", "", "", ""},
		{"zero amount", "0", "INV-002", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &banking.BankTransaction{Amount: decimal.RequireFromString(tt.amount), Reference: tt.reference}
			inv, basis := FindMatch(tx, invoices)
			if tt.wantID == "" {
				assert.Nil(t, inv)
				return
			}
			require.NotNil(t, inv)
			assert.Equal(t, tt.wantID, inv.ID)
			assert.Equal(t, tt.wantBasis, basis)
		})
	}
}
