// Package banking holds the records the integration layer keeps in the
// document store: bank transactions, accounts, the invoices they settle and
// the matches between them.
package banking

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionState mirrors the provider's transaction lifecycle.
type TransactionState string

const (
	StatePending   TransactionState = "pending"
	StateCompleted TransactionState = "completed"
	StateDeclined  TransactionState = "declined"
	StateFailed    TransactionState = "failed"
	StateReverted  TransactionState = "reverted"
)

// Where a transaction record was last written from.
const (
	SourceSync    = "sync"
	SourceWebhook = "webhook"
)

// UpsertOutcome reports what an idempotent upsert did.
type UpsertOutcome string

const (
	OutcomeCreated UpsertOutcome = "created"
	OutcomeUpdated UpsertOutcome = "updated"
	OutcomeSkipped UpsertOutcome = "skipped"
)

type StateChange struct {
	From TransactionState `json:"from"`
	To   TransactionState `json:"to"`
	At   time.Time        `json:"at"`
}

// BankTransaction is unique per (TenantID, ExternalID). Partial marks a
// record created from an event that carried only the id and state; the next
// full read from the provider completes it.
type BankTransaction struct {
	ID                string           `json:"id,omitempty"`
	TenantID          string           `json:"tenant_id"`
	ExternalID        string           `json:"external_id"`
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
	Reconciled        bool             `json:"reconciled"`
	InvoiceID         string           `json:"invoice_id,omitempty"`
	StateHistory      []StateChange    `json:"state_history,omitempty"`
	Partial           bool             `json:"partial,omitempty"`
	Source            string           `json:"source,omitempty"`
	SyncedAt          time.Time        `json:"synced_at"`
}

// SettledAt is the date a matched invoice is marked paid on.
func (t *BankTransaction) SettledAt() *time.Time {
	if t.CompletedAt != nil {
		return t.CompletedAt
	}
	return t.CreatedAt
}

// PaymentReference is the reference recorded on a matched invoice.
func (t *BankTransaction) PaymentReference() string {
	if t.Reference != "" {
		return t.Reference
	}
	return t.ExternalID
}

// BankAccount is unique per (TenantID, ExternalID).
type BankAccount struct {
	ID           string          `json:"id,omitempty"`
	TenantID     string          `json:"tenant_id"`
	ExternalID   string          `json:"external_id"`
	Name         string          `json:"name,omitempty"`
	Currency     string          `json:"currency,omitempty"`
	Balance      decimal.Decimal `json:"balance"`
	State        string          `json:"state,omitempty"`
	Public       bool            `json:"public"`
	LastSyncedAt time.Time       `json:"last_synced_at"`
}

// InvoiceStatusPaid is the only status that removes an invoice from
// reconciliation.
const InvoiceStatusPaid = "paid"

// Invoice is owned by the invoicing system; the integration layer only
// reads open invoices and marks them paid.
type Invoice struct {
	ID               string          `json:"id,omitempty"`
	TenantID         string          `json:"tenant_id"`
	InvoiceNumber    string          `json:"invoice_number"`
	ClientName       string          `json:"client_name"`
	Amount           decimal.Decimal `json:"amount"`
	Status           string          `json:"status"`
	PaymentDate      *time.Time      `json:"payment_date,omitempty"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	TransactionID    string          `json:"transaction_id,omitempty"`
}

// MatchBasis records which rule paired a transaction with an invoice.
type MatchBasis string

const (
	BasisExactAmount        MatchBasis = "exact_amount"
	BasisReferenceSubstring MatchBasis = "reference_substring"
	BasisManual             MatchBasis = "manual"
)

// ReconciliationMatch links one transaction to one invoice. ExternalID is
// derived from the pair so the store rejects a second match for it.
type ReconciliationMatch struct {
	ID            string     `json:"id,omitempty"`
	TenantID      string     `json:"tenant_id"`
	ExternalID    string     `json:"external_id"`
	TransactionID string     `json:"transaction_id"`
	InvoiceID     string     `json:"invoice_id"`
	MatchBasis    MatchBasis `json:"match_basis"`
	MatchedAt     time.Time  `json:"matched_at"`
}

func MatchKey(transactionID, invoiceID string) string {
	return transactionID + ":" + invoiceID
}
