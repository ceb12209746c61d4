// Package reconciliation pairs completed bank transactions with open
// invoices and settles both sides of every pair it finds.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"bankbridge/internal/domain/banking"

	"github.com/shopspring/decimal"
)

// AmountTolerance is the largest absolute difference, exclusive, at which a
// transaction amount still counts as equal to an invoice amount.
var AmountTolerance = decimal.New(1, -2)

var ErrAlreadyReconciled = errors.New("transaction already reconciled")

// Error wraps a failure to settle one transaction. The run continues.
type Error struct {
	TransactionID string
	InvoiceID     string
	Err           error
}

func (e *Error) Error() string {
	if e.InvoiceID != "" {
		return fmt.Sprintf("reconcile transaction %s with invoice %s: %v", e.TransactionID, e.InvoiceID, e.Err)
	}
	return fmt.Sprintf("reconcile transaction %s: %v", e.TransactionID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Result struct {
	TenantID  string                         `json:"tenant"`
	Processed int                            `json:"processed"`
	Matched   int                            `json:"matched"`
	Unmatched int                            `json:"unmatched"`
	Errors    []*Error                       `json:"-"`
	Matches   []*banking.ReconciliationMatch `json:"matches"`
}

type Engine struct {
	transactions *banking.TransactionRepository
	invoices     *banking.InvoiceRepository
	matches      *banking.MatchRepository
	now          func() time.Time
}

func NewEngine(transactions *banking.TransactionRepository, invoices *banking.InvoiceRepository, matches *banking.MatchRepository) *Engine {
	return &Engine{
		transactions: transactions,
		invoices:     invoices,
		matches:      matches,
		now:          time.Now,
	}
}

// Reconcile matches every unreconciled completed transaction of the tenant
// against its unpaid invoices. A failure to load either list fails the run;
// a failure on one transaction is recorded and the loop moves on.
func (e *Engine) Reconcile(ctx context.Context, tenantID string) (*Result, error) {
	txs, err := e.transactions.ListUnreconciled(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	candidates, err := e.invoices.ListUnpaid(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	result := &Result{TenantID: tenantID, Matches: []*banking.ReconciliationMatch{}}
	log.Printf("Reconciliation %s: %d transactions, %d open invoices", tenantID, len(txs), len(candidates))

	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Processed++

		inv, basis := FindMatch(tx, candidates)
		if inv == nil {
			result.Unmatched++
			continue
		}

		match, err := e.settle(ctx, tenantID, tx, inv, basis)
		if err != nil {
			recErr := &Error{TransactionID: tx.ID, InvoiceID: inv.ID, Err: err}
			result.Errors = append(result.Errors, recErr)
			log.Printf("Reconciliation %s: %v", tenantID, recErr)
			continue
		}

		result.Matched++
		result.Matches = append(result.Matches, match)
		candidates = without(candidates, inv.ID)
	}

	log.Printf("Reconciliation %s: processed %d, matched %d, unmatched %d, errors %d",
		tenantID, result.Processed, result.Matched, result.Unmatched, len(result.Errors))
	return result, nil
}

// ManualMatch settles a chosen transaction/invoice pair regardless of the
// matching rules.
func (e *Engine) ManualMatch(ctx context.Context, tenantID, transactionID, invoiceID string) (*banking.ReconciliationMatch, error) {
	tx, err := e.transactions.GetByID(ctx, tenantID, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Reconciled {
		return nil, &Error{TransactionID: tx.ID, InvoiceID: invoiceID, Err: ErrAlreadyReconciled}
	}
	inv, err := e.invoices.GetByID(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}

	match, err := e.settle(ctx, tenantID, tx, inv, banking.BasisManual)
	if err != nil {
		return nil, &Error{TransactionID: tx.ID, InvoiceID: inv.ID, Err: err}
	}
	log.Printf("Reconciliation %s: manually matched transaction %s to invoice %s", tenantID, tx.ExternalID, inv.InvoiceNumber)
	return match, nil
}

// FindMatch applies the matching rules in order: the first invoice whose
// amount is within AmountTolerance, otherwise the first invoice whose number
// or client name appears in the transaction reference (case-insensitive).
// Empty strings never match. Only incoming money settles client invoices,
// so a zero or negative amount never matches.
func FindMatch(tx *banking.BankTransaction, candidates []*banking.Invoice) (*banking.Invoice, banking.MatchBasis) {
	if tx.Amount.Sign() <= 0 {
		return nil, ""
	}

	for _, inv := range candidates {
		if tx.Amount.Sub(inv.Amount).Abs().LessThan(AmountTolerance) {
			return inv, banking.BasisExactAmount
		}
	}

	reference := strings.ToLower(strings.TrimSpace(tx.Reference))
	if reference == "" {
		return nil, ""
	}
	for _, inv := range candidates {
		if containsFold(reference, inv.InvoiceNumber) || containsFold(reference, inv.ClientName) {
			return inv, banking.BasisReferenceSubstring
		}
	}
	return nil, ""
}

// settle marks the invoice paid, then the transaction reconciled, then
// records the match unless the pair is already recorded.
func (e *Engine) settle(ctx context.Context, tenantID string, tx *banking.BankTransaction, inv *banking.Invoice, basis banking.MatchBasis) (*banking.ReconciliationMatch, error) {
	if err := e.invoices.MarkPaid(ctx, inv.ID, tx.SettledAt(), tx.PaymentReference(), tx.ID); err != nil {
		return nil, err
	}
	if err := e.transactions.MarkReconciled(ctx, tx.ID, inv.ID); err != nil {
		return nil, err
	}

	match := &banking.ReconciliationMatch{
		TenantID:      tenantID,
		TransactionID: tx.ID,
		InvoiceID:     inv.ID,
		MatchBasis:    basis,
		MatchedAt:     e.now().UTC(),
	}

	if _, err := e.matches.Create(ctx, match); err != nil {
		return nil, err
	}
	return match, nil
}

func containsFold(lowerHaystack, needle string) bool {
	needle = strings.ToLower(strings.TrimSpace(needle))
	return needle != "" && strings.Contains(lowerHaystack, needle)
}

func without(invoices []*banking.Invoice, id string) []*banking.Invoice {
	out := make([]*banking.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if inv.ID != id {
			out = append(out, inv)
		}
	}
	return out
}
