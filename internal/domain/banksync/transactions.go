package banksync

import (
	"context"
	"fmt"
	"log"
	"time"

	"bankbridge/internal/domain/banking"
	"bankbridge/internal/infrastructure/bankapi"
)

// TrailingWindow is how far back each transaction sync reads.
const TrailingWindow = 3 * time.Hour

// SyncResult contains the results of one sync run for one tenant.
// Truncated is set when the provider returned a full page, so older
// records of the window may be missing.
type SyncResult struct {
	TenantID  string   `json:"tenant"`
	Found     int      `json:"found"`
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Skipped   int      `json:"skipped"`
	Truncated bool     `json:"truncated,omitempty"`
	Errors    []string `json:"errors"`
}

// Counts maps the result onto SyncJob totals.
func (r *SyncResult) Counts() Counts {
	return Counts{
		Synced:  r.Created + r.Updated,
		Failed:  len(r.Errors),
		Skipped: r.Skipped,
	}
}

func (r *SyncResult) record(outcome banking.UpsertOutcome) {
	switch outcome {
	case banking.OutcomeCreated:
		r.Created++
	case banking.OutcomeUpdated:
		r.Updated++
	case banking.OutcomeSkipped:
		r.Skipped++
	}
}

// TransactionFetcher is the part of the bank API the transaction sync uses.
type TransactionFetcher interface {
	GetTransactions(ctx context.Context, tenantID string, from, to time.Time) ([]bankapi.Transaction, error)
}

// TransactionSyncService handles syncing transactions from the bank API.
type TransactionSyncService struct {
	client       TransactionFetcher
	transactions *banking.TransactionRepository
	now          func() time.Time
}

func NewTransactionSyncService(client TransactionFetcher, transactions *banking.TransactionRepository) *TransactionSyncService {
	return &TransactionSyncService{
		client:       client,
		transactions: transactions,
		now:          time.Now,
	}
}

// SyncTransactions upserts every transaction of the trailing window. A fetch
// failure fails the run; a failure on one record is counted and the run
// continues.
func (s *TransactionSyncService) SyncTransactions(ctx context.Context, tenantID string) (*SyncResult, error) {
	now := s.now()
	result := &SyncResult{TenantID: tenantID, Errors: []string{}}

	txs, err := s.client.GetTransactions(ctx, tenantID, now.Add(-TrailingWindow), now)
	if err != nil {
		return result, fmt.Errorf("failed to fetch transactions: %w", err)
	}
	result.Found = len(txs)
	if result.Found >= bankapi.MaxTransactions {
		result.Truncated = true
		log.Printf("Tenant %s: WARNING transaction page is full (%d records); the %s window may be incomplete",
			tenantID, result.Found, TrailingWindow)
	}

	log.Printf("Tenant %s: Syncing %d transactions", tenantID, result.Found)

	for i := range txs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		tx := TransactionFromProvider(tenantID, &txs[i], banking.SourceSync)
		if tx.ExternalID == "" {
			result.Errors = append(result.Errors, "transaction without id")
			continue
		}
		outcome, _, err := s.transactions.Upsert(ctx, tx, now)
		if err != nil {
			errMsg := fmt.Sprintf("failed to sync transaction %s: %v", tx.ExternalID, err)
			result.Errors = append(result.Errors, errMsg)
			log.Printf("Tenant %s: %s", tenantID, errMsg)
			continue
		}
		result.record(outcome)
	}

	log.Printf("Tenant %s: Transaction sync complete - Created: %d, Updated: %d, Skipped: %d, Errors: %d",
		tenantID, result.Created, result.Updated, result.Skipped, len(result.Errors))

	return result, nil
}
