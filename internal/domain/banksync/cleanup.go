package banksync

import (
	"context"
	"fmt"
	"log"
	"time"

	"bankbridge/internal/domain/banking"
)

// DefaultRetention is how long synced transactions are kept.
const DefaultRetention = 90 * 24 * time.Hour

type CleanupResult struct {
	TenantID string    `json:"tenant"`
	Deleted  int       `json:"deleted"`
	Cutoff   time.Time `json:"cutoff"`
}

// CleanupService purges transactions past the retention period.
type CleanupService struct {
	transactions *banking.TransactionRepository
	now          func() time.Time
}

func NewCleanupService(transactions *banking.TransactionRepository) *CleanupService {
	return &CleanupService{transactions: transactions, now: time.Now}
}

// Cleanup deletes the tenant's transactions created more than retention ago.
func (s *CleanupService) Cleanup(ctx context.Context, tenantID string, retention time.Duration) (*CleanupResult, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}

	cutoff := s.now().UTC().Add(-retention)
	deleted, err := s.transactions.DeleteCreatedBefore(ctx, tenantID, cutoff)
	if err != nil {
		return nil, err
	}

	log.Printf("Tenant %s: Cleanup removed %d transactions created before %s", tenantID, deleted, cutoff.Format(time.RFC3339))
	return &CleanupResult{TenantID: tenantID, Deleted: deleted, Cutoff: cutoff}, nil
}
