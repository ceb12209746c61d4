package banksync

import (
	"context"
	"fmt"
	"log"
	"time"

	"bankbridge/internal/domain/banking"
	"bankbridge/internal/infrastructure/bankapi"
)

type AccountFetcher interface {
	GetAccounts(ctx context.Context, tenantID string) ([]bankapi.Account, error)
}

// AccountSyncService handles syncing accounts and balances from the bank API.
type AccountSyncService struct {
	client   AccountFetcher
	accounts *banking.AccountRepository
	now      func() time.Time
}

func NewAccountSyncService(client AccountFetcher, accounts *banking.AccountRepository) *AccountSyncService {
	return &AccountSyncService{
		client:   client,
		accounts: accounts,
		now:      time.Now,
	}
}

func (s *AccountSyncService) SyncAccounts(ctx context.Context, tenantID string) (*SyncResult, error) {
	now := s.now()
	result := &SyncResult{TenantID: tenantID, Errors: []string{}}

	accounts, err := s.client.GetAccounts(ctx, tenantID)
	if err != nil {
		return result, fmt.Errorf("failed to fetch accounts: %w", err)
	}
	result.Found = len(accounts)

	log.Printf("Tenant %s: Syncing %d accounts", tenantID, result.Found)

	for i := range accounts {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		acc := AccountFromProvider(tenantID, &accounts[i])
		outcome, _, err := s.accounts.Upsert(ctx, acc, now)
		if err != nil {
			errMsg := fmt.Sprintf("failed to sync account %s: %v", acc.ExternalID, err)
			result.Errors = append(result.Errors, errMsg)
			log.Printf("Tenant %s: %s", tenantID, errMsg)
			continue
		}
		result.record(outcome)
	}

	log.Printf("Tenant %s: Account sync complete - Created: %d, Updated: %d, Skipped: %d, Errors: %d",
		tenantID, result.Created, result.Updated, result.Skipped, len(result.Errors))

	return result, nil
}
