package banksync

import (
	"strings"

	"bankbridge/internal/domain/banking"
	"bankbridge/internal/infrastructure/bankapi"
)

// TransactionFromProvider maps a provider transaction onto the stored
// shape. Amount, fee, currency and account come from the first leg.
func TransactionFromProvider(tenantID string, t *bankapi.Transaction, source string) *banking.BankTransaction {
	tx := &banking.BankTransaction{
		TenantID:     tenantID,
		ExternalID:   t.ID,
		Type:         t.Type,
		State:        banking.TransactionState(strings.ToLower(t.State)),
		Reference:    t.Reference,
		Counterparty: t.CounterpartyName(),
		CreatedAt:    t.CreatedAt,
		CompletedAt:  t.CompletedAt,
		Source:       source,
	}
	if leg := t.PrimaryLeg(); leg != nil {
		tx.AccountExternalID = leg.AccountID
		tx.Amount = leg.Amount
		tx.Fee = leg.Fee
		tx.Currency = leg.Currency
		if tx.Reference == "" {
			tx.Reference = leg.Description
		}
	}
	return tx
}

func AccountFromProvider(tenantID string, a *bankapi.Account) *banking.BankAccount {
	return &banking.BankAccount{
		TenantID:   tenantID,
		ExternalID: a.ID,
		Name:       a.Name,
		Currency:   a.Currency,
		Balance:    a.Balance,
		State:      a.State,
		Public:     a.Public,
	}
}
