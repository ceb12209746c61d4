package banksync

import (
	"context"
	"sort"
	"time"

	"bankbridge/internal/domain/banking"

	"github.com/shopspring/decimal"
)

const (
	// StatsWindow is how far back Stats counts recent transactions.
	StatsWindow = 7 * 24 * time.Hour

	// DefaultUnmatchedAge is how long a completed incoming transaction may
	// stay unreconciled before it is reported.
	DefaultUnmatchedAge = 24 * time.Hour
)

// CurrencyTotal aggregates amounts of one currency.
type CurrencyTotal struct {
	Currency string          `json:"currency"`
	Count    int             `json:"count"`
	Total    decimal.Decimal `json:"total"`
}

type AccountBalance struct {
	ExternalID   string          `json:"external_id"`
	Name         string          `json:"name,omitempty"`
	Currency     string          `json:"currency"`
	Balance      decimal.Decimal `json:"balance"`
	State        string          `json:"state,omitempty"`
	LastSyncedAt time.Time       `json:"last_synced_at"`
}

// Stats is the per-tenant sync overview: account balances and the
// transactions created within StatsWindow.
type Stats struct {
	TenantID           string           `json:"tenant"`
	Accounts           []AccountBalance `json:"accounts"`
	Balances           []CurrencyTotal  `json:"balances"`
	RecentSince        time.Time        `json:"recent_since"`
	RecentTransactions []CurrencyTotal  `json:"recent_transactions"`
	GeneratedAt        time.Time        `json:"generated_at"`
}

// UnmatchedReport lists completed incoming transactions still unreconciled
// after a grace period.
type UnmatchedReport struct {
	TenantID     string                     `json:"tenant"`
	OlderThan    string                     `json:"older_than"`
	Count        int                        `json:"count"`
	Totals       []CurrencyTotal            `json:"totals"`
	Transactions []*banking.BankTransaction `json:"transactions"`
	GeneratedAt  time.Time                  `json:"generated_at"`
}

type StatsService struct {
	accounts     *banking.AccountRepository
	transactions *banking.TransactionRepository
	now          func() time.Time
}

func NewStatsService(accounts *banking.AccountRepository, transactions *banking.TransactionRepository) *StatsService {
	return &StatsService{
		accounts:     accounts,
		transactions: transactions,
		now:          time.Now,
	}
}

func (s *StatsService) Stats(ctx context.Context, tenantID string) (*Stats, error) {
	now := s.now().UTC()

	accounts, err := s.accounts.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	since := now.Add(-StatsWindow)
	recent, err := s.transactions.ListCreatedSince(ctx, tenantID, since)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TenantID:    tenantID,
		Accounts:    make([]AccountBalance, 0, len(accounts)),
		RecentSince: since,
		GeneratedAt: now,
	}

	balances := newTotals()
	for _, acc := range accounts {
		stats.Accounts = append(stats.Accounts, AccountBalance{
			ExternalID:   acc.ExternalID,
			Name:         acc.Name,
			Currency:     acc.Currency,
			Balance:      acc.Balance,
			State:        acc.State,
			LastSyncedAt: acc.LastSyncedAt,
		})
		balances.add(acc.Currency, acc.Balance)
	}
	sort.Slice(stats.Accounts, func(i, j int) bool { return stats.Accounts[i].ExternalID < stats.Accounts[j].ExternalID })
	stats.Balances = balances.list()

	txTotals := newTotals()
	for _, tx := range recent {
		txTotals.add(tx.Currency, tx.Amount)
	}
	stats.RecentTransactions = txTotals.list()

	return stats, nil
}

// Unmatched reports completed incoming transactions created more than
// olderThan ago that no invoice has claimed. Partial records are excluded.
func (s *StatsService) Unmatched(ctx context.Context, tenantID string, olderThan time.Duration) (*UnmatchedReport, error) {
	now := s.now().UTC()
	cutoff := now.Add(-olderThan)

	txs, err := s.transactions.ListUnreconciled(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	report := &UnmatchedReport{
		TenantID:     tenantID,
		OlderThan:    olderThan.String(),
		Transactions: []*banking.BankTransaction{},
		GeneratedAt:  now,
	}
	totals := newTotals()
	for _, tx := range txs {
		if tx.Amount.Sign() <= 0 || tx.CreatedAt == nil || tx.CreatedAt.After(cutoff) {
			continue
		}
		report.Transactions = append(report.Transactions, tx)
		totals.add(tx.Currency, tx.Amount)
	}
	report.Count = len(report.Transactions)
	report.Totals = totals.list()
	return report, nil
}

type totals map[string]*CurrencyTotal

func newTotals() totals { return make(totals) }

func (t totals) add(currency string, amount decimal.Decimal) {
	ct, ok := t[currency]
	if !ok {
		ct = &CurrencyTotal{Currency: currency}
		t[currency] = ct
	}
	ct.Count++
	ct.Total = ct.Total.Add(amount)
}

func (t totals) list() []CurrencyTotal {
	out := make([]CurrencyTotal, 0, len(t))
	for _, ct := range t {
		out = append(out, *ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out
}
