package bankapi

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a business account as returned by GET /accounts.
type Account struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	State     string          `json:"state"`
	Public    bool            `json:"public"`
	CreatedAt *time.Time      `json:"created_at,omitempty"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

// Transaction is one provider transaction. Amounts are in major units.
type Transaction struct {
	ID          string           `json:"id"`
	Type        string           `json:"type"`
	RequestID   string           `json:"request_id,omitempty"`
	State       string           `json:"state"`
	ReasonCode  string           `json:"reason_code,omitempty"`
	CreatedAt   *time.Time       `json:"created_at,omitempty"`
	UpdatedAt   *time.Time       `json:"updated_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Reference   string           `json:"reference,omitempty"`
	Legs        []TransactionLeg `json:"legs,omitempty"`
	Merchant    *Merchant        `json:"merchant,omitempty"`
}

type TransactionLeg struct {
	LegID        string           `json:"leg_id"`
	AccountID    string           `json:"account_id"`
	Counterparty *Counterparty    `json:"counterparty,omitempty"`
	Amount       decimal.Decimal  `json:"amount"`
	Fee          decimal.Decimal  `json:"fee"`
	Currency     string           `json:"currency"`
	Description  string           `json:"description,omitempty"`
	Balance      *decimal.Decimal `json:"balance,omitempty"`
}

type Counterparty struct {
	ID          string `json:"id,omitempty"`
	AccountID   string `json:"account_id,omitempty"`
	AccountType string `json:"account_type,omitempty"`
}

type Merchant struct {
	Name         string `json:"name"`
	City         string `json:"city,omitempty"`
	CategoryCode string `json:"category_code,omitempty"`
	Country      string `json:"country,omitempty"`
}

// PrimaryLeg returns the first leg, which carries the amount booked on the
// tenant's own account.
func (t *Transaction) PrimaryLeg() *TransactionLeg {
	if len(t.Legs) == 0 {
		return nil
	}
	return &t.Legs[0]
}

// CounterpartyName is the best human-readable name for the other side.
func (t *Transaction) CounterpartyName() string {
	if t.Merchant != nil && t.Merchant.Name != "" {
		return t.Merchant.Name
	}
	if leg := t.PrimaryLeg(); leg != nil {
		return leg.Description
	}
	return ""
}

// ErrorResponse is the provider's error body.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
