package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EventType names a provider webhook event.
type EventType string

const (
	EventTransactionCreated      EventType = "TransactionCreated"
	EventTransactionStateChanged EventType = "TransactionStateChanged"
	EventAccountBalanceChanged   EventType = "AccountBalanceChanged"
	EventPaymentCompleted        EventType = "PaymentCompleted"
)

var ErrMalformedEvent = errors.New("malformed webhook event")

// Event is the webhook envelope. Data is decoded per event type.
type Event struct {
	Type      EventType       `json:"event"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// StateChange is the data of a TransactionStateChanged event.
type StateChange struct {
	ID        string `json:"id"`
	RequestID string `json:"request_id,omitempty"`
	OldState  string `json:"old_state,omitempty"`
	NewState  string `json:"new_state"`
}

// BalanceChange is the data of an AccountBalanceChanged event.
type BalanceChange struct {
	AccountID string           `json:"account_id"`
	Balance   *decimal.Decimal `json:"balance,omitempty"`
	Currency  string           `json:"currency,omitempty"`
}

// ParseEvent decodes the envelope. The event name must be present; the
// data is left raw.
func ParseEvent(raw []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("%w: missing event name", ErrMalformedEvent)
	}
	return &ev, nil
}

func (e *Event) decodeData(out any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return fmt.Errorf("%w: %s has no data", ErrMalformedEvent, e.Type)
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformedEvent, e.Type, err)
	}
	return nil
}
