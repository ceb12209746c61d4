package webhook

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"bankbridge/internal/domain/banking"
	"bankbridge/internal/domain/banksync"
	"bankbridge/internal/infrastructure/bankapi"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	webhookTracer  = otel.Tracer("bankbridge/webhook")
	webhookMeter   = otel.Meter("bankbridge/webhook")
	eventsTotal, _ = webhookMeter.Int64Counter("webhook.events.total", metric.WithDescription("Webhook events by type and outcome"))
)

// Outcome is what dispatching one event did.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeResync    Outcome = "resync_requested"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeMalformed Outcome = "malformed"
)

// AccountResyncer schedules an account sync for a tenant outside the
// regular interval.
type AccountResyncer interface {
	TriggerAccountSync(tenantID string) error
}

// RecordRejected counts an event refused before dispatch.
func RecordRejected(ctx context.Context, reason string) {
	eventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", "unknown"),
		attribute.String("outcome", string(OutcomeRejected)),
		attribute.String("reason", reason),
	))
}

// Dispatcher applies validated events to the store.
type Dispatcher struct {
	transactions *banking.TransactionRepository
	accounts     *banking.AccountRepository
	resync       AccountResyncer
	now          func() time.Time
}

// NewDispatcher creates a dispatcher. resync may be nil, in which case a
// balance change for an unknown account is only logged.
func NewDispatcher(transactions *banking.TransactionRepository, accounts *banking.AccountRepository, resync AccountResyncer) *Dispatcher {
	return &Dispatcher{
		transactions: transactions,
		accounts:     accounts,
		resync:       resync,
		now:          time.Now,
	}
}

// Dispatch applies ev for tenantID. Redelivery of the same event leaves the
// store unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID string, ev *Event) (Outcome, error) {
	ctx, span := webhookTracer.Start(ctx, "webhook.dispatch",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("webhook.event", string(ev.Type)),
		),
	)
	defer span.End()

	outcome, err := d.dispatch(ctx, tenantID, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("webhook.outcome", string(outcome)))
	eventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", string(ev.Type)),
		attribute.String("outcome", string(outcome)),
	))
	return outcome, err
}

func (d *Dispatcher) dispatch(ctx context.Context, tenantID string, ev *Event) (Outcome, error) {
	switch ev.Type {
	case EventTransactionCreated:
		return d.upsertTransaction(ctx, tenantID, ev, "")
	case EventPaymentCompleted:
		return d.upsertTransaction(ctx, tenantID, ev, banking.StateCompleted)
	case EventTransactionStateChanged:
		return d.changeState(ctx, tenantID, ev)
	case EventAccountBalanceChanged:
		return d.changeBalance(ctx, tenantID, ev)
	default:
		log.Printf("Webhook %s: ignoring event %q", tenantID, ev.Type)
		return OutcomeIgnored, nil
	}
}

func (d *Dispatcher) upsertTransaction(ctx context.Context, tenantID string, ev *Event, forceState banking.TransactionState) (Outcome, error) {
	var data bankapi.Transaction
	if err := ev.decodeData(&data); err != nil {
		return OutcomeMalformed, err
	}
	if data.ID == "" {
		return OutcomeMalformed, fmt.Errorf("%w: %s without transaction id", ErrMalformedEvent, ev.Type)
	}

	tx := banksync.TransactionFromProvider(tenantID, &data, banking.SourceWebhook)
	if forceState != "" {
		tx.State = forceState
	}
	if tx.State == "" {
		tx.State = banking.StatePending
	}

	outcome, _, err := d.transactions.Upsert(ctx, tx, d.now())
	if err != nil {
		return OutcomeFailed, err
	}
	log.Printf("Webhook %s: %s %s -> %s", tenantID, ev.Type, tx.ExternalID, outcome)
	return Outcome(outcome), nil
}

func (d *Dispatcher) changeState(ctx context.Context, tenantID string, ev *Event) (Outcome, error) {
	var data StateChange
	if err := ev.decodeData(&data); err != nil {
		return OutcomeMalformed, err
	}
	if data.ID == "" || data.NewState == "" {
		return OutcomeMalformed, fmt.Errorf("%w: state change needs id and new_state", ErrMalformedEvent)
	}
	state := banking.TransactionState(strings.ToLower(data.NewState))
	now := d.now()

	existing, err := d.transactions.GetByExternalID(ctx, tenantID, data.ID)
	if err != nil {
		return OutcomeFailed, err
	}
	if existing != nil {
		if existing.State == state {
			return OutcomeSkipped, nil
		}
		if _, err := d.transactions.UpdateState(ctx, existing, state, banking.SourceWebhook, now); err != nil {
			return OutcomeFailed, err
		}
		log.Printf("Webhook %s: transaction %s %s -> %s", tenantID, data.ID, existing.State, state)
		return OutcomeUpdated, nil
	}

	// Only the id and state are known; the next transaction sync fills in
	// the rest.
	outcome, _, err := d.transactions.Upsert(ctx, &banking.BankTransaction{
		TenantID:   tenantID,
		ExternalID: data.ID,
		State:      state,
		Partial:    true,
		Source:     banking.SourceWebhook,
	}, now)
	if err != nil {
		return OutcomeFailed, err
	}
	log.Printf("Webhook %s: transaction %s not stored yet, recorded as %s", tenantID, data.ID, state)
	return Outcome(outcome), nil
}

func (d *Dispatcher) changeBalance(ctx context.Context, tenantID string, ev *Event) (Outcome, error) {
	var data BalanceChange
	if err := ev.decodeData(&data); err != nil {
		return OutcomeMalformed, err
	}
	if data.AccountID == "" {
		return OutcomeMalformed, fmt.Errorf("%w: balance change without account_id", ErrMalformedEvent)
	}

	acc, err := d.accounts.GetByExternalID(ctx, tenantID, data.AccountID)
	if err != nil {
		return OutcomeFailed, err
	}
	if acc == nil || data.Balance == nil {
		if d.resync == nil {
			log.Printf("Webhook %s: balance change for account %s, no resync available", tenantID, data.AccountID)
			return OutcomeIgnored, nil
		}
		if err := d.resync.TriggerAccountSync(tenantID); err != nil {
			return OutcomeFailed, fmt.Errorf("failed to request account sync: %w", err)
		}
		return OutcomeResync, nil
	}

	if _, err := d.accounts.UpdateBalance(ctx, acc.ID, *data.Balance, data.Currency, d.now()); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeUpdated, nil
}
