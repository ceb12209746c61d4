// Package store defines the document store the integration layer persists
// into. Documents are flat JSON objects grouped in named collections; every
// document carries an "id" assigned by the store on creation.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound  = errors.New("document not found")
	ErrDuplicate = errors.New("document already exists")
)

// Collections used by the integration layer.
const (
	CollectionTransactions = "bank_transactions"
	CollectionAccounts     = "bank_accounts"
	CollectionInvoices     = "client_invoices"
	CollectionMatches      = "reconciliation_matches"
	CollectionSyncJobs     = "sync_jobs"
	CollectionTokens       = "bank_tokens"
)

// TimeLayout is how timestamps are stored. It is fixed width and always
// UTC, so lexical order on stored values is chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Document is a single stored object. Values follow encoding/json decoding
// rules (numbers are float64, objects are map[string]any).
type Document map[string]any

// ID returns the store-assigned identifier, or "" when unset.
func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

// Store is the persistence boundary. CreateOne returns ErrDuplicate when a
// document with the same (tenant_id, external_id) already exists in the
// collection. UpdateOne merges patch into the top level of the document and
// returns ErrNotFound for an unknown id. DeleteMany removes every document
// matching the filter's conditions, ignoring sort and limit, and returns how
// many were removed.
type Store interface {
	ReadByFilter(ctx context.Context, collection string, filter Filter) ([]Document, error)
	CreateOne(ctx context.Context, collection string, doc Document) (Document, error)
	UpdateOne(ctx context.Context, collection, id string, patch Document) (Document, error)
	DeleteMany(ctx context.Context, collection string, filter Filter) (int, error)
}

// Encode converts a tagged struct into a Document via its JSON form.
func Encode(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	canonicalTimes(doc)
	return doc, nil
}

// canonicalTimes rewrites top-level timestamp fields in TimeLayout.
func canonicalTimes(m map[string]any) {
	for k, v := range m {
		s, ok := v.(string)
		if !ok || !(strings.HasSuffix(k, "_at") || strings.HasSuffix(k, "_date")) {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			m[k] = FormatTime(t)
		}
	}
}

// Decode fills out from doc via its JSON form.
func Decode(doc Document, out any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	return nil
}
