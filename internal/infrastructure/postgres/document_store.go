package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"bankbridge/internal/domain/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// DocumentStore implements store.Store on a single JSONB table. The
// migration creates a partial unique index on
// (collection, data->>'tenant_id', data->>'external_id'), which is what makes
// concurrent upserts from the scheduler and the webhook path converge.
type DocumentStore struct {
	db *DB
}

func NewDocumentStore(db *DB) *DocumentStore {
	return &DocumentStore{db: db}
}

func (s *DocumentStore) ReadByFilter(ctx context.Context, collection string, filter store.Filter) ([]store.Document, error) {
	query, args, err := buildSelect(collection, filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	docs := make([]store.Document, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", collection, err)
		}
		var doc store.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode %s document: %w", collection, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", collection, err)
	}
	return docs, nil
}

func (s *DocumentStore) CreateOne(ctx context.Context, collection string, doc store.Document) (store.Document, error) {
	payload := make(store.Document, len(doc)+1)
	for k, v := range doc {
		payload[k] = v
	}
	if payload.ID() == "" {
		payload["id"] = uuid.NewString()
	}

	data, err := json.Marshal(store.Normalize(map[string]any(payload)))
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s document: %w", collection, err)
	}

	var raw []byte
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb) RETURNING data`,
		collection, payload.ID(), string(data),
	).Scan(&raw)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%s/%s: %w", collection, payload.ID(), store.ErrDuplicate)
		}
		return nil, fmt.Errorf("failed to insert %s document: %w", collection, err)
	}

	var created store.Document
	if err := json.Unmarshal(raw, &created); err != nil {
		return nil, fmt.Errorf("failed to decode %s document: %w", collection, err)
	}
	return created, nil
}

func (s *DocumentStore) UpdateOne(ctx context.Context, collection, id string, patch store.Document) (store.Document, error) {
	clean := make(store.Document, len(patch))
	for k, v := range patch {
		if k != "id" {
			clean[k] = v
		}
	}

	data, err := json.Marshal(store.Normalize(map[string]any(clean)))
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s patch: %w", collection, err)
	}

	var raw []byte
	err = s.db.QueryRowContext(ctx,
		`UPDATE documents SET data = data || $3::jsonb, updated_at = NOW()
		 WHERE collection = $1 AND id = $2 RETURNING data`,
		collection, id, string(data),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, store.ErrDuplicate)
		}
		return nil, fmt.Errorf("failed to update %s document: %w", collection, err)
	}

	var updated store.Document
	if err := json.Unmarshal(raw, &updated); err != nil {
		return nil, fmt.Errorf("failed to decode %s document: %w", collection, err)
	}
	return updated, nil
}

func (s *DocumentStore) DeleteMany(ctx context.Context, collection string, filter store.Filter) (int, error) {
	query, args, err := buildWhere("DELETE FROM documents", collection, filter)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s documents: %w", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted %s documents: %w", collection, err)
	}
	return int(n), nil
}

// buildSelect renders a filter as a parameterized query, ordered and limited.
func buildSelect(collection string, filter store.Filter) (string, []any, error) {
	query, args, err := buildWhere("SELECT data FROM documents", collection, filter)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	b.WriteString(query)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if field, desc := filter.SortField(); field != "" {
		dir := "ASC"
		if desc {
			dir = "DESC"
		}
		b.WriteString(fmt.Sprintf(" ORDER BY data->%s::text %s, created_at %s", next(field), dir, dir))
	} else {
		b.WriteString(" ORDER BY created_at ASC")
	}

	if filter.Limit > 0 {
		b.WriteString(" LIMIT " + next(filter.Limit))
	}

	return b.String(), args, nil
}

// buildWhere appends the filter's conditions to head. Field names are passed
// as parameters to the ->> operator, never interpolated.
func buildWhere(head, collection string, filter store.Filter) (string, []any, error) {
	var b strings.Builder
	args := []any{collection}
	b.WriteString(head + " WHERE collection = $1")

	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	for _, c := range filter.Conditions {
		if c.Field == "" {
			return "", nil, fmt.Errorf("filter condition on %s has no field", collection)
		}
		value := store.Normalize(c.Value)

		switch c.Op {
		case store.OpEq, store.OpNeq:
			contained, err := json.Marshal(map[string]any{c.Field: value})
			if err != nil {
				return "", nil, fmt.Errorf("failed to encode filter value for %s: %w", c.Field, err)
			}
			clause := fmt.Sprintf("data @> %s::jsonb", next(string(contained)))
			if c.Op == store.OpNeq {
				clause = "NOT (" + clause + ")"
			}
			b.WriteString(" AND " + clause)

		case store.OpGte, store.OpLte:
			cmp := ">="
			if c.Op == store.OpLte {
				cmp = "<="
			}
			switch v := value.(type) {
			case float64:
				field := next(c.Field) + "::text"
				b.WriteString(fmt.Sprintf(" AND jsonb_typeof(data->%s) = 'number' AND (data->>%s)::numeric %s %s",
					field, field, cmp, next(v)))
			case string:
				field := next(c.Field) + "::text"
				b.WriteString(fmt.Sprintf(" AND jsonb_typeof(data->%s) = 'string' AND data->>%s %s %s",
					field, field, cmp, next(v)))
			default:
				return "", nil, fmt.Errorf("unsupported %s value for %s: %T", c.Op, c.Field, c.Value)
			}

		default:
			return "", nil, fmt.Errorf("unsupported filter operator %q", c.Op)
		}
	}

	return b.String(), args, nil
}
