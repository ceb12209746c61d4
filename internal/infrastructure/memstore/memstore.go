// Package memstore is an in-process store.Store used by tests, the admin
// CLI dry runs, and deployments started with STORE_DRIVER=memory.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"bankbridge/internal/domain/store"

	"github.com/google/uuid"
)

type collection struct {
	docs  map[string]store.Document
	order []string
}

// Store keeps documents in memory. Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

func (s *Store) ReadByFilter(ctx context.Context, name string, filter store.Filter) ([]store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return []store.Document{}, nil
	}

	out := make([]store.Document, 0)
	for _, id := range c.order {
		doc := c.docs[id]
		if filter.Matches(doc) {
			out = append(out, clone(doc))
		}
	}

	if field, desc := filter.SortField(); field != "" {
		sort.SliceStable(out, func(i, j int) bool {
			cmp, _ := store.Compare(out[i][field], out[j][field])
			if desc {
				return cmp > 0
			}
			return cmp < 0
		})
	}

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) CreateOne(ctx context.Context, name string, doc store.Document) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	normalized, err := normalize(doc)
	if err != nil {
		return nil, err
	}
	if normalized.ID() == "" {
		normalized["id"] = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		c = &collection{docs: make(map[string]store.Document)}
		s.collections[name] = c
	}

	id := normalized.ID()
	if _, exists := c.docs[id]; exists {
		return nil, fmt.Errorf("%s/%s: %w", name, id, store.ErrDuplicate)
	}
	if key, ok := naturalKey(normalized); ok {
		for _, existing := range c.docs {
			if k, ok := naturalKey(existing); ok && k == key {
				return nil, fmt.Errorf("%s %s/%s: %w", name, key[0], key[1], store.ErrDuplicate)
			}
		}
	}

	c.docs[id] = normalized
	c.order = append(c.order, id)
	return clone(normalized), nil
}

func (s *Store) UpdateOne(ctx context.Context, name, id string, patch store.Document) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	normalized, err := normalize(patch)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", name, id, store.ErrNotFound)
	}
	doc, ok := c.docs[id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", name, id, store.ErrNotFound)
	}

	for k, v := range normalized {
		if k == "id" {
			continue
		}
		doc[k] = v
	}
	return clone(doc), nil
}

func (s *Store) DeleteMany(ctx context.Context, name string, filter store.Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return 0, nil
	}

	kept := c.order[:0]
	deleted := 0
	for _, id := range c.order {
		if filter.Matches(c.docs[id]) {
			delete(c.docs, id)
			deleted++
			continue
		}
		kept = append(kept, id)
	}
	c.order = kept
	return deleted, nil
}

// Len returns the number of documents in a collection.
func (s *Store) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[name]; ok {
		return len(c.docs)
	}
	return 0
}

func naturalKey(doc store.Document) ([2]string, bool) {
	tenant, _ := doc["tenant_id"].(string)
	external, _ := doc["external_id"].(string)
	if tenant == "" || external == "" {
		return [2]string{}, false
	}
	return [2]string{tenant, external}, true
}

func normalize(doc store.Document) (store.Document, error) {
	if doc == nil {
		return store.Document{}, nil
	}
	out, ok := store.Normalize(map[string]any(doc)).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("failed to normalize document")
	}
	return store.Document(out), nil
}

func clone(doc store.Document) store.Document {
	out, _ := store.Normalize(map[string]any(doc)).(map[string]any)
	return store.Document(out)
}
