package credential

import (
	"context"
	"sort"
	"sync"
)

// TokenStore holds at most one TokenRecord per tenant. Get returns nil, nil
// when the tenant has no record.
type TokenStore interface {
	Get(ctx context.Context, tenantID string) (*TokenRecord, error)
	Put(ctx context.Context, rec *TokenRecord) error
	Delete(ctx context.Context, tenantID string) error
	Tenants() []string
}

// MemoryTokenStore is a process-local TokenStore.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]TokenRecord
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]TokenRecord)}
}

func (s *MemoryTokenStore) Get(_ context.Context, tenantID string) (*TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.tokens[tenantID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryTokenStore) Put(_ context.Context, rec *TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[rec.TenantID] = *rec
	return nil
}

func (s *MemoryTokenStore) Delete(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, tenantID)
	return nil
}

func (s *MemoryTokenStore) Tenants() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.tokens))
	for id := range s.tokens {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
