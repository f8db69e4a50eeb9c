package webhooks

import (
	"context"
	"sync"
)

// MemoryStore is the in-memory Store used in dev mode and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{endpoints: make(map[string]*Endpoint)}
}

func (s *MemoryStore) Create(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ep
	s.endpoints[ep.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return nil, ErrEndpointNotFound
	}
	cp := *ep
	return &cp, nil
}

func (s *MemoryStore) ListByTenant(_ context.Context, tenantID string) ([]*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Endpoint
	for _, ep := range s.endpoints {
		if ep.TenantID == tenantID {
			cp := *ep
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListForEvent(_ context.Context, tenantID string, t EventType) ([]*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Endpoint
	for _, ep := range s.endpoints {
		if ep.TenantID == tenantID && ep.Active && ep.Wants(t) {
			cp := *ep
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[ep.ID]; !ok {
		return ErrEndpointNotFound
	}
	cp := *ep
	s.endpoints[ep.ID] = &cp
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[id]; !ok {
		return ErrEndpointNotFound
	}
	delete(s.endpoints, id)
	return nil
}
