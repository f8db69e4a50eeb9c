package billing

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory billing store for demo/development.
// It starts pre-seeded with the default plan catalog.
type MemoryStore struct {
	mu    sync.RWMutex
	plans map[PlanCode]*Plan
	subs  map[string]*Subscription // by tenant ID
}

// NewMemoryStore creates a new in-memory billing store seeded with the
// default catalog.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		plans: make(map[PlanCode]*Plan),
		subs:  make(map[string]*Subscription),
	}
	for _, p := range DefaultCatalog() {
		cp := *p
		m.plans[p.Code] = &cp
	}
	return m
}

func (m *MemoryStore) GetPlan(_ context.Context, code PlanCode) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plans[code]
	if !ok {
		return nil, ErrPlanNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListPlans(_ context.Context) ([]*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Plan, 0, len(m.plans))
	for _, code := range []PlanCode{PlanFree, PlanPlus, PlanPro, PlanEnterprise} {
		if p, ok := m.plans[code]; ok {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpsertPlan(_ context.Context, p *Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	m.plans[p.Code] = &cp
	return nil
}

// DeletePlan removes a plan from the catalog. Test helper for exercising the
// missing-fallback path.
func (m *MemoryStore) DeletePlan(code PlanCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.plans, code)
}

func (m *MemoryStore) CreateSubscription(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.subs[s.TenantID]; exists {
		return ErrSubscriptionExists
	}
	cp := *s
	m.subs[s.TenantID] = &cp
	return nil
}

func (m *MemoryStore) GetSubscriptionByTenant(_ context.Context, tenantID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.subs[tenantID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) UpdateSubscription(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subs[s.TenantID]; !ok {
		return ErrSubscriptionNotFound
	}
	cp := *s
	m.subs[s.TenantID] = &cp
	return nil
}

var _ Store = (*MemoryStore)(nil)
