package account

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/textsmith/internal/billing"
)

// MemoryStore is an in-memory account store for demo/development.
type MemoryStore struct {
	mu          sync.RWMutex
	principals  map[string]*Principal // by ID
	emails      map[string]string     // lowercased email → ID
	tenants     map[string]*Tenant    // by ID
	owners      map[string]string     // owner principal ID → tenant ID
	memberships map[string]*Membership
	memberKeys  map[string]string // tenantID|principalID → membership ID
}

// NewMemoryStore creates a new in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		principals:  make(map[string]*Principal),
		emails:      make(map[string]string),
		tenants:     make(map[string]*Tenant),
		owners:      make(map[string]string),
		memberships: make(map[string]*Membership),
		memberKeys:  make(map[string]string),
	}
}

func memberKey(tenantID, principalID string) string {
	return tenantID + "|" + principalID
}

func (m *MemoryStore) CreatePrincipal(_ context.Context, p *Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := strings.ToLower(p.Email)
	if _, exists := m.emails[email]; exists {
		return ErrEmailTaken
	}

	cp := *p
	m.principals[p.ID] = &cp
	m.emails[email] = p.ID
	return nil
}

func (m *MemoryStore) GetPrincipal(_ context.Context, id string) (*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.principals[id]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetPrincipalByEmail(_ context.Context, email string) (*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.emails[strings.ToLower(email)]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	cp := *m.principals[id]
	return &cp, nil
}

func (m *MemoryStore) UpdatePrincipal(_ context.Context, p *Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.principals[p.ID]; !ok {
		return ErrPrincipalNotFound
	}
	cp := *p
	m.principals[p.ID] = &cp
	return nil
}

func (m *MemoryStore) ListPrincipals(_ context.Context, limit, offset int) ([]*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.principals))
	for id := range m.principals {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if offset >= len(ids) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(ids) {
		end = len(ids)
	}

	out := make([]*Principal, 0, end-offset)
	for _, id := range ids[offset:end] {
		cp := *m.principals[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) SetCurrentPlan(_ context.Context, principalID string, code billing.PlanCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.principals[principalID]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.CurrentPlan = code
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) AddUsage(_ context.Context, principalID string, chars, requests int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.principals[principalID]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.MonthlyCharsUsed += chars
	p.MonthlyRequestsUsed += requests
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ResetUsage(_ context.Context, principalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.principals[principalID]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.MonthlyCharsUsed = 0
	p.MonthlyRequestsUsed = 0
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) CreateTenant(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *t
	m.tenants[t.ID] = &cp
	if _, owned := m.owners[t.OwnerID]; !owned {
		m.owners[t.OwnerID] = t.ID
	}
	return nil
}

func (m *MemoryStore) GetTenant(_ context.Context, id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) GetTenantByOwner(_ context.Context, ownerID string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.owners[ownerID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	cp := *m.tenants[id]
	return &cp, nil
}

func (m *MemoryStore) UpdateTenant(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tenants[t.ID]; !ok {
		return ErrTenantNotFound
	}
	cp := *t
	m.tenants[t.ID] = &cp
	return nil
}

func (m *MemoryStore) CreateMembership(_ context.Context, mem *Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memberKey(mem.TenantID, mem.PrincipalID)
	if _, exists := m.memberKeys[key]; exists {
		return ErrMembershipExists
	}

	cp := *mem
	m.memberships[mem.ID] = &cp
	m.memberKeys[key] = mem.ID
	return nil
}

func (m *MemoryStore) DeleteMembership(_ context.Context, tenantID, principalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memberKey(tenantID, principalID)
	id, ok := m.memberKeys[key]
	if !ok {
		return ErrMembershipNotFound
	}
	delete(m.memberships, id)
	delete(m.memberKeys, key)
	return nil
}

func (m *MemoryStore) ListMembershipsByTenant(_ context.Context, tenantID string) ([]*Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Membership
	for _, mem := range m.memberships {
		if mem.TenantID == tenantID {
			cp := *mem
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListMembershipsByPrincipal(_ context.Context, principalID string) ([]*Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Membership
	for _, mem := range m.memberships {
		if mem.PrincipalID == principalID {
			cp := *mem
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CountMembers(_ context.Context, tenantID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, mem := range m.memberships {
		if mem.TenantID == tenantID {
			count++
		}
	}
	return count, nil
}

var _ Store = (*MemoryStore)(nil)
