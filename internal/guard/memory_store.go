package guard

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store in memory for demo and testing.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	states   map[string]*SecurityState
}

// NewMemoryStore creates an in-memory guard store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		states:   make(map[string]*SecurityState),
	}
}

func (m *MemoryStore) UpsertSession(_ context.Context, s *Session) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[s.ID]; ok {
		existing.LastSeen = s.LastSeen
		*s = *existing
		return false, nil
	}

	cp := *s
	m.sessions[s.ID] = &cp
	return true, nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) FlagSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.Suspicious = true
	return nil
}

func (m *MemoryStore) CountActive(_ context.Context, tenantID, principalID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, s := range m.sessions {
		if s.LastSeen.Before(since) {
			continue
		}
		if tenantID != "" {
			if s.TenantID == tenantID {
				count++
			}
		} else if s.PrincipalID == principalID {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ListFlagged(_ context.Context, limit int, opts ...ListOption) ([]*Session, error) {
	o := applyListOpts(opts)

	m.mu.RLock()
	flagged := make([]*Session, 0)
	for _, s := range m.sessions {
		if !s.Suspicious {
			continue
		}
		cp := *s
		flagged = append(flagged, &cp)
	}
	m.mu.RUnlock()

	sort.Slice(flagged, func(i, j int) bool {
		if !flagged[i].CreatedAt.Equal(flagged[j].CreatedAt) {
			return flagged[i].CreatedAt.After(flagged[j].CreatedAt)
		}
		return flagged[i].ID > flagged[j].ID
	})

	result := make([]*Session, 0, limit)
	for _, s := range flagged {
		if o.cursor != nil {
			after := s.CreatedAt.Before(o.cursor.CreatedAt) ||
				(s.CreatedAt.Equal(o.cursor.CreatedAt) && s.ID < o.cursor.ID)
			if !after {
				continue
			}
		}
		result = append(result, s)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) SweepSessions(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if !s.Suspicious && s.LastSeen.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) GetState(_ context.Context, tenantID string) (*SecurityState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if st, ok := m.states[tenantID]; ok {
		cp := *st
		return &cp, nil
	}
	return &SecurityState{TenantID: tenantID}, nil
}

func (m *MemoryStore) SetLock(_ context.Context, tenantID string, locked bool, reason string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.ensureState(tenantID)
	st.TempLocked = locked
	st.FlagReason = reason
	st.UpdatedAt = now
	return nil
}

func (m *MemoryStore) SetSessionCap(_ context.Context, tenantID string, limit int, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.ensureState(tenantID)
	st.SessionCap = limit
	st.UpdatedAt = now
	return nil
}

func (m *MemoryStore) AddWarning(_ context.Context, tenantID, reason string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.ensureState(tenantID)
	st.Warnings++
	st.FlagReason = reason
	st.UpdatedAt = now
	return st.Warnings, nil
}

// ensureState returns the live state record, creating it if needed.
// Callers must hold the write lock.
func (m *MemoryStore) ensureState(tenantID string) *SecurityState {
	st, ok := m.states[tenantID]
	if !ok {
		st = &SecurityState{TenantID: tenantID}
		m.states[tenantID] = st
	}
	return st
}

var _ Store = (*MemoryStore)(nil)
