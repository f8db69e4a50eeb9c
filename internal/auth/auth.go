// Package auth manages API credentials for Textsmith.
//
// A credential is the only authentication artifact: the raw token
// (sk_ + 64 hex chars) is shown once at creation and stored as a SHA-256
// hash. Revocation deactivates a credential; rows are never deleted.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/textsmith/internal/idgen"
)

// Errors
var (
	ErrNoCredential       = errors.New("auth: credential required")
	ErrInvalidCredential  = errors.New("auth: invalid or deactivated credential")
	ErrCredentialNotFound = errors.New("auth: credential not found")
)

// Credential is an API key record. Hash is the SHA-256 hex of the raw token;
// the raw token itself is never persisted.
type Credential struct {
	ID          string    `json:"id"`
	Hash        string    `json:"-"`
	PrincipalID string    `json:"principal_id"`
	Label       string    `json:"label"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsed    time.Time `json:"last_used,omitempty"`
}

// Store persists API credentials.
//
// TouchLastUsed must update only the last-used timestamp: the touch runs
// asynchronously after validation and may land after a concurrent
// revocation, so a full-row write here could resurrect a revoked key.
type Store interface {
	Create(ctx context.Context, c *Credential) error
	GetByHash(ctx context.Context, hash string) (*Credential, error)
	GetByPrincipal(ctx context.Context, principalID string) ([]*Credential, error)
	Update(ctx context.Context, c *Credential) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// Manager handles credential issuance and validation.
type Manager struct {
	store Store
}

// NewManager creates a new credential manager.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Store exposes the underlying store.
func (m *Manager) Store() Store { return m.store }

// GenerateKey creates a new credential for a principal.
// Returns the raw token (shown once) and the stored metadata.
func (m *Manager) GenerateKey(ctx context.Context, principalID, label string) (rawKey string, cred *Credential, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, err
	}

	rawKey = "sk_" + hex.EncodeToString(b)

	cred = &Credential{
		ID:          idgen.WithPrefix("key_"),
		Hash:        hashKey(rawKey),
		PrincipalID: principalID,
		Label:       label,
		Active:      true,
		CreatedAt:   time.Now(),
	}

	if err := m.store.Create(ctx, cred); err != nil {
		return "", nil, err
	}

	return rawKey, cred, nil
}

// ValidateKey validates a raw token and returns the credential metadata.
// Accepts either the bare token or the full "Bearer sk_..." header value.
func (m *Manager) ValidateKey(ctx context.Context, rawKey string) (*Credential, error) {
	if rawKey == "" {
		return nil, ErrNoCredential
	}

	rawKey = strings.TrimPrefix(rawKey, "Bearer ")
	rawKey = strings.TrimSpace(rawKey)

	if !strings.HasPrefix(rawKey, "sk_") {
		return nil, ErrInvalidCredential
	}

	cred, err := m.store.GetByHash(ctx, hashKey(rawKey))
	if err != nil {
		return nil, ErrInvalidCredential
	}
	if !cred.Active {
		return nil, ErrInvalidCredential
	}

	// Update last used (fire and forget).
	go func() {
		_ = m.store.TouchLastUsed(context.Background(), cred.ID, time.Now())
	}()

	return cred, nil
}

// ListKeys returns all credentials for a principal, active and revoked.
func (m *Manager) ListKeys(ctx context.Context, principalID string) ([]*Credential, error) {
	return m.store.GetByPrincipal(ctx, principalID)
}

// RevokeKey deactivates a credential owned by the given principal.
func (m *Manager) RevokeKey(ctx context.Context, keyID, principalID string) error {
	creds, err := m.store.GetByPrincipal(ctx, principalID)
	if err != nil {
		return err
	}

	for _, c := range creds {
		if c.ID == keyID {
			c.Active = false
			return m.store.Update(ctx, c)
		}
	}

	return ErrCredentialNotFound
}

func hashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]*Credential // by ID
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		creds: make(map[string]*Credential),
	}
}

func (s *MemoryStore) Create(_ context.Context, c *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.creds[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetByHash(_ context.Context, hash string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.creds {
		if c.Hash == hash {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrCredentialNotFound
}

func (s *MemoryStore) GetByPrincipal(_ context.Context, principalID string) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*Credential
	for _, c := range s.creds {
		if c.PrincipalID == principalID {
			cp := *c
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *MemoryStore) Update(_ context.Context, c *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.creds[c.ID]; !ok {
		return ErrCredentialNotFound
	}
	cp := *c
	s.creds[c.ID] = &cp
	return nil
}

func (s *MemoryStore) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[id]
	if !ok {
		return ErrCredentialNotFound
	}
	c.LastUsed = at
	return nil
}

var _ Store = (*MemoryStore)(nil)
