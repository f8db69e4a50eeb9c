package account

import (
	"context"

	"github.com/mbd888/textsmith/internal/billing"
)

// Store abstracts principal, tenant, and membership persistence.
type Store interface {
	CreatePrincipal(ctx context.Context, p *Principal) error
	GetPrincipal(ctx context.Context, id string) (*Principal, error)
	GetPrincipalByEmail(ctx context.Context, email string) (*Principal, error)
	UpdatePrincipal(ctx context.Context, p *Principal) error
	ListPrincipals(ctx context.Context, limit, offset int) ([]*Principal, error)

	// SetCurrentPlan rewrites the cached plan column only.
	SetCurrentPlan(ctx context.Context, principalID string, code billing.PlanCode) error

	// AddUsage adds chars and requests to the monthly counters. Ledger commits
	// are the only writer besides ResetUsage.
	AddUsage(ctx context.Context, principalID string, chars, requests int64) error
	ResetUsage(ctx context.Context, principalID string) error

	CreateTenant(ctx context.Context, t *Tenant) error
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	GetTenantByOwner(ctx context.Context, ownerID string) (*Tenant, error)
	UpdateTenant(ctx context.Context, t *Tenant) error

	CreateMembership(ctx context.Context, m *Membership) error
	DeleteMembership(ctx context.Context, tenantID, principalID string) error
	ListMembershipsByTenant(ctx context.Context, tenantID string) ([]*Membership, error)
	ListMembershipsByPrincipal(ctx context.Context, principalID string) ([]*Membership, error)
	CountMembers(ctx context.Context, tenantID string) (int, error)
}
