package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/textsmith/internal/billing"
	"github.com/mbd888/textsmith/internal/idgen"
)

// PlanResolver reports the plan currently governing a tenant. Implemented by
// the billing service; wired after construction because billing is built on
// top of this package.
type PlanResolver interface {
	EffectivePlan(ctx context.Context, tenantID string, now time.Time) (*billing.Plan, error)
}

// Service owns account lifecycle and membership rules.
type Service struct {
	store  Store
	plans  PlanResolver
	logger *slog.Logger
}

// NewService creates an account service. Call SetPlanResolver before serving
// requests; seat caps cannot be enforced without it.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// SetPlanResolver wires the billing service in after both services exist.
func (s *Service) SetPlanResolver(r PlanResolver) { s.plans = r }

// Store exposes the underlying store (used by handlers for reads).
func (s *Service) Store() Store { return s.store }

// CreatePrincipal registers a new API user on the FREE tier.
func (s *Service) CreatePrincipal(ctx context.Context, email, name string) (*Principal, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, fmt.Errorf("account: email required")
	}

	now := time.Now()
	p := &Principal{
		ID:          idgen.WithPrefix("usr_"),
		Email:       email,
		Name:        name,
		CurrentPlan: billing.PlanFree,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreatePrincipal(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateTenant creates a tenant account owned by the given principal and the
// owner's membership row alongside it.
func (s *Service) CreateTenant(ctx context.Context, name, ownerID string) (*Tenant, error) {
	if _, err := s.store.GetPrincipal(ctx, ownerID); err != nil {
		return nil, err
	}

	now := time.Now()
	t := &Tenant{
		ID:        idgen.WithPrefix("ten_"),
		Name:      name,
		OwnerID:   ownerID,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateTenant(ctx, t); err != nil {
		return nil, err
	}

	m := &Membership{
		ID:          idgen.WithPrefix("mem_"),
		TenantID:    t.ID,
		PrincipalID: ownerID,
		Role:        RoleOwner,
		CreatedAt:   now,
	}
	if err := s.store.CreateMembership(ctx, m); err != nil {
		return nil, fmt.Errorf("account: create owner membership: %w", err)
	}
	return t, nil
}

// AddMember grants a principal a role on a tenant, enforcing the plan's seat
// cap. The count includes the owner's membership, so a 5-seat plan holds the
// owner plus four others.
func (s *Service) AddMember(ctx context.Context, tenantID, principalID string, role Role) (*Membership, error) {
	if !AssignableRole(role) {
		return nil, ErrInvalidRole
	}

	tenant, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetPrincipal(ctx, principalID); err != nil {
		return nil, err
	}

	if s.plans == nil {
		return nil, fmt.Errorf("account: plan resolver not configured")
	}
	plan, err := s.plans.EffectivePlan(ctx, tenant.ID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("account: resolve plan for seat check: %w", err)
	}

	count, err := s.store.CountMembers(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if plan.MaxSeats > 0 && count >= plan.MaxSeats {
		return nil, ErrSeatLimitReached
	}

	m := &Membership{
		ID:          idgen.WithPrefix("mem_"),
		TenantID:    tenantID,
		PrincipalID: principalID,
		Role:        role,
		CreatedAt:   time.Now(),
	}
	if err := s.store.CreateMembership(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// RemoveMember deletes a membership. The owner's seat cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, tenantID, principalID string) error {
	tenant, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if tenant.OwnerID == principalID {
		return fmt.Errorf("account: cannot remove the owner's membership")
	}
	return s.store.DeleteMembership(ctx, tenantID, principalID)
}

// ResolveTenant finds the tenant account governing a principal: the tenant
// the principal owns when one exists, otherwise the first tenant it is a
// member of. Returns (nil, nil) for principals with no tenant at all; those
// resolve to the FREE fallback downstream.
func (s *Service) ResolveTenant(ctx context.Context, principalID string) (*Tenant, error) {
	t, err := s.store.GetTenantByOwner(ctx, principalID)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrTenantNotFound) {
		return nil, err
	}

	memberships, err := s.store.ListMembershipsByPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if len(memberships) == 0 {
		return nil, nil
	}
	return s.store.GetTenant(ctx, memberships[0].TenantID)
}

// TenantOwner returns the owning principal's ID. Satisfies the billing
// service's AccountSync dependency.
func (s *Service) TenantOwner(ctx context.Context, tenantID string) (string, error) {
	t, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return t.OwnerID, nil
}

// SetCurrentPlan rewrites a principal's cached plan code. Satisfies the
// billing service's AccountSync dependency.
func (s *Service) SetCurrentPlan(ctx context.Context, principalID string, code billing.PlanCode) error {
	return s.store.SetCurrentPlan(ctx, principalID, code)
}

// ResetMonthlyUsage zeroes both monthly counters. Entry point for the
// period-boundary reset job and the admin surface.
func (s *Service) ResetMonthlyUsage(ctx context.Context, principalID string) error {
	if err := s.store.ResetUsage(ctx, principalID); err != nil {
		return err
	}
	s.logger.Info("monthly usage reset", "principal_id", principalID)
	return nil
}

var _ billing.AccountSync = (*Service)(nil)
