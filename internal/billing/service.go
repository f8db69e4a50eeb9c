package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/textsmith/internal/idgen"
	"github.com/mbd888/textsmith/internal/syncutil"
)

// AccountSync is the narrow slice of the account domain the billing service
// needs: looking up a tenant's owner and rewriting the owner's cached plan.
type AccountSync interface {
	TenantOwner(ctx context.Context, tenantID string) (principalID string, err error)
	SetCurrentPlan(ctx context.Context, principalID string, code PlanCode) error
}

// Service owns subscription lifecycle and plan resolution.
type Service struct {
	store    Store
	accounts AccountSync
	locks    *syncutil.ContextShardedMutex
	logger   *slog.Logger
}

// NewService creates a billing service.
func NewService(store Store, accounts AccountSync, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		accounts: accounts,
		locks:    syncutil.NewContextShardedMutex(),
		logger:   logger,
	}
}

// Store exposes the underlying store (used by handlers for reads).
func (s *Service) Store() Store { return s.store }

// EffectivePlan resolves the plan governing a tenant: the active
// subscription's plan when one exists, otherwise the FREE fallback.
// Callers pass an empty tenantID when the principal has no active tenant
// account; that resolves straight to the fallback. A missing fallback plan
// surfaces as ErrPlanNotFound; any other storage failure is wrapped so that
// misconfiguration is never silently defaulted away.
func (s *Service) EffectivePlan(ctx context.Context, tenantID string, now time.Time) (*Plan, error) {
	if tenantID != "" {
		sub, err := s.store.GetSubscriptionByTenant(ctx, tenantID)
		switch {
		case errors.Is(err, ErrSubscriptionNotFound):
			// fall through to FREE
		case err != nil:
			return nil, fmt.Errorf("billing: load subscription: %w", err)
		case sub.IsActiveAt(now):
			plan, err := s.store.GetPlan(ctx, sub.PlanCode)
			if err != nil {
				return nil, fmt.Errorf("billing: load plan %s: %w", sub.PlanCode, err)
			}
			return plan, nil
		}
	}

	plan, err := s.store.GetPlan(ctx, PlanFree)
	if errors.Is(err, ErrPlanNotFound) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("billing: load fallback plan: %w", err)
	}
	return plan, nil
}

// StartSubscription creates the tenant's subscription and synchronously
// seeds the owner's cached plan.
func (s *Service) StartSubscription(ctx context.Context, tenantID string, code PlanCode, trial bool, periodEnd time.Time) (*Subscription, error) {
	if !ValidPlanCode(code) {
		return nil, ErrPlanNotFound
	}
	if _, err := s.store.GetPlan(ctx, code); err != nil {
		return nil, err
	}

	unlock, err := s.locks.LockContext(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := time.Now()
	sub := &Subscription{
		ID:          idgen.WithPrefix("sub_"),
		TenantID:    tenantID,
		PlanCode:    code,
		PeriodStart: now,
		PeriodEnd:   periodEnd,
		Trial:       trial,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	if err := s.syncOwnerPlan(ctx, tenantID, code); err != nil {
		return nil, err
	}
	return sub, nil
}

// ChangePlan moves the tenant's subscription to a new plan and propagates
// the code to the owner principal's cached current_plan before returning.
// The propagation is synchronous: the new plan is observable the moment this
// call succeeds.
func (s *Service) ChangePlan(ctx context.Context, tenantID string, code PlanCode) (*Subscription, error) {
	if !ValidPlanCode(code) {
		return nil, ErrPlanNotFound
	}
	if _, err := s.store.GetPlan(ctx, code); err != nil {
		return nil, err
	}

	unlock, err := s.locks.LockContext(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Stores that can fold both writes into one transaction do so.
	if txStore, ok := s.store.(TxPlanChanger); ok {
		ownerID, err := s.accounts.TenantOwner(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("billing: resolve tenant owner: %w", err)
		}
		return txStore.ChangePlanTx(ctx, tenantID, ownerID, code)
	}

	sub, err := s.store.GetSubscriptionByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	sub.PlanCode = code
	sub.UpdatedAt = time.Now()
	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	if err := s.syncOwnerPlan(ctx, tenantID, code); err != nil {
		return nil, err
	}
	return sub, nil
}

// CancelSubscription marks the subscription canceled and drops the owner's
// cached plan to the fallback.
func (s *Service) CancelSubscription(ctx context.Context, tenantID string) (*Subscription, error) {
	unlock, err := s.locks.LockContext(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sub, err := s.store.GetSubscriptionByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	sub.Canceled = true
	sub.UpdatedAt = time.Now()
	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	if err := s.syncOwnerPlan(ctx, tenantID, PlanFree); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) syncOwnerPlan(ctx context.Context, tenantID string, code PlanCode) error {
	ownerID, err := s.accounts.TenantOwner(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("billing: resolve tenant owner: %w", err)
	}
	if err := s.accounts.SetCurrentPlan(ctx, ownerID, code); err != nil {
		return fmt.Errorf("billing: sync owner plan: %w", err)
	}
	s.logger.Info("owner plan synced", "tenant_id", tenantID, "principal_id", ownerID, "plan", code)
	return nil
}
