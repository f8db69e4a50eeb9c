package billing

import "context"

// Store persists the plan reference table and subscriptions.
type Store interface {
	GetPlan(ctx context.Context, code PlanCode) (*Plan, error)
	ListPlans(ctx context.Context) ([]*Plan, error)
	UpsertPlan(ctx context.Context, p *Plan) error

	CreateSubscription(ctx context.Context, s *Subscription) error
	GetSubscriptionByTenant(ctx context.Context, tenantID string) (*Subscription, error)
	UpdateSubscription(ctx context.Context, s *Subscription) error
}

// TxPlanChanger is an optional store upgrade: stores that can update the
// subscription row and the owner principal's cached plan in one transaction
// implement it, and Service.ChangePlan prefers it over the two-step path.
type TxPlanChanger interface {
	ChangePlanTx(ctx context.Context, tenantID, ownerPrincipalID string, code PlanCode) (*Subscription, error)
}
