// Package billing provides the plan catalog and subscription lifecycle for
// the Textsmith platform.
package billing

import (
	"errors"
	"time"
)

// Errors
var (
	ErrPlanNotFound         = errors.New("billing: plan not found")
	ErrSubscriptionNotFound = errors.New("billing: subscription not found")
	ErrSubscriptionExists   = errors.New("billing: tenant already has a subscription")
)

// PlanCode identifies the pricing tier. The set is closed: resolution fails
// rather than inventing a tier for an unknown code.
type PlanCode string

const (
	PlanFree       PlanCode = "FREE"
	PlanPlus       PlanCode = "PLUS"
	PlanPro        PlanCode = "PRO"
	PlanEnterprise PlanCode = "ENTERPRISE"
)

// Plan defines the limits and feature flags of a pricing tier. Rows are
// immutable in normal operation; only explicit administrative updates touch
// them.
type Plan struct {
	Code                  PlanCode  `json:"code"`
	Name                  string    `json:"name"`
	PriceCents            int64     `json:"price_cents"`
	CharLimit             int64     `json:"char_limit"`
	ReqPerHour            int64     `json:"req_per_hour"` // 0 = unlimited
	MaxSeats              int       `json:"max_seats"`
	MaxConcurrentSessions int       `json:"max_concurrent_sessions"`
	TeamMembers           bool      `json:"team_members"`
	PrioritySupport       bool      `json:"priority_support"`
	SLA                   bool      `json:"sla"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Features reports the capability map exposed through usage_status.
// Summarization modes unlock by tier; the rest mirror the plan flags.
func (p *Plan) Features() map[string]bool {
	return map[string]bool{
		"extractive":       true,
		"abstractive":      p.Code != PlanFree,
		"hybrid":           p.Code == PlanPro || p.Code == PlanEnterprise,
		"team_members":     p.TeamMembers,
		"priority_support": p.PrioritySupport,
		"sla":              p.SLA,
	}
}

// Unlimited reports whether the plan skips the hourly rate gate entirely.
// No catalog tier ships with 0; the semantics exist for administrative
// overrides.
func (p *Plan) Unlimited() bool {
	return p.ReqPerHour == 0
}

// Subscription binds a tenant account to a plan for a billing period.
// A tenant holds at most one subscription at any time.
type Subscription struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	PlanCode    PlanCode  `json:"plan_code"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Trial       bool      `json:"trial"`
	Canceled    bool      `json:"canceled"`
	ProviderRef string    `json:"provider_ref,omitempty"` // opaque billing-provider ID
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsActiveAt reports whether the subscription governs its tenant at the
// given instant. Tenant activity is enforced by callers, which skip
// subscription lookup for inactive tenants.
func (s *Subscription) IsActiveAt(now time.Time) bool {
	return !s.Canceled && !s.PeriodEnd.Before(now)
}

// DaysRemainingAt returns whole days until the period ends, never negative.
func (s *Subscription) DaysRemainingAt(now time.Time) int {
	if s.PeriodEnd.Before(now) {
		return 0
	}
	return int(s.PeriodEnd.Sub(now).Hours() / 24)
}
