// Package account holds principals, tenant accounts, and memberships.
package account

import (
	"errors"
	"time"

	"github.com/mbd888/textsmith/internal/billing"
)

// Errors
var (
	ErrPrincipalNotFound  = errors.New("account: principal not found")
	ErrTenantNotFound     = errors.New("account: tenant not found")
	ErrMembershipNotFound = errors.New("account: membership not found")
	ErrMembershipExists   = errors.New("account: principal is already a member")
	ErrSeatLimitReached   = errors.New("account: seat limit reached for plan")
	ErrEmailTaken         = errors.New("account: email already registered")
	ErrInvalidRole        = errors.New("account: invalid role")
)

// Role is a principal's role within a tenant account.
type Role string

const (
	RoleOwner    Role = "OWNER"
	RoleAdmin    Role = "ADMIN"
	RoleMember   Role = "MEMBER"
	RoleReadonly Role = "READONLY"
)

// ValidRole reports whether r is a known role.
func ValidRole(r Role) bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleReadonly:
		return true
	}
	return false
}

// AssignableRole reports whether r may be granted through AddMember.
// The OWNER role is created once, by CreateTenant.
func AssignableRole(r Role) bool {
	return ValidRole(r) && r != RoleOwner
}

// Principal is an API user. CurrentPlan is a cached copy of the plan code
// resolved through billing; it is rewritten synchronously on plan changes.
// MonthlyCharsUsed and MonthlyRequestsUsed are mutated only by ledger commits
// and the administrative reset.
type Principal struct {
	ID                  string           `json:"id"`
	Email               string           `json:"email"`
	Name                string           `json:"name"`
	CurrentPlan         billing.PlanCode `json:"current_plan"`
	MonthlyCharsUsed    int64            `json:"monthly_chars_used"`
	MonthlyRequestsUsed int64            `json:"monthly_requests_used"`
	Staff               bool             `json:"staff"`
	Active              bool             `json:"active"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// Tenant is the billable organizational unit. Exactly one owner principal.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Membership links a principal to a tenant with a role. Unique per
// (tenant, principal).
type Membership struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	PrincipalID string    `json:"principal_id"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}
