// Package gate is the request pipeline every metered API call passes
// through: authenticate the API key, resolve the caller's tenant and
// plan, reject locked accounts, pre-check the hourly rate and monthly
// character quota, run the handler, and commit usage only when the
// handler succeeded. Whatever the outcome, each trip through the gate
// leaves exactly one audit entry.
package gate

import (
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/textsmith/internal/account"
	"github.com/mbd888/textsmith/internal/audit"
	"github.com/mbd888/textsmith/internal/auth"
	"github.com/mbd888/textsmith/internal/billing"
	"github.com/mbd888/textsmith/internal/guard"
	"github.com/mbd888/textsmith/internal/ledger"
)

// Context keys set by the gate for downstream handlers.
const (
	ContextKeyCaller = "gate_caller"

	ctxKeyResult  = "gate_result"
	ctxKeyFailure = "gate_failure"
)

// Caller is the resolved identity of an authenticated request.
type Caller struct {
	Credential *auth.Credential
	Principal  *account.Principal
	Tenant     *account.Tenant // nil for solo principals
	Plan       *billing.Plan
	Session    *guard.Session // nil when session tracking failed
}

// TenantID returns the caller's tenant ID or "" for solo principals.
func (cl *Caller) TenantID() string {
	if cl.Tenant == nil {
		return ""
	}
	return cl.Tenant.ID
}

// GetCaller returns the resolved caller from the gin context.
func GetCaller(c *gin.Context) (*Caller, bool) {
	v, exists := c.Get(ContextKeyCaller)
	if !exists {
		return nil, false
	}
	caller, ok := v.(*Caller)
	return caller, ok
}

// EstimateFunc parses and validates the request payload, stashes
// whatever the handler needs on the context, and returns the
// caller-visible character count for the quota pre-check. Returning a
// *ValidationError produces a 400 before the rate and quota checks run.
type EstimateFunc func(c *gin.Context) (int64, error)

// ValidationError carries field-level messages for a 400 response.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %d field(s)", len(e.Fields))
}

// Invalid builds a single-field ValidationError.
func Invalid(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// result is what a handler reports through Succeed.
type result struct {
	fields gin.H
	chars  int64
}

// failure is what a handler reports through Fail.
type failure struct {
	status  int
	code    string
	message string
}

// Succeed records the handler's response fields and the actual
// processed character count. The gate commits usage and writes the
// response envelope after the handler returns; handlers must not write
// the response themselves.
func Succeed(c *gin.Context, fields gin.H, actualChars int64) {
	c.Set(ctxKeyResult, &result{fields: fields, chars: actualChars})
}

// Fail records a handler failure. The gate propagates the status and
// error without committing usage.
func Fail(c *gin.Context, status int, code, message string) {
	c.Set(ctxKeyFailure, &failure{status: status, code: code, message: message})
}

// EventSink receives quota milestone notifications after a commit
// lands: the first crossing of the warning threshold in a period, and
// the quota reaching its limit. The server fans these into webhooks and
// the realtime feed. A nil sink drops them.
type EventSink interface {
	UsageWarning(tenantID, principalID string, used, limit int64, plan string)
	QuotaExhausted(tenantID, principalID string, used, limit int64, plan string)
}

// Gate wires the pipeline's collaborators.
type Gate struct {
	auth       *auth.Manager
	accounts   *account.Service
	billing    *billing.Service
	guard      *guard.Service
	ledger     *ledger.Service
	recorder   *audit.Recorder
	events     EventSink
	upgradeURL string
	logger     *slog.Logger
}

// Deps are the collaborators a Gate needs.
type Deps struct {
	Auth       *auth.Manager
	Accounts   *account.Service
	Billing    *billing.Service
	Guard      *guard.Service
	Ledger     *ledger.Service
	Recorder   *audit.Recorder
	Events     EventSink // optional
	UpgradeURL string
	Logger     *slog.Logger
}

// New creates the gate.
func New(d Deps) *Gate {
	return &Gate{
		auth:       d.Auth,
		accounts:   d.Accounts,
		billing:    d.Billing,
		guard:      d.Guard,
		ledger:     d.Ledger,
		recorder:   d.Recorder,
		events:     d.Events,
		upgradeURL: d.UpgradeURL,
		logger:     d.Logger,
	}
}
