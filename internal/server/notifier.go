package server

import (
	"context"

	"github.com/mbd888/textsmith/internal/guard"
	"github.com/mbd888/textsmith/internal/realtime"
	"github.com/mbd888/textsmith/internal/webhooks"
)

// fanoutNotifier forwards guard security events and gate quota
// milestones to both the realtime feed and tenant webhooks. It is the
// one place the event sinks meet, which keeps guard and gate free of
// webhook and websocket imports.
type fanoutNotifier struct {
	hub     *realtime.Hub
	emitter *webhooks.Emitter
}

var _ guard.Notifier = (*fanoutNotifier)(nil)

func (n *fanoutNotifier) SessionFlagged(_ context.Context, sess *guard.Session, active, limit int) {
	n.hub.PublishSecurity(realtime.TypeSessionFlagged, sess.TenantID, map[string]any{
		"session_id":      sess.ID,
		"principal_id":    sess.PrincipalID,
		"active_sessions": active,
		"session_cap":     limit,
	})
}

func (n *fanoutNotifier) TenantLocked(_ context.Context, tenantID, reason string, auto bool) {
	n.hub.PublishSecurity(realtime.TypeAccountLocked, tenantID, map[string]any{
		"reason": reason,
		"auto":   auto,
	})
	n.emitter.AccountLocked(tenantID, reason, auto)
}

func (n *fanoutNotifier) TenantUnlocked(_ context.Context, tenantID string) {
	n.hub.PublishSecurity(realtime.TypeAccountUnlocked, tenantID, nil)
	n.emitter.AccountUnlocked(tenantID)
}

func (n *fanoutNotifier) UsageWarning(tenantID, principalID string, used, limit int64, plan string) {
	n.hub.PublishUsage(realtime.TypeUsageWarning, tenantID, map[string]any{
		"principal_id": principalID,
		"quota_used":   used,
		"quota_limit":  limit,
		"plan":         plan,
	})
	n.emitter.UsageWarning(tenantID, principalID, used, limit, plan)
}

func (n *fanoutNotifier) QuotaExhausted(tenantID, principalID string, used, limit int64, plan string) {
	n.hub.PublishUsage(realtime.TypeQuotaExhausted, tenantID, map[string]any{
		"principal_id": principalID,
		"quota_used":   used,
		"quota_limit":  limit,
		"plan":         plan,
	})
	n.emitter.QuotaExhausted(tenantID, principalID, used, limit, plan)
}
