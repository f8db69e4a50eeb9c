package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/mbd888/textsmith/internal/idgen"
)

// Emitter is the fire-and-forget face of the dispatcher. Every method
// returns immediately; delivery runs in the background with its own
// deadline, detached from the request that triggered the event. A nil
// Emitter drops everything, so callers never guard the calls.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter wraps a dispatcher.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

func (e *Emitter) emit(tenantID string, eventType EventType, data map[string]any) {
	if e == nil || e.d == nil || tenantID == "" {
		return
	}
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		TenantID:  tenantID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.d.Dispatch(ctx, event); err != nil {
			e.logger.Warn("webhook emit failed", "event", eventType, "tenant", tenantID, "error", err)
		}
	}()
}

// UsageWarning reports the first crossing of the quota warning
// threshold in a billing period.
func (e *Emitter) UsageWarning(tenantID, principalID string, used, limit int64, plan string) {
	e.emit(tenantID, EventUsageWarning, map[string]any{
		"principal_id": principalID,
		"quota_used":   used,
		"quota_limit":  limit,
		"plan":         plan,
	})
}

// QuotaExhausted reports the monthly character quota reaching its limit.
func (e *Emitter) QuotaExhausted(tenantID, principalID string, used, limit int64, plan string) {
	e.emit(tenantID, EventQuotaExhausted, map[string]any{
		"principal_id": principalID,
		"quota_used":   used,
		"quota_limit":  limit,
		"plan":         plan,
	})
}

// AccountLocked reports a tenant temp-lock, manual or automatic.
func (e *Emitter) AccountLocked(tenantID, reason string, auto bool) {
	e.emit(tenantID, EventAccountLocked, map[string]any{
		"reason": reason,
		"auto":   auto,
	})
}

// AccountUnlocked reports a tenant temp-lock being cleared.
func (e *Emitter) AccountUnlocked(tenantID string) {
	e.emit(tenantID, EventAccountUnlocked, map[string]any{})
}
