package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/textsmith/internal/billing"
	"github.com/mbd888/textsmith/internal/metrics"
	"github.com/mbd888/textsmith/internal/pagination"
)

// Notifier receives guard security events. The server wires an
// implementation that fans out to the realtime feed and webhooks.
type Notifier interface {
	SessionFlagged(ctx context.Context, sess *Session, active, limit int)
	TenantLocked(ctx context.Context, tenantID, reason string, auto bool)
	TenantUnlocked(ctx context.Context, tenantID string)
}

// Service applies the session policy and owns tenant security state.
type Service struct {
	store     Store
	notifier  Notifier
	window    time.Duration // how recently a session must be seen to count as active
	lockAfter int           // warnings before auto temp-lock; 0 disables
	logger    *slog.Logger
}

// NewService creates the guard. Call SetNotifier once the event sinks
// exist; a nil notifier drops events.
func NewService(store Store, window time.Duration, lockAfter int, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		window:    window,
		lockAfter: lockAfter,
		logger:    logger,
	}
}

// SetNotifier wires the security event sink.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// Store returns the underlying store.
func (s *Service) Store() Store {
	return s.store
}

// Observe registers the session a request presents and applies the
// concurrency policy. It never rejects the request: breaching the cap
// flags the new session, raises the tenant warning counter, and may
// temp-lock the tenant, all of which surface on later requests. The
// policy runs only when the session is new; refreshes just move
// last-seen.
func (s *Service) Observe(ctx context.Context, principalID, tenantID string, plan *billing.Plan, rawIP, userAgent string, now time.Time) (*Session, error) {
	ipHash := HashIP(rawIP)
	sess := &Session{
		ID:          SessionKey(principalID, ipHash, userAgent),
		PrincipalID: principalID,
		TenantID:    tenantID,
		IPHash:      ipHash,
		UserAgent:   userAgent,
		CreatedAt:   now,
		LastSeen:    now,
	}

	created, err := s.store.UpsertSession(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("guard: upsert session: %w", err)
	}
	if !created {
		return sess, nil
	}

	limit := plan.MaxConcurrentSessions
	if tenantID != "" {
		state, err := s.store.GetState(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("guard: load security state: %w", err)
		}
		if state.SessionCap > 0 {
			limit = state.SessionCap
		}
	}
	if limit <= 0 {
		return sess, nil
	}

	active, err := s.store.CountActive(ctx, tenantID, principalID, now.Add(-s.window))
	if err != nil {
		return nil, fmt.Errorf("guard: count active sessions: %w", err)
	}
	if active <= limit {
		return sess, nil
	}

	if err := s.store.FlagSession(ctx, sess.ID); err != nil {
		return nil, fmt.Errorf("guard: flag session: %w", err)
	}
	sess.Suspicious = true
	metrics.SessionsFlaggedTotal.Inc()
	s.logger.Warn("session cap exceeded",
		"principal", principalID,
		"tenant", tenantID,
		"active", active,
		"cap", limit,
	)
	if s.notifier != nil {
		s.notifier.SessionFlagged(ctx, sess, active, limit)
	}

	if tenantID == "" {
		return sess, nil
	}

	warnings, err := s.store.AddWarning(ctx, tenantID, "concurrent session cap exceeded", now)
	if err != nil {
		s.logger.Error("failed to record warning", "tenant", tenantID, "error", err)
		return sess, nil
	}
	if s.lockAfter > 0 && warnings >= s.lockAfter {
		reason := fmt.Sprintf("auto-locked after %d session cap warnings", warnings)
		if err := s.store.SetLock(ctx, tenantID, true, reason, now); err != nil {
			s.logger.Error("failed to auto-lock tenant", "tenant", tenantID, "error", err)
			return sess, nil
		}
		metrics.TenantsAutoLockedTotal.Inc()
		s.logger.Warn("tenant auto-locked", "tenant", tenantID, "warnings", warnings)
		if s.notifier != nil {
			s.notifier.TenantLocked(ctx, tenantID, reason, true)
		}
	}
	return sess, nil
}

// State returns the tenant's current security state.
func (s *Service) State(ctx context.Context, tenantID string) (*SecurityState, error) {
	return s.store.GetState(ctx, tenantID)
}

// Lock temp-locks a tenant. The gate rejects its principals with
// account_locked until Unlock.
func (s *Service) Lock(ctx context.Context, tenantID, reason string) error {
	if err := s.store.SetLock(ctx, tenantID, true, reason, time.Now()); err != nil {
		return fmt.Errorf("guard: lock tenant: %w", err)
	}
	s.logger.Info("tenant locked", "tenant", tenantID, "reason", reason)
	if s.notifier != nil {
		s.notifier.TenantLocked(ctx, tenantID, reason, false)
	}
	return nil
}

// Unlock clears a tenant's temp-lock and flag reason.
func (s *Service) Unlock(ctx context.Context, tenantID string) error {
	if err := s.store.SetLock(ctx, tenantID, false, "", time.Now()); err != nil {
		return fmt.Errorf("guard: unlock tenant: %w", err)
	}
	s.logger.Info("tenant unlocked", "tenant", tenantID)
	if s.notifier != nil {
		s.notifier.TenantUnlocked(ctx, tenantID)
	}
	return nil
}

// SetSessionCap sets the tenant's session cap override; 0 restores the
// plan default.
func (s *Service) SetSessionCap(ctx context.Context, tenantID string, limit int) error {
	if err := s.store.SetSessionCap(ctx, tenantID, limit, time.Now()); err != nil {
		return fmt.Errorf("guard: set session cap: %w", err)
	}
	return nil
}

// FlaggedSessions returns one page of suspicious sessions, newest
// first, with an opaque next-page cursor.
func (s *Service) FlaggedSessions(ctx context.Context, limit int, cursor string) ([]*Session, string, bool, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	items, err := s.store.ListFlagged(ctx, limit+1, WithCursor(cursor))
	if err != nil {
		return nil, "", false, fmt.Errorf("guard: list flagged sessions: %w", err)
	}
	page, next, more := pagination.ComputePage(items, limit, func(sess *Session) (time.Time, string) {
		return sess.CreatedAt, sess.ID
	})
	return page, next, more, nil
}

// SweepStale removes unflagged sessions idle past the activity window,
// with slack so a session cannot vanish while still countable.
func (s *Service) SweepStale(ctx context.Context) (int, error) {
	return s.store.SweepSessions(ctx, time.Now().Add(-2*s.window))
}
