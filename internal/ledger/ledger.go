// Package ledger meters request usage against plan limits.
//
// Two windows govern every metered request:
//  1. An hourly request bucket, keyed by principal and UTC hour.
//  2. A monthly character quota, tracked on the principal row.
//
// Checks are read-only. Usage lands only through Commit, after the
// handler has produced a result, so a request that fails downstream
// of the checks costs the caller nothing.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/textsmith/internal/account"
	"github.com/mbd888/textsmith/internal/billing"
)

var ErrPrincipalNotFound = errors.New("ledger: principal not found")

// RateDecision is the outcome of an hourly rate check.
type RateDecision struct {
	Allowed    bool
	Count      int64 // requests already committed this hour
	Limit      int64 // plan requests per hour, 0 = unlimited
	RetryAfter int64 // seconds until the current bucket rolls over
}

// QuotaDecision is the outcome of a monthly character quota check.
type QuotaDecision struct {
	Allowed   bool
	Used      int64
	Limit     int64
	Estimated int64
}

// Service answers rate and quota checks and commits usage.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a metering service on the given store.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Store returns the underlying store.
func (s *Service) Store() Store {
	return s.store
}

// BucketStart truncates t to the UTC hour that buckets it. All bucket
// arithmetic happens in UTC so a request lands in the same bucket
// regardless of the server's local zone.
func BucketStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// CheckRate reports whether one more request fits in the current hour
// bucket. The check never mutates the bucket; Commit does that after
// the handler succeeds. Concurrent requests that pass the same check
// can therefore overshoot the limit by at most the number in flight.
func (s *Service) CheckRate(ctx context.Context, principalID string, plan *billing.Plan, now time.Time) (RateDecision, error) {
	start := BucketStart(now)
	count, err := s.store.BucketCount(ctx, principalID, start)
	if err != nil {
		return RateDecision{}, fmt.Errorf("ledger: read hour bucket: %w", err)
	}

	// Unlimited plans always pass, but the count still feeds usage
	// reporting.
	if plan.Unlimited() {
		return RateDecision{Allowed: true, Count: count}, nil
	}

	return RateDecision{
		Allowed:    count < plan.ReqPerHour,
		Count:      count,
		Limit:      plan.ReqPerHour,
		RetryAfter: secondsToRollover(start, now),
	}, nil
}

// CheckQuota reports whether the estimated characters fit in the
// principal's remaining monthly quota. Pure arithmetic on the already
// loaded principal; no storage round trip.
func (s *Service) CheckQuota(p *account.Principal, plan *billing.Plan, estimate int64) QuotaDecision {
	return QuotaDecision{
		Allowed:   p.MonthlyCharsUsed+estimate <= plan.CharLimit,
		Used:      p.MonthlyCharsUsed,
		Limit:     plan.CharLimit,
		Estimated: estimate,
	}
}

// Commit applies one request's usage: actual characters onto the
// monthly counters, one request onto the current hour bucket. Both
// land atomically or not at all.
func (s *Service) Commit(ctx context.Context, principalID string, actualChars int64, now time.Time) error {
	if err := s.store.Commit(ctx, principalID, actualChars, BucketStart(now)); err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return err
		}
		return fmt.Errorf("ledger: commit usage: %w", err)
	}
	return nil
}

// secondsToRollover returns whole seconds until the bucket ends,
// rounded up, never below 1. Callers surface it as a Retry-After.
func secondsToRollover(bucketStart, now time.Time) int64 {
	remaining := bucketStart.Add(time.Hour).Sub(now)
	secs := int64(remaining / time.Second)
	if remaining%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}
