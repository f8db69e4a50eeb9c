package guard

import (
	"context"
	"time"

	"github.com/mbd888/textsmith/internal/pagination"
)

// ListOption configures optional parameters for list queries.
type ListOption func(*listOpts)

type listOpts struct {
	cursor *pagination.Cursor
}

func applyListOpts(opts []ListOption) listOpts {
	var o listOpts
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithCursor filters results to items after the given cursor position.
func WithCursor(cursor string) ListOption {
	return func(o *listOpts) {
		c, err := pagination.Decode(cursor)
		if err == nil {
			o.cursor = c
		}
	}
}

// Store persists sessions and security state.
type Store interface {
	// UpsertSession inserts the session or refreshes last-seen on an
	// existing row. The passed session is rewritten in place to match
	// the stored row, so created-at and the suspicious flag survive
	// refreshes. Returns true when the session is new.
	UpsertSession(ctx context.Context, s *Session) (bool, error)
	GetSession(ctx context.Context, id string) (*Session, error)

	// FlagSession marks a session suspicious. Flags are never cleared.
	FlagSession(ctx context.Context, id string) error

	// CountActive counts sessions seen since the given instant. The
	// scope is the tenant when tenantID is set, otherwise the principal.
	CountActive(ctx context.Context, tenantID, principalID string, since time.Time) (int, error)

	// ListFlagged returns suspicious sessions, newest first.
	ListFlagged(ctx context.Context, limit int, opts ...ListOption) ([]*Session, error)

	// SweepSessions deletes unflagged sessions last seen before the
	// cutoff. Flagged sessions are kept for review.
	SweepSessions(ctx context.Context, cutoff time.Time) (int, error)

	// GetState returns the tenant's security state; a missing row reads
	// as the zero state.
	GetState(ctx context.Context, tenantID string) (*SecurityState, error)
	SetLock(ctx context.Context, tenantID string, locked bool, reason string, now time.Time) error
	SetSessionCap(ctx context.Context, tenantID string, limit int, now time.Time) error

	// AddWarning increments the tenant's warning counter and returns
	// the new value.
	AddWarning(ctx context.Context, tenantID, reason string, now time.Time) (int, error)
}
