// Package audit is the append-only request log. Every request that
// enters the gate leaves exactly one entry here, whatever the outcome.
// There is no update or delete path.
package audit

import (
	"context"
	"time"
)

// Outcome is the terminal state a request reached.
const (
	OutcomeCommitted = "COMMITTED" // handler succeeded and usage landed
	OutcomeRejected  = "REJECTED"  // refused before the handler ran
	OutcomeError     = "ERROR"     // handler or infrastructure failure
)

// Entry is one request log record.
type Entry struct {
	ID           int64     `json:"id"`
	PrincipalID  string    `json:"principal_id,omitempty"`
	TenantID     string    `json:"tenant_id,omitempty"`
	Endpoint     string    `json:"endpoint"`
	Method       string    `json:"method"`
	StatusCode   int       `json:"status_code"`
	Outcome      string    `json:"outcome"`
	RejectReason string    `json:"reject_reason,omitempty"`
	CharCount    int64     `json:"character_count"`
	LatencyMS    int64     `json:"latency_ms"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Logger persists request log entries.
type Logger interface {
	Log(ctx context.Context, entry *Entry) error
}

// Query filters a request log listing. Zero fields are skipped.
type Query struct {
	PrincipalID string
	TenantID    string
	Outcome     string
	From        time.Time
	To          time.Time
	Limit       int    // default 50, max 200
	Cursor      string // opaque keyset cursor
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 200 {
		return 50
	}
	return q.Limit
}

// Querier pages through stored entries, newest first.
type Querier interface {
	Query(ctx context.Context, q Query) ([]*Entry, string, bool, error)
}

// Store is a Logger whose entries can be read back.
type Store interface {
	Logger
	Querier
}

// NopLogger drops everything. Used when auditing is disabled.
type NopLogger struct{}

func (NopLogger) Log(context.Context, *Entry) error { return nil }

func (NopLogger) Query(context.Context, Query) ([]*Entry, string, bool, error) {
	return nil, "", false, nil
}

var _ Store = NopLogger{}
