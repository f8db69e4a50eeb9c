package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/mbd888/textsmith/internal/circuitbreaker"
	"github.com/mbd888/textsmith/internal/metrics"
)

const breakerKey = "audit"

// Recorder is the write path the gate uses. Audit problems must never
// surface to the caller: write errors are counted, logged, and
// swallowed, and a circuit breaker sheds writes while the store is
// down instead of adding its latency to every request.
type Recorder struct {
	store   Logger
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
	mirror  func(*Entry)
}

// NewRecorder wraps a Logger for use on the request path.
func NewRecorder(store Logger, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:   store,
		breaker: circuitbreaker.New(5, 30*time.Second),
		logger:  logger,
	}
}

// SetMirror registers a sink that receives a copy of every recorded
// entry, stored or not. The realtime feed hangs off this.
func (r *Recorder) SetMirror(fn func(*Entry)) {
	r.mirror = fn
}

// Record persists the entry. It never returns an error.
func (r *Recorder) Record(ctx context.Context, entry *Entry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	// The write must survive the request's own cancellation.
	ctx = context.WithoutCancel(ctx)

	err := r.breaker.Do(breakerKey, func() error {
		return r.store.Log(ctx, entry)
	})
	if err != nil {
		metrics.AuditWriteFailuresTotal.Inc()
		r.logger.Error("audit write failed",
			"error", err,
			"endpoint", entry.Endpoint,
			"principal", entry.PrincipalID,
			"outcome", entry.Outcome,
		)
	}

	if r.mirror != nil {
		cp := *entry
		r.mirror(&cp)
	}
}
