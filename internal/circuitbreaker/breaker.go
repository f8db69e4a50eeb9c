// Package circuitbreaker provides a per-key circuit breaker with
// closed → open → half-open state transitions.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOpen is returned by Do when the circuit rejects the call without
// running it.
var ErrOpen = errors.New("circuitbreaker: open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal: calls flow through
	StateOpen                  // Tripped: calls are rejected
	StateHalfOpen              // Probing: one call allowed to test recovery
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var cbStateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "textsmith",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by key, from-state, and to-state.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(cbStateTransitions)
}

// keyState tracks per-key circuit state.
type keyState struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker is a per-key circuit breaker. Consecutive failures past the
// threshold trip the key open; after the cooldown one probe call is let
// through, and its outcome decides between closing and reopening.
type Breaker struct {
	mu        sync.Mutex
	keys      map[string]*keyState
	threshold int
	cooldown  time.Duration
}

// New creates a circuit breaker that opens a key after threshold
// consecutive failures and stays open for cooldown before probing.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		keys:      make(map[string]*keyState),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Do runs fn under the key's circuit. When the circuit is open it
// returns ErrOpen without running fn; otherwise fn's error is recorded
// and returned as-is.
func (b *Breaker) Do(key string, fn func() error) error {
	if !b.allow(key) {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.recordFailure(key)
		return err
	}
	b.recordSuccess(key)
	return nil
}

// State returns the current state for a key. Unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	k, ok := b.keys[key]
	if !ok {
		return StateClosed
	}
	return k.state
}

func (b *Breaker) allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	k, ok := b.keys[key]
	if !ok {
		return true
	}

	switch k.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(k.lastFailure) >= b.cooldown {
			b.transition(k, key, StateHalfOpen)
			return true // one probe
		}
		return false
	case StateHalfOpen:
		return false // probe already in flight
	default:
		return true
	}
}

func (b *Breaker) recordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	k, ok := b.keys[key]
	if !ok {
		return
	}
	if k.state == StateHalfOpen {
		b.transition(k, key, StateClosed)
	}
	k.failures = 0
}

func (b *Breaker) recordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	k, ok := b.keys[key]
	if !ok {
		k = &keyState{state: StateClosed}
		b.keys[key] = k
	}

	k.failures++
	k.lastFailure = time.Now()

	if k.state == StateHalfOpen {
		// Probe failed, back to open.
		b.transition(k, key, StateOpen)
		return
	}
	if k.state == StateClosed && k.failures >= b.threshold {
		b.transition(k, key, StateOpen)
	}
}

// transition changes state. Caller must hold b.mu.
func (b *Breaker) transition(k *keyState, key string, to State) {
	from := k.state
	if from == to {
		return
	}
	k.state = to
	cbStateTransitions.WithLabelValues(key, from.String(), to.String()).Inc()
}
