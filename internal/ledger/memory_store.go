package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mbd888/textsmith/internal/account"
)

// UsageWriter is the slice of the account store the memory ledger
// needs to land monthly counters. Both account store implementations
// satisfy it.
type UsageWriter interface {
	AddUsage(ctx context.Context, principalID string, chars, requests int64) error
}

type bucketKey struct {
	principalID string
	start       time.Time
}

// key normalizes the bucket start so map equality holds regardless of
// the caller's zone or monotonic clock reading.
func key(principalID string, start time.Time) bucketKey {
	return bucketKey{principalID, BucketStart(start)}
}

// MemoryStore implements Store for demo and testing. Hour buckets live
// in a local map; monthly counters are delegated to the account store.
type MemoryStore struct {
	usage UsageWriter

	mu      sync.RWMutex
	buckets map[bucketKey]int64
}

// NewMemoryStore creates an in-memory ledger store writing monthly
// counters through the given usage writer.
func NewMemoryStore(usage UsageWriter) *MemoryStore {
	return &MemoryStore{
		usage:   usage,
		buckets: make(map[bucketKey]int64),
	}
}

func (m *MemoryStore) BucketCount(_ context.Context, principalID string, bucketStart time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.buckets[key(principalID, bucketStart)], nil
}

// Commit writes the monthly counters first; the bucket increment
// cannot fail, so a successful counter write means the commit landed.
func (m *MemoryStore) Commit(ctx context.Context, principalID string, chars int64, bucketStart time.Time) error {
	if err := m.usage.AddUsage(ctx, principalID, chars, 1); err != nil {
		if errors.Is(err, account.ErrPrincipalNotFound) {
			return ErrPrincipalNotFound
		}
		return fmt.Errorf("add usage: %w", err)
	}

	m.mu.Lock()
	m.buckets[key(principalID, bucketStart)]++
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) SweepExpired(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key := range m.buckets {
		if key.start.Before(cutoff) {
			delete(m.buckets, key)
			removed++
		}
	}
	return removed, nil
}

// size returns the number of live buckets. For tests.
func (m *MemoryStore) size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.buckets)
}

var _ Store = (*MemoryStore)(nil)
