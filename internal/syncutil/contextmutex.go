// Package syncutil provides keyed locking primitives shared by the
// stores. The billing service serializes subscription writes per tenant
// with a context-aware sharded mutex so a slow database write cannot
// wedge callers past their deadline.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

// ContextShardedMutex is a fixed pool of channel-based mutexes keyed by
// string. Memory stays bounded no matter how many keys are seen, at the
// cost of occasional false sharing between keys that hash to the same
// shard. Waiters can bail out when their context is cancelled.
type ContextShardedMutex struct {
	shards [256]chanMutex
	once   sync.Once
}

// chanMutex is a mutex implemented via a buffered channel, allowing
// select{} against a context cancellation channel.
type chanMutex struct {
	ch chan struct{}
}

// NewContextShardedMutex creates a new context-aware sharded mutex.
func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{}
	m.init()
	return m
}

func (m *ContextShardedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i].ch = make(chan struct{}, 1)
			m.shards[i].ch <- struct{}{} // start unlocked
		}
	})
}

// LockContext acquires the mutex for the given key, respecting context
// cancellation. On success it returns an unlock function the caller
// MUST invoke when done. On cancellation it returns the context error
// and no lock is held.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	m.init()
	shard := &m.shards[m.shardIdx(key)]

	select {
	case <-shard.ch:
		return func() { shard.ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *ContextShardedMutex) shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % 256
}
