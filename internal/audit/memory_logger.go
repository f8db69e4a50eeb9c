package audit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/mbd888/textsmith/internal/pagination"
)

// MemoryLogger stores entries in memory for dev and testing.
type MemoryLogger struct {
	mu      sync.RWMutex
	entries []*Entry
	nextID  int64
}

// NewMemoryLogger creates an in-memory request log.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

func (l *MemoryLogger) Log(_ context.Context, entry *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	entry.ID = l.nextID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	cp := *entry
	l.entries = append(l.entries, &cp)
	return nil
}

func (l *MemoryLogger) Query(_ context.Context, q Query) ([]*Entry, string, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	limit := q.limit()
	cursor, err := pagination.Decode(q.Cursor)
	if err != nil {
		return nil, "", false, err
	}

	// Entries append in ID order; walk backwards for newest first.
	var result []*Entry
	for i := len(l.entries) - 1; i >= 0 && len(result) < limit+1; i-- {
		e := l.entries[i]
		if q.PrincipalID != "" && e.PrincipalID != q.PrincipalID {
			continue
		}
		if q.TenantID != "" && e.TenantID != q.TenantID {
			continue
		}
		if q.Outcome != "" && e.Outcome != q.Outcome {
			continue
		}
		if !q.From.IsZero() && e.CreatedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && e.CreatedAt.After(q.To) {
			continue
		}
		if cursor != nil && !beforeCursor(e, cursor) {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	page, next, more := pagination.ComputePage(result, limit, entryKey)
	return page, next, more, nil
}

// Entries returns all stored entries (for testing).
func (l *MemoryLogger) Entries() []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*Entry, len(l.entries))
	copy(result, l.entries)
	return result
}

func entryKey(e *Entry) (time.Time, string) {
	return e.CreatedAt, strconv.FormatInt(e.ID, 10)
}

// beforeCursor reports whether e sits strictly after the cursor in the
// (created_at DESC, id DESC) ordering.
func beforeCursor(e *Entry, c *pagination.Cursor) bool {
	cursorID, err := strconv.ParseInt(c.ID, 10, 64)
	if err != nil {
		cursorID = 0
	}
	if e.CreatedAt.Before(c.CreatedAt) {
		return true
	}
	return e.CreatedAt.Equal(c.CreatedAt) && e.ID < cursorID
}

var _ Store = (*MemoryLogger)(nil)
