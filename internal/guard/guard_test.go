package guard

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/textsmith/internal/billing"
)

// fakeNotifier records guard events for assertions.
type fakeNotifier struct {
	flagged  []string // session IDs
	locked   []string // tenant IDs
	autoLock []bool
	unlocked []string
}

func (f *fakeNotifier) SessionFlagged(_ context.Context, sess *Session, _, _ int) {
	f.flagged = append(f.flagged, sess.ID)
}

func (f *fakeNotifier) TenantLocked(_ context.Context, tenantID, _ string, auto bool) {
	f.locked = append(f.locked, tenantID)
	f.autoLock = append(f.autoLock, auto)
}

func (f *fakeNotifier) TenantUnlocked(_ context.Context, tenantID string) {
	f.unlocked = append(f.unlocked, tenantID)
}

func newTestGuard(lockAfter int) (*Service, *MemoryStore, *fakeNotifier) {
	store := NewMemoryStore()
	svc := NewService(store, 24*time.Hour, lockAfter, slog.Default())
	n := &fakeNotifier{}
	svc.SetNotifier(n)
	return svc, store, n
}

func capPlan(sessions int) *billing.Plan {
	return &billing.Plan{Code: billing.PlanPlus, MaxConcurrentSessions: sessions}
}

func TestHashIP(t *testing.T) {
	h1 := HashIP("203.0.113.7")
	h2 := HashIP("203.0.113.7")
	h3 := HashIP("203.0.113.8")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.NotContains(t, h1, "203.0.113.7")
	assert.Len(t, h1, 64)
}

func TestSessionKey(t *testing.T) {
	k1 := SessionKey("usr_1", HashIP("203.0.113.7"), "curl/8.0")
	k2 := SessionKey("usr_1", HashIP("203.0.113.7"), "curl/8.0")
	k3 := SessionKey("usr_1", HashIP("203.0.113.7"), "curl/8.1")
	k4 := SessionKey("usr_2", HashIP("203.0.113.7"), "curl/8.0")

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.NotEqual(t, k1, k4)
	assert.Contains(t, k1, "sess_")
}

func TestObserve_CreatesAndRefreshes(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestGuard(0)
	now := time.Now()

	first, err := svc.Observe(ctx, "usr_1", "tnt_1", capPlan(2), "203.0.113.7", "curl/8.0", now)
	require.NoError(t, err)

	// Same principal, IP, and agent is the same session seen again.
	later := now.Add(10 * time.Minute)
	second, err := svc.Observe(ctx, "usr_1", "tnt_1", capPlan(2), "203.0.113.7", "curl/8.0", later)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	stored, err := store.GetSession(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, stored.CreatedAt.Equal(now), "refresh must not move created_at")
	assert.True(t, stored.LastSeen.Equal(later))

	count, err := store.CountActive(ctx, "tnt_1", "usr_1", now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestObserve_FlagsOverCap(t *testing.T) {
	ctx := context.Background()
	svc, store, n := newTestGuard(0)
	now := time.Now()

	s1, err := svc.Observe(ctx, "usr_1", "tnt_1", capPlan(2), "203.0.113.1", "curl/8.0", now)
	require.NoError(t, err)
	s2, err := svc.Observe(ctx, "usr_1", "tnt_1", capPlan(2), "203.0.113.2", "curl/8.0", now)
	require.NoError(t, err)
	assert.False(t, s1.Suspicious)
	assert.False(t, s2.Suspicious)
	assert.Empty(t, n.flagged)

	// Third distinct session breaches the cap of 2.
	s3, err := svc.Observe(ctx, "usr_1", "tnt_1", capPlan(2), "203.0.113.3", "curl/8.0", now)
	require.NoError(t, err)
	assert.True(t, s3.Suspicious)
	assert.Equal(t, []string{s3.ID}, n.flagged)

	// The earlier sessions stay clean; only the breaching one is flagged.
	stored1, err := store.GetSession(ctx, s1.ID)
	require.NoError(t, err)
	assert.False(t, stored1.Suspicious)

	state, err := svc.State(ctx, "tnt_1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.Warnings)
	assert.False(t, state.TempLocked)
}

func TestObserve_CapOverrideBeatsPlan(t *testing.T) {
	ctx := context.Background()
	svc, _, n := newTestGuard(0)
	now := time.Now()

	// The plan allows 8, but the tenant is clamped to 1.
	require.NoError(t, svc.SetSessionCap(ctx, "tnt_1", 1))

	_, err := svc.Observe(ctx, "usr_1", "tnt_1", capPlan(8), "203.0.113.1", "curl/8.0", now)
	require.NoError(t, err)
	s2, err := svc.Observe(ctx, "usr_1", "tnt_1", capPlan(8), "203.0.113.2", "curl/8.0", now)
	require.NoError(t, err)

	assert.True(t, s2.Suspicious)
	assert.Len(t, n.flagged, 1)
}

func TestObserve_AutoLock(t *testing.T) {
	ctx := context.Background()
	svc, _, n := newTestGuard(2)
	now := time.Now()

	plan := capPlan(1)
	for i := 0; i < 3; i++ {
		ip := fmt.Sprintf("203.0.113.%d", i+1)
		_, err := svc.Observe(ctx, "usr_1", "tnt_1", plan, ip, "curl/8.0", now)
		require.NoError(t, err)
	}

	// Sessions 2 and 3 each breached the cap; the second warning trips
	// the auto-lock.
	state, err := svc.State(ctx, "tnt_1")
	require.NoError(t, err)
	assert.Equal(t, 2, state.Warnings)
	assert.True(t, state.TempLocked)
	assert.Contains(t, state.FlagReason, "auto-locked")

	require.Len(t, n.locked, 1)
	assert.Equal(t, "tnt_1", n.locked[0])
	assert.True(t, n.autoLock[0])
}

func TestObserve_AutoLockDisabled(t *testing.T) {
	ctx := context.Background()
	svc, _, n := newTestGuard(0)
	now := time.Now()

	plan := capPlan(1)
	for i := 0; i < 5; i++ {
		ip := fmt.Sprintf("203.0.113.%d", i+1)
		_, err := svc.Observe(ctx, "usr_1", "tnt_1", plan, ip, "curl/8.0", now)
		require.NoError(t, err)
	}

	state, err := svc.State(ctx, "tnt_1")
	require.NoError(t, err)
	assert.Equal(t, 4, state.Warnings)
	assert.False(t, state.TempLocked)
	assert.Empty(t, n.locked)
}

func TestObserve_NoTenant(t *testing.T) {
	ctx := context.Background()
	svc, _, n := newTestGuard(1)
	now := time.Now()

	plan := capPlan(1)
	_, err := svc.Observe(ctx, "usr_1", "", plan, "203.0.113.1", "curl/8.0", now)
	require.NoError(t, err)
	s2, err := svc.Observe(ctx, "usr_1", "", plan, "203.0.113.2", "curl/8.0", now)
	require.NoError(t, err)

	// Solo principals get flagged but there is no tenant to warn or lock.
	assert.True(t, s2.Suspicious)
	assert.Len(t, n.flagged, 1)
	assert.Empty(t, n.locked)
}

func TestObserve_RefreshDoesNotRecheck(t *testing.T) {
	ctx := context.Background()
	svc, _, n := newTestGuard(0)
	now := time.Now()

	plan := capPlan(1)
	_, err := svc.Observe(ctx, "usr_1", "tnt_1", plan, "203.0.113.1", "curl/8.0", now)
	require.NoError(t, err)
	_, err = svc.Observe(ctx, "usr_1", "tnt_1", plan, "203.0.113.2", "curl/8.0", now)
	require.NoError(t, err)
	require.Len(t, n.flagged, 1)

	// Re-presenting the flagged session refreshes it without another
	// warning.
	_, err = svc.Observe(ctx, "usr_1", "tnt_1", plan, "203.0.113.2", "curl/8.0", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, n.flagged, 1)

	state, err := svc.State(ctx, "tnt_1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.Warnings)
}

func TestObserve_ActivityWindow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store, time.Hour, 0, slog.Default())
	now := time.Now()

	plan := capPlan(1)
	_, err := svc.Observe(ctx, "usr_1", "tnt_1", plan, "203.0.113.1", "curl/8.0", now.Add(-2*time.Hour))
	require.NoError(t, err)

	// The old session fell out of the activity window, so the new one
	// does not breach the cap.
	s2, err := svc.Observe(ctx, "usr_1", "tnt_1", plan, "203.0.113.2", "curl/8.0", now)
	require.NoError(t, err)
	assert.False(t, s2.Suspicious)
}

func TestLockUnlock(t *testing.T) {
	ctx := context.Background()
	svc, _, n := newTestGuard(0)

	require.NoError(t, svc.Lock(ctx, "tnt_1", "abuse report"))
	state, err := svc.State(ctx, "tnt_1")
	require.NoError(t, err)
	assert.True(t, state.TempLocked)
	assert.Equal(t, "abuse report", state.FlagReason)
	require.Len(t, n.locked, 1)
	assert.False(t, n.autoLock[0])

	require.NoError(t, svc.Unlock(ctx, "tnt_1"))
	state, err = svc.State(ctx, "tnt_1")
	require.NoError(t, err)
	assert.False(t, state.TempLocked)
	assert.Empty(t, state.FlagReason)
	assert.Equal(t, []string{"tnt_1"}, n.unlocked)
}

func TestState_Unknown(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestGuard(0)

	state, err := svc.State(ctx, "tnt_unknown")
	require.NoError(t, err)
	assert.False(t, state.TempLocked)
	assert.Zero(t, state.Warnings)
	assert.Zero(t, state.SessionCap)
}

func TestFlaggedSessions_Pagination(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestGuard(0)
	base := time.Now()

	for i := 0; i < 5; i++ {
		sess := &Session{
			ID:          fmt.Sprintf("sess_%02d", i),
			PrincipalID: "usr_1",
			TenantID:    "tnt_1",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
			LastSeen:    base.Add(time.Duration(i) * time.Minute),
		}
		_, err := store.UpsertSession(ctx, sess)
		require.NoError(t, err)
		require.NoError(t, store.FlagSession(ctx, sess.ID))
	}

	page1, cursor, more, err := svc.FlaggedSessions(ctx, 2, "")
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.True(t, more)
	assert.Equal(t, "sess_04", page1[0].ID)
	assert.Equal(t, "sess_03", page1[1].ID)

	page2, cursor, more, err := svc.FlaggedSessions(ctx, 2, cursor)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.True(t, more)
	assert.Equal(t, "sess_02", page2[0].ID)
	assert.Equal(t, "sess_01", page2[1].ID)

	page3, cursor, more, err := svc.FlaggedSessions(ctx, 2, cursor)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.False(t, more)
	assert.Empty(t, cursor)
	assert.Equal(t, "sess_00", page3[0].ID)
}

func TestSweepStale(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store, time.Hour, 0, slog.Default())
	old := time.Now().Add(-3 * time.Hour)

	stale := &Session{ID: "sess_stale", PrincipalID: "usr_1", CreatedAt: old, LastSeen: old}
	flagged := &Session{ID: "sess_flagged", PrincipalID: "usr_1", CreatedAt: old, LastSeen: old}
	_, err := store.UpsertSession(ctx, stale)
	require.NoError(t, err)
	_, err = store.UpsertSession(ctx, flagged)
	require.NoError(t, err)
	require.NoError(t, store.FlagSession(ctx, "sess_flagged"))

	removed, err := svc.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.GetSession(ctx, "sess_stale")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Flagged sessions survive the sweep for review.
	kept, err := store.GetSession(ctx, "sess_flagged")
	require.NoError(t, err)
	assert.True(t, kept.Suspicious)
}
