package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mbd888/textsmith/internal/account"
	"github.com/mbd888/textsmith/internal/billing"
)

func testPlan(reqPerHour, charLimit int64) *billing.Plan {
	return &billing.Plan{
		Code:       billing.PlanFree,
		ReqPerHour: reqPerHour,
		CharLimit:  charLimit,
	}
}

func newTestLedger(t *testing.T) (*Service, *account.MemoryStore, *account.Principal) {
	t.Helper()
	accounts := account.NewMemoryStore()
	p := &account.Principal{
		ID:     "prn_meter",
		Email:  "meter@example.com",
		Name:   "Meter",
		Active: true,
	}
	if err := accounts.CreatePrincipal(context.Background(), p); err != nil {
		t.Fatalf("create principal: %v", err)
	}
	return NewService(NewMemoryStore(accounts), slog.Default()), accounts, p
}

func TestBucketStart(t *testing.T) {
	// 14:45 at UTC-5 is 19:45 UTC; the bucket starts at 19:00 UTC.
	local := time.Date(2026, 1, 15, 14, 45, 12, 0, time.FixedZone("EST", -5*3600))
	got := BucketStart(local)
	want := time.Date(2026, 1, 15, 19, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("BucketStart = %v, want %v", got, want)
	}
	if got.Location() != time.UTC {
		t.Errorf("bucket start location = %v, want UTC", got.Location())
	}
}

func TestCheckRate(t *testing.T) {
	svc, _, p := newTestLedger(t)
	ctx := context.Background()
	plan := testPlan(3, 10000)
	now := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		d, err := svc.CheckRate(ctx, p.ID, plan, now)
		if err != nil {
			t.Fatalf("CheckRate: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed (count=%d)", i+1, d.Count)
		}
		if err := svc.Commit(ctx, p.ID, 10, now); err != nil {
			t.Fatalf("Commit: %v", err)
		}
	}

	d, err := svc.CheckRate(ctx, p.ID, plan, now)
	if err != nil {
		t.Fatalf("CheckRate: %v", err)
	}
	if d.Allowed {
		t.Error("4th request should be blocked at limit 3")
	}
	if d.Count != 3 {
		t.Errorf("count = %d, want 3", d.Count)
	}
	if d.Limit != 3 {
		t.Errorf("limit = %d, want 3", d.Limit)
	}
	// 30 minutes left in the bucket.
	if d.RetryAfter != 1800 {
		t.Errorf("retry after = %d, want 1800", d.RetryAfter)
	}
}

func TestCheckRate_NewBucketEachHour(t *testing.T) {
	svc, _, p := newTestLedger(t)
	ctx := context.Background()
	plan := testPlan(1, 10000)
	now := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)

	if err := svc.Commit(ctx, p.ID, 10, now); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	d, _ := svc.CheckRate(ctx, p.ID, plan, now)
	if d.Allowed {
		t.Error("should be blocked within the same hour")
	}

	later := now.Add(2 * time.Minute) // crosses into the 11:00 bucket
	d, _ = svc.CheckRate(ctx, p.ID, plan, later)
	if !d.Allowed {
		t.Error("new hour should open a fresh bucket")
	}
	if d.Count != 0 {
		t.Errorf("fresh bucket count = %d, want 0", d.Count)
	}
}

func TestCheckRate_UnlimitedPlan(t *testing.T) {
	svc, _, p := newTestLedger(t)
	ctx := context.Background()
	plan := testPlan(0, 10000)
	now := time.Now()

	for i := 0; i < 50; i++ {
		if err := svc.Commit(ctx, p.ID, 1, now); err != nil {
			t.Fatalf("Commit: %v", err)
		}
	}

	d, err := svc.CheckRate(ctx, p.ID, plan, now)
	if err != nil {
		t.Fatalf("CheckRate: %v", err)
	}
	if !d.Allowed {
		t.Error("unlimited plan should never be rate blocked")
	}
	// The hour count is still reported for usage_status.
	if d.Count != 50 {
		t.Errorf("expected count 50 on unlimited plan, got %d", d.Count)
	}
}

func TestCheckRate_RetryAfterRoundsUp(t *testing.T) {
	svc, _, p := newTestLedger(t)
	plan := testPlan(1, 10000)

	// 300ms before rollover still reports a full second.
	now := time.Date(2026, 3, 1, 10, 59, 59, 700_000_000, time.UTC)
	d, err := svc.CheckRate(context.Background(), p.ID, plan, now)
	if err != nil {
		t.Fatalf("CheckRate: %v", err)
	}
	if d.RetryAfter != 1 {
		t.Errorf("retry after = %d, want 1", d.RetryAfter)
	}
}

func TestCheckQuota(t *testing.T) {
	svc, _, _ := newTestLedger(t)
	plan := testPlan(10, 10000)

	tests := []struct {
		name     string
		used     int64
		estimate int64
		allowed  bool
	}{
		{"well under", 0, 500, true},
		{"exact fit", 9990, 10, true},
		{"one over", 9990, 11, false},
		{"typical rejection", 9990, 20, false},
		{"already exhausted", 10000, 1, false},
		{"zero estimate at limit", 10000, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &account.Principal{ID: "prn_q", MonthlyCharsUsed: tt.used}
			d := svc.CheckQuota(p, plan, tt.estimate)
			if d.Allowed != tt.allowed {
				t.Errorf("allowed = %v, want %v (used=%d estimate=%d limit=%d)",
					d.Allowed, tt.allowed, tt.used, tt.estimate, plan.CharLimit)
			}
			if d.Used != tt.used {
				t.Errorf("used = %d, want %d", d.Used, tt.used)
			}
			if d.Limit != 10000 {
				t.Errorf("limit = %d, want 10000", d.Limit)
			}
		})
	}
}

func TestCommit(t *testing.T) {
	svc, accounts, p := newTestLedger(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

	if err := svc.Commit(ctx, p.ID, 1250, now); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := svc.Commit(ctx, p.ID, 750, now); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := accounts.GetPrincipal(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPrincipal: %v", err)
	}
	if got.MonthlyCharsUsed != 2000 {
		t.Errorf("monthly chars = %d, want 2000", got.MonthlyCharsUsed)
	}
	if got.MonthlyRequestsUsed != 2 {
		t.Errorf("monthly requests = %d, want 2", got.MonthlyRequestsUsed)
	}

	count, err := svc.Store().BucketCount(ctx, p.ID, BucketStart(now))
	if err != nil {
		t.Fatalf("BucketCount: %v", err)
	}
	if count != 2 {
		t.Errorf("bucket count = %d, want 2", count)
	}
}

func TestCommit_MissingPrincipal(t *testing.T) {
	svc, _, _ := newTestLedger(t)

	err := svc.Commit(context.Background(), "prn_ghost", 100, time.Now())
	if !errors.Is(err, ErrPrincipalNotFound) {
		t.Errorf("err = %v, want ErrPrincipalNotFound", err)
	}
}

// Concurrent requests race the non-mutating check, so admissions may
// overshoot the limit by at most the in-flight count minus one. They
// must never exceed that bound, and commits must never be lost.
func TestConcurrentCommits_OvershootBounded(t *testing.T) {
	svc, accounts, p := newTestLedger(t)
	ctx := context.Background()
	plan := testPlan(10, 1_000_000)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	const inflight = 25
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int64
	)
	for i := 0; i < inflight; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := svc.CheckRate(ctx, p.ID, plan, now)
			if err != nil || !d.Allowed {
				return
			}
			if err := svc.Commit(ctx, p.ID, 5, now); err != nil {
				t.Errorf("Commit: %v", err)
				return
			}
			mu.Lock()
			admitted++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if admitted < plan.ReqPerHour {
		t.Errorf("admitted = %d, want at least the limit %d", admitted, plan.ReqPerHour)
	}
	if bound := plan.ReqPerHour + inflight - 1; admitted > bound {
		t.Errorf("admitted = %d, exceeds overshoot bound %d", admitted, bound)
	}

	got, _ := accounts.GetPrincipal(ctx, p.ID)
	if got.MonthlyRequestsUsed != admitted {
		t.Errorf("monthly requests = %d, want %d (no lost commits)", got.MonthlyRequestsUsed, admitted)
	}
	count, _ := svc.Store().BucketCount(ctx, p.ID, now)
	if count != admitted {
		t.Errorf("bucket count = %d, want %d", count, admitted)
	}
}

// Sequential requests see every prior commit, so admissions stop
// exactly at the limit.
func TestSequentialRequests_ExactLimit(t *testing.T) {
	svc, _, p := newTestLedger(t)
	ctx := context.Background()
	plan := testPlan(10, 1_000_000)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	admitted := 0
	for i := 0; i < 15; i++ {
		d, err := svc.CheckRate(ctx, p.ID, plan, now)
		if err != nil {
			t.Fatalf("CheckRate: %v", err)
		}
		if !d.Allowed {
			continue
		}
		if err := svc.Commit(ctx, p.ID, 1, now); err != nil {
			t.Fatalf("Commit: %v", err)
		}
		admitted++
	}

	if admitted != 10 {
		t.Errorf("admitted = %d, want exactly 10", admitted)
	}
}

func TestSweepExpired(t *testing.T) {
	svc, _, p := newTestLedger(t)
	ctx := context.Background()
	store := svc.Store().(*MemoryStore)

	old := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	current := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)

	if err := svc.Commit(ctx, p.ID, 1, old); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := svc.Commit(ctx, p.ID, 1, current); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if store.size() != 2 {
		t.Fatalf("buckets = %d, want 2", store.size())
	}

	removed, err := store.SweepExpired(ctx, current.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if store.size() != 1 {
		t.Errorf("buckets = %d, want 1", store.size())
	}

	count, _ := store.BucketCount(ctx, p.ID, BucketStart(current))
	if count != 1 {
		t.Errorf("current bucket survived sweep with count %d, want 1", count)
	}
}

func TestSweeper(t *testing.T) {
	svc, _, p := newTestLedger(t)
	ctx := context.Background()
	store := svc.Store().(*MemoryStore)

	if err := svc.Commit(ctx, p.ID, 1, time.Now().Add(-5*time.Hour)); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	sweeper := NewSweeper(store, slog.Default())
	sweeper.sweep(ctx)

	if store.size() != 0 {
		t.Errorf("buckets = %d, want 0 after sweep", store.size())
	}
}

func TestSweeperStartStop(t *testing.T) {
	svc, _, _ := newTestLedger(t)
	sweeper := NewSweeper(svc.Store(), slog.Default())

	done := make(chan struct{})
	go func() {
		sweeper.Start(context.Background())
		close(done)
	}()

	// Wait for the loop to report running.
	deadline := time.After(time.Second)
	for !sweeper.Running() {
		select {
		case <-deadline:
			t.Fatal("sweeper never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	sweeper.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
