//go:build integration

package billing

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/mbd888/textsmith/internal/testutil"
)

func setupTestDB(t *testing.T) (*PostgresStore, *sql.DB, func()) {
	t.Helper()

	db, cleanup := testutil.PGTest(t)
	store := NewPostgresStore(db)

	return store, db, cleanup
}

func TestPostgresBilling_SeedIdempotent(t *testing.T) {
	store, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	// Seeding twice must not clobber administrative edits.
	plan, err := store.GetPlan(ctx, PlanPro)
	if err != nil {
		t.Fatalf("GetPlan failed: %v", err)
	}
	plan.CharLimit = 5000000
	if err := store.UpsertPlan(ctx, plan); err != nil {
		t.Fatalf("UpsertPlan failed: %v", err)
	}

	if err := store.SeedPlans(ctx); err != nil {
		t.Fatalf("Second seed failed: %v", err)
	}

	got, err := store.GetPlan(ctx, PlanPro)
	if err != nil {
		t.Fatalf("GetPlan after reseed failed: %v", err)
	}
	if got.CharLimit != 5000000 {
		t.Errorf("Expected admin edit to survive reseed, got char_limit %d", got.CharLimit)
	}
}

func TestPostgresBilling_Plans(t *testing.T) {
	store, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	plans, err := store.ListPlans(ctx)
	if err != nil {
		t.Fatalf("ListPlans failed: %v", err)
	}
	if len(plans) != 4 {
		t.Fatalf("Expected 4 seeded plans, got %d", len(plans))
	}
	// Ordered by price.
	if plans[0].Code != PlanFree || plans[3].Code != PlanEnterprise {
		t.Errorf("Expected price ordering FREE..ENTERPRISE, got %s..%s", plans[0].Code, plans[3].Code)
	}

	_, err = store.GetPlan(ctx, PlanCode("PREMIUM"))
	if !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("Expected ErrPlanNotFound, got %v", err)
	}
}

func TestPostgresBilling_SubscriptionLifecycle(t *testing.T) {
	store, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now()

	sub := &Subscription{
		ID:          "sub_pg1",
		TenantID:    "ten_pg1",
		PlanCode:    PlanPlus,
		PeriodStart: now,
		PeriodEnd:   now.AddDate(0, 1, 0),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}

	// Unique per tenant.
	dup := &Subscription{
		ID: "sub_pg2", TenantID: "ten_pg1", PlanCode: PlanPro,
		PeriodStart: now, PeriodEnd: now.AddDate(0, 1, 0),
		CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreateSubscription(ctx, dup); !errors.Is(err, ErrSubscriptionExists) {
		t.Errorf("Expected ErrSubscriptionExists, got %v", err)
	}

	got, err := store.GetSubscriptionByTenant(ctx, "ten_pg1")
	if err != nil {
		t.Fatalf("GetSubscriptionByTenant failed: %v", err)
	}
	if got.PlanCode != PlanPlus {
		t.Errorf("PlanCode: got %s, want PLUS", got.PlanCode)
	}

	got.Canceled = true
	got.UpdatedAt = time.Now()
	if err := store.UpdateSubscription(ctx, got); err != nil {
		t.Fatalf("UpdateSubscription failed: %v", err)
	}

	got2, _ := store.GetSubscriptionByTenant(ctx, "ten_pg1")
	if !got2.Canceled {
		t.Error("Expected subscription to be canceled")
	}

	err = store.UpdateSubscription(ctx, &Subscription{ID: "sub_x", TenantID: "ten_missing"})
	if !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("Expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestPostgresBilling_ChangePlanTx(t *testing.T) {
	store, db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now()

	db.ExecContext(ctx, `INSERT INTO principals (id, email, name, current_plan) VALUES ('usr_pg1', 'pg1@example.com', 'PG One', 'PLUS')`)

	sub := &Subscription{
		ID:          "sub_pgtx",
		TenantID:    "ten_pgtx",
		PlanCode:    PlanPlus,
		PeriodStart: now,
		PeriodEnd:   now.AddDate(0, 1, 0),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("CreateSubscription failed: %v", err)
	}

	got, err := store.ChangePlanTx(ctx, "ten_pgtx", "usr_pg1", PlanEnterprise)
	if err != nil {
		t.Fatalf("ChangePlanTx failed: %v", err)
	}
	if got.PlanCode != PlanEnterprise {
		t.Errorf("PlanCode: got %s, want ENTERPRISE", got.PlanCode)
	}

	// Both writes landed.
	var cached string
	if err := db.QueryRowContext(ctx, `SELECT current_plan FROM principals WHERE id = 'usr_pg1'`).Scan(&cached); err != nil {
		t.Fatalf("Read principal failed: %v", err)
	}
	if cached != "ENTERPRISE" {
		t.Errorf("current_plan: got %s, want ENTERPRISE", cached)
	}

	// Missing subscription rolls back cleanly.
	_, err = store.ChangePlanTx(ctx, "ten_absent", "usr_pg1", PlanPro)
	if !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("Expected ErrSubscriptionNotFound, got %v", err)
	}
}
