package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	plans := DefaultCatalog()
	require.Len(t, plans, 4)

	byCode := make(map[PlanCode]*Plan, len(plans))
	for _, p := range plans {
		byCode[p.Code] = p
	}

	free := byCode[PlanFree]
	require.NotNil(t, free)
	assert.Equal(t, int64(0), free.PriceCents)
	assert.Equal(t, int64(10000), free.CharLimit)
	assert.Equal(t, int64(10), free.ReqPerHour)
	assert.Equal(t, 1, free.MaxSeats)
	assert.Equal(t, 2, free.MaxConcurrentSessions)

	plus := byCode[PlanPlus]
	require.NotNil(t, plus)
	assert.Equal(t, int64(999), plus.PriceCents)
	assert.Equal(t, int64(100000), plus.CharLimit)
	assert.Equal(t, int64(100), plus.ReqPerHour)

	pro := byCode[PlanPro]
	require.NotNil(t, pro)
	assert.Equal(t, int64(2999), pro.PriceCents)
	assert.Equal(t, int64(1000000), pro.CharLimit)
	assert.Equal(t, int64(1000), pro.ReqPerHour)
	assert.Equal(t, 5, pro.MaxSeats)
	assert.Equal(t, 8, pro.MaxConcurrentSessions)
	assert.True(t, pro.TeamMembers)
	assert.True(t, pro.PrioritySupport)
	assert.False(t, pro.SLA)

	ent := byCode[PlanEnterprise]
	require.NotNil(t, ent)
	assert.Equal(t, int64(9999), ent.PriceCents)
	assert.Equal(t, int64(10000000), ent.CharLimit)
	assert.Equal(t, int64(10000), ent.ReqPerHour)
	assert.Equal(t, 20, ent.MaxSeats)
	assert.Equal(t, 40, ent.MaxConcurrentSessions)
	assert.True(t, ent.SLA)
}

func TestValidPlanCode(t *testing.T) {
	assert.True(t, ValidPlanCode(PlanFree))
	assert.True(t, ValidPlanCode(PlanPlus))
	assert.True(t, ValidPlanCode(PlanPro))
	assert.True(t, ValidPlanCode(PlanEnterprise))
	assert.False(t, ValidPlanCode(PlanCode("PREMIUM")))
	assert.False(t, ValidPlanCode(PlanCode("")))
}

func TestPlanFeatures(t *testing.T) {
	plans := DefaultCatalog()
	byCode := make(map[PlanCode]*Plan, len(plans))
	for _, p := range plans {
		byCode[p.Code] = p
	}

	f := byCode[PlanFree].Features()
	assert.True(t, f["extractive"])
	assert.False(t, f["abstractive"])
	assert.False(t, f["hybrid"])

	f = byCode[PlanPlus].Features()
	assert.True(t, f["abstractive"])
	assert.False(t, f["hybrid"])

	f = byCode[PlanPro].Features()
	assert.True(t, f["hybrid"])
	assert.True(t, f["team_members"])

	f = byCode[PlanEnterprise].Features()
	assert.True(t, f["hybrid"])
	assert.True(t, f["sla"])
}

func TestPlanUnlimited(t *testing.T) {
	p := &Plan{Code: PlanPro, ReqPerHour: 1000}
	assert.False(t, p.Unlimited())

	p.ReqPerHour = 0
	assert.True(t, p.Unlimited())
}

func TestSubscriptionIsActiveAt(t *testing.T) {
	now := time.Now()
	sub := &Subscription{
		PlanCode:    PlanPro,
		PeriodStart: now.AddDate(0, 0, -10),
		PeriodEnd:   now.AddDate(0, 0, 20),
	}

	assert.True(t, sub.IsActiveAt(now))

	// Expired period.
	assert.False(t, sub.IsActiveAt(now.AddDate(0, 0, 21)))

	// Canceled subscriptions are never active, even inside the period.
	sub.Canceled = true
	assert.False(t, sub.IsActiveAt(now))
}

func TestSubscriptionDaysRemaining(t *testing.T) {
	now := time.Now()
	sub := &Subscription{PeriodEnd: now.Add(72 * time.Hour)}
	assert.Equal(t, 3, sub.DaysRemainingAt(now))

	sub.PeriodEnd = now.Add(-time.Hour)
	assert.Equal(t, 0, sub.DaysRemainingAt(now))
}

func TestMemoryStore_Plans(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	// Seeded with the default catalog.
	plans, err := store.ListPlans(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 4)

	p, err := store.GetPlan(ctx, PlanPro)
	require.NoError(t, err)
	assert.Equal(t, int64(1000000), p.CharLimit)

	_, err = store.GetPlan(ctx, PlanCode("PREMIUM"))
	assert.ErrorIs(t, err, ErrPlanNotFound)

	// Upsert overrides limits.
	p.CharLimit = 2000000
	require.NoError(t, store.UpsertPlan(ctx, p))
	got, err := store.GetPlan(ctx, PlanPro)
	require.NoError(t, err)
	assert.Equal(t, int64(2000000), got.CharLimit)
}

func TestMemoryStore_PlanCopyOnRead(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	p, err := store.GetPlan(ctx, PlanFree)
	require.NoError(t, err)
	p.CharLimit = 999

	again, err := store.GetPlan(ctx, PlanFree)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), again.CharLimit)
}

func TestMemoryStore_Subscriptions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	sub := &Subscription{
		ID:          "sub_1",
		TenantID:    "ten_1",
		PlanCode:    PlanPlus,
		PeriodStart: now,
		PeriodEnd:   now.AddDate(0, 1, 0),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, store.CreateSubscription(ctx, sub))

	// One subscription per tenant.
	err := store.CreateSubscription(ctx, &Subscription{ID: "sub_2", TenantID: "ten_1", PlanCode: PlanPro})
	assert.ErrorIs(t, err, ErrSubscriptionExists)

	got, err := store.GetSubscriptionByTenant(ctx, "ten_1")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", got.ID)
	assert.Equal(t, PlanPlus, got.PlanCode)

	_, err = store.GetSubscriptionByTenant(ctx, "ten_other")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)

	got.PlanCode = PlanPro
	require.NoError(t, store.UpdateSubscription(ctx, got))
	got2, _ := store.GetSubscriptionByTenant(ctx, "ten_1")
	assert.Equal(t, PlanPro, got2.PlanCode)

	err = store.UpdateSubscription(ctx, &Subscription{ID: "sub_x", TenantID: "ten_x"})
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}
