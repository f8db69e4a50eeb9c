package billing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists plans and subscriptions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed billing store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the billing tables (used in dev/test; prod uses migration files).
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS plans (
			code                    TEXT PRIMARY KEY,
			name                    TEXT NOT NULL,
			price_cents             BIGINT NOT NULL DEFAULT 0,
			char_limit              BIGINT NOT NULL,
			req_per_hour            BIGINT NOT NULL,
			max_seats               INT NOT NULL DEFAULT 1,
			max_concurrent_sessions INT NOT NULL DEFAULT 2,
			team_members            BOOLEAN NOT NULL DEFAULT FALSE,
			priority_support        BOOLEAN NOT NULL DEFAULT FALSE,
			sla                     BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS subscriptions (
			id           TEXT PRIMARY KEY,
			tenant_id    TEXT NOT NULL UNIQUE,
			plan_code    TEXT NOT NULL REFERENCES plans(code),
			period_start TIMESTAMPTZ NOT NULL,
			period_end   TIMESTAMPTZ NOT NULL,
			trial        BOOLEAN NOT NULL DEFAULT FALSE,
			canceled     BOOLEAN NOT NULL DEFAULT FALSE,
			provider_ref TEXT,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_plan ON subscriptions(plan_code);
	`)
	return err
}

// SeedPlans inserts any catalog plans missing from the reference table.
// Existing rows are left untouched so administrative updates survive restarts.
func (p *PostgresStore) SeedPlans(ctx context.Context) error {
	for _, plan := range DefaultCatalog() {
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO plans (code, name, price_cents, char_limit, req_per_hour,
				max_seats, max_concurrent_sessions, team_members, priority_support, sla, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
			ON CONFLICT (code) DO NOTHING`,
			string(plan.Code), plan.Name, plan.PriceCents, plan.CharLimit, plan.ReqPerHour,
			plan.MaxSeats, plan.MaxConcurrentSessions, plan.TeamMembers, plan.PrioritySupport, plan.SLA,
		)
		if err != nil {
			return fmt.Errorf("seed plan %s: %w", plan.Code, err)
		}
	}
	return nil
}

func (p *PostgresStore) GetPlan(ctx context.Context, code PlanCode) (*Plan, error) {
	return scanPlan(p.db.QueryRowContext(ctx, `
		SELECT code, name, price_cents, char_limit, req_per_hour,
			max_seats, max_concurrent_sessions, team_members, priority_support, sla, updated_at
		FROM plans WHERE code = $1`, string(code)))
}

func (p *PostgresStore) ListPlans(ctx context.Context) ([]*Plan, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT code, name, price_cents, char_limit, req_per_hour,
			max_seats, max_concurrent_sessions, team_members, priority_support, sla, updated_at
		FROM plans ORDER BY price_cents`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var plans []*Plan
	for rows.Next() {
		plan := &Plan{}
		var code string
		if err := rows.Scan(&code, &plan.Name, &plan.PriceCents, &plan.CharLimit, &plan.ReqPerHour,
			&plan.MaxSeats, &plan.MaxConcurrentSessions, &plan.TeamMembers, &plan.PrioritySupport,
			&plan.SLA, &plan.UpdatedAt); err != nil {
			return nil, err
		}
		plan.Code = PlanCode(code)
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

func (p *PostgresStore) UpsertPlan(ctx context.Context, plan *Plan) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO plans (code, name, price_cents, char_limit, req_per_hour,
			max_seats, max_concurrent_sessions, team_members, priority_support, sla, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			price_cents = EXCLUDED.price_cents,
			char_limit = EXCLUDED.char_limit,
			req_per_hour = EXCLUDED.req_per_hour,
			max_seats = EXCLUDED.max_seats,
			max_concurrent_sessions = EXCLUDED.max_concurrent_sessions,
			team_members = EXCLUDED.team_members,
			priority_support = EXCLUDED.priority_support,
			sla = EXCLUDED.sla,
			updated_at = EXCLUDED.updated_at`,
		string(plan.Code), plan.Name, plan.PriceCents, plan.CharLimit, plan.ReqPerHour,
		plan.MaxSeats, plan.MaxConcurrentSessions, plan.TeamMembers, plan.PrioritySupport,
		plan.SLA, time.Now(),
	)
	return err
}

func (p *PostgresStore) CreateSubscription(ctx context.Context, s *Subscription) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, tenant_id, plan_code, period_start, period_end,
			trial, canceled, provider_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.TenantID, string(s.PlanCode), s.PeriodStart, s.PeriodEnd,
		s.Trial, s.Canceled, s.ProviderRef, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrSubscriptionExists
		}
		return err
	}
	return nil
}

func (p *PostgresStore) GetSubscriptionByTenant(ctx context.Context, tenantID string) (*Subscription, error) {
	return scanSubscription(p.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, plan_code, period_start, period_end,
			trial, canceled, provider_ref, created_at, updated_at
		FROM subscriptions WHERE tenant_id = $1`, tenantID))
}

func (p *PostgresStore) UpdateSubscription(ctx context.Context, s *Subscription) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE subscriptions SET plan_code = $1, period_start = $2, period_end = $3,
			trial = $4, canceled = $5, provider_ref = $6, updated_at = $7
		WHERE tenant_id = $8`,
		string(s.PlanCode), s.PeriodStart, s.PeriodEnd,
		s.Trial, s.Canceled, s.ProviderRef, s.UpdatedAt, s.TenantID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// ChangePlanTx updates the subscription's plan and the owner principal's
// cached current_plan in a single transaction. The cache write is a hard
// consistency requirement, not an eventual one.
func (p *PostgresStore) ChangePlanTx(ctx context.Context, tenantID, ownerPrincipalID string, code PlanCode) (*Subscription, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE subscriptions SET plan_code = $1, updated_at = NOW()
		WHERE tenant_id = $2`,
		string(code), tenantID,
	)
	if err != nil {
		return nil, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrSubscriptionNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE principals SET current_plan = $1, updated_at = NOW()
		WHERE id = $2`,
		string(code), ownerPrincipalID,
	); err != nil {
		return nil, err
	}

	sub, err := scanSubscription(tx.QueryRowContext(ctx, `
		SELECT id, tenant_id, plan_code, period_start, period_end,
			trial, canceled, provider_ref, created_at, updated_at
		FROM subscriptions WHERE tenant_id = $1`, tenantID))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sub, nil
}

func scanPlan(row *sql.Row) (*Plan, error) {
	plan := &Plan{}
	var code string
	err := row.Scan(&code, &plan.Name, &plan.PriceCents, &plan.CharLimit, &plan.ReqPerHour,
		&plan.MaxSeats, &plan.MaxConcurrentSessions, &plan.TeamMembers, &plan.PrioritySupport,
		&plan.SLA, &plan.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	plan.Code = PlanCode(code)
	return plan, nil
}

func scanSubscription(row *sql.Row) (*Subscription, error) {
	s := &Subscription{}
	var code string
	var providerRef sql.NullString
	err := row.Scan(&s.ID, &s.TenantID, &code, &s.PeriodStart, &s.PeriodEnd,
		&s.Trial, &s.Canceled, &providerRef, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	s.PlanCode = PlanCode(code)
	if providerRef.Valid {
		s.ProviderRef = providerRef.String
	}
	return s, nil
}

var (
	_ Store         = (*PostgresStore)(nil)
	_ TxPlanChanger = (*PostgresStore)(nil)
)
