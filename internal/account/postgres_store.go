package account

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/mbd888/textsmith/internal/billing"
)

// PostgresStore persists principals, tenants, and memberships in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed account store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the account tables (used in dev/test; prod uses migration files).
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS principals (
			id                    TEXT PRIMARY KEY,
			email                 TEXT NOT NULL UNIQUE,
			name                  TEXT NOT NULL,
			current_plan          TEXT NOT NULL DEFAULT 'FREE',
			monthly_chars_used    BIGINT NOT NULL DEFAULT 0,
			monthly_requests_used BIGINT NOT NULL DEFAULT 0,
			staff                 BOOLEAN NOT NULL DEFAULT FALSE,
			active                BOOLEAN NOT NULL DEFAULT TRUE,
			created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS tenants (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			owner_id   TEXT NOT NULL,
			active     BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_tenants_owner ON tenants(owner_id);
		CREATE TABLE IF NOT EXISTS memberships (
			id           TEXT PRIMARY KEY,
			tenant_id    TEXT NOT NULL,
			principal_id TEXT NOT NULL,
			role         TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (tenant_id, principal_id)
		);
		CREATE INDEX IF NOT EXISTS idx_memberships_principal ON memberships(principal_id);
	`)
	return err
}

func (p *PostgresStore) CreatePrincipal(ctx context.Context, pr *Principal) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO principals (id, email, name, current_plan, monthly_chars_used,
			monthly_requests_used, staff, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		pr.ID, pr.Email, pr.Name, string(pr.CurrentPlan), pr.MonthlyCharsUsed,
		pr.MonthlyRequestsUsed, pr.Staff, pr.Active, pr.CreatedAt, pr.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

func (p *PostgresStore) GetPrincipal(ctx context.Context, id string) (*Principal, error) {
	return scanPrincipal(p.db.QueryRowContext(ctx, `
		SELECT id, email, name, current_plan, monthly_chars_used,
			monthly_requests_used, staff, active, created_at, updated_at
		FROM principals WHERE id = $1`, id))
}

func (p *PostgresStore) GetPrincipalByEmail(ctx context.Context, email string) (*Principal, error) {
	return scanPrincipal(p.db.QueryRowContext(ctx, `
		SELECT id, email, name, current_plan, monthly_chars_used,
			monthly_requests_used, staff, active, created_at, updated_at
		FROM principals WHERE LOWER(email) = LOWER($1)`, email))
}

func (p *PostgresStore) UpdatePrincipal(ctx context.Context, pr *Principal) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE principals SET email = $1, name = $2, current_plan = $3,
			monthly_chars_used = $4, monthly_requests_used = $5,
			staff = $6, active = $7, updated_at = $8
		WHERE id = $9`,
		pr.Email, pr.Name, string(pr.CurrentPlan), pr.MonthlyCharsUsed,
		pr.MonthlyRequestsUsed, pr.Staff, pr.Active, pr.UpdatedAt, pr.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(result, ErrPrincipalNotFound)
}

func (p *PostgresStore) ListPrincipals(ctx context.Context, limit, offset int) ([]*Principal, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, email, name, current_plan, monthly_chars_used,
			monthly_requests_used, staff, active, created_at, updated_at
		FROM principals ORDER BY created_at LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Principal
	for rows.Next() {
		pr := &Principal{}
		var plan string
		if err := rows.Scan(&pr.ID, &pr.Email, &pr.Name, &plan, &pr.MonthlyCharsUsed,
			&pr.MonthlyRequestsUsed, &pr.Staff, &pr.Active, &pr.CreatedAt, &pr.UpdatedAt); err != nil {
			return nil, err
		}
		pr.CurrentPlan = billing.PlanCode(plan)
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SetCurrentPlan(ctx context.Context, principalID string, code billing.PlanCode) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE principals SET current_plan = $1, updated_at = NOW() WHERE id = $2`,
		string(code), principalID,
	)
	if err != nil {
		return err
	}
	return requireRow(result, ErrPrincipalNotFound)
}

func (p *PostgresStore) AddUsage(ctx context.Context, principalID string, chars, requests int64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE principals SET
			monthly_chars_used = monthly_chars_used + $1,
			monthly_requests_used = monthly_requests_used + $2,
			updated_at = NOW()
		WHERE id = $3`,
		chars, requests, principalID,
	)
	if err != nil {
		return err
	}
	return requireRow(result, ErrPrincipalNotFound)
}

func (p *PostgresStore) ResetUsage(ctx context.Context, principalID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE principals SET monthly_chars_used = 0, monthly_requests_used = 0,
			updated_at = NOW()
		WHERE id = $1`, principalID,
	)
	if err != nil {
		return err
	}
	return requireRow(result, ErrPrincipalNotFound)
}

func (p *PostgresStore) CreateTenant(ctx context.Context, t *Tenant) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, owner_id, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.Name, t.OwnerID, t.Active, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	return scanTenant(p.db.QueryRowContext(ctx, `
		SELECT id, name, owner_id, active, created_at, updated_at
		FROM tenants WHERE id = $1`, id))
}

func (p *PostgresStore) GetTenantByOwner(ctx context.Context, ownerID string) (*Tenant, error) {
	return scanTenant(p.db.QueryRowContext(ctx, `
		SELECT id, name, owner_id, active, created_at, updated_at
		FROM tenants WHERE owner_id = $1 ORDER BY created_at LIMIT 1`, ownerID))
}

func (p *PostgresStore) UpdateTenant(ctx context.Context, t *Tenant) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE tenants SET name = $1, owner_id = $2, active = $3, updated_at = $4
		WHERE id = $5`,
		t.Name, t.OwnerID, t.Active, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(result, ErrTenantNotFound)
}

func (p *PostgresStore) CreateMembership(ctx context.Context, m *Membership) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO memberships (id, tenant_id, principal_id, role, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.TenantID, m.PrincipalID, string(m.Role), m.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrMembershipExists
		}
		return err
	}
	return nil
}

func (p *PostgresStore) DeleteMembership(ctx context.Context, tenantID, principalID string) error {
	result, err := p.db.ExecContext(ctx, `
		DELETE FROM memberships WHERE tenant_id = $1 AND principal_id = $2`,
		tenantID, principalID,
	)
	if err != nil {
		return err
	}
	return requireRow(result, ErrMembershipNotFound)
}

func (p *PostgresStore) ListMembershipsByTenant(ctx context.Context, tenantID string) ([]*Membership, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant_id, principal_id, role, created_at
		FROM memberships WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectMemberships(rows)
}

func (p *PostgresStore) ListMembershipsByPrincipal(ctx context.Context, principalID string) ([]*Membership, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant_id, principal_id, role, created_at
		FROM memberships WHERE principal_id = $1 ORDER BY created_at`, principalID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectMemberships(rows)
}

func (p *PostgresStore) CountMembers(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memberships WHERE tenant_id = $1`, tenantID).Scan(&count)
	return count, err
}

func scanPrincipal(row *sql.Row) (*Principal, error) {
	pr := &Principal{}
	var plan string
	err := row.Scan(&pr.ID, &pr.Email, &pr.Name, &plan, &pr.MonthlyCharsUsed,
		&pr.MonthlyRequestsUsed, &pr.Staff, &pr.Active, &pr.CreatedAt, &pr.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPrincipalNotFound
	}
	if err != nil {
		return nil, err
	}
	pr.CurrentPlan = billing.PlanCode(plan)
	return pr, nil
}

func scanTenant(row *sql.Row) (*Tenant, error) {
	t := &Tenant{}
	err := row.Scan(&t.ID, &t.Name, &t.OwnerID, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func collectMemberships(rows *sql.Rows) ([]*Membership, error) {
	var out []*Membership
	for rows.Next() {
		m := &Membership{}
		var role string
		if err := rows.Scan(&m.ID, &m.TenantID, &m.PrincipalID, &role, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

func requireRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
