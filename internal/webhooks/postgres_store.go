package webhooks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

// PostgresStore persists webhook endpoints in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed endpoint store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the webhook tables (used in dev/test; prod uses migration files).
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS webhook_endpoints (
			id                   TEXT PRIMARY KEY,
			tenant_id            TEXT NOT NULL,
			url                  TEXT NOT NULL,
			secret               TEXT NOT NULL,
			events               JSONB NOT NULL DEFAULT '[]',
			active               BOOLEAN NOT NULL DEFAULT TRUE,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_success         TIMESTAMPTZ,
			last_error           TEXT,
			consecutive_failures INT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_webhook_endpoints_tenant ON webhook_endpoints(tenant_id);
	`)
	return err
}

const endpointColumns = `id, tenant_id, url, secret, events, active, created_at,
	last_success, last_error, consecutive_failures`

func (p *PostgresStore) Create(ctx context.Context, ep *Endpoint) error {
	eventsJSON, err := json.Marshal(ep.Events)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO webhook_endpoints (id, tenant_id, url, secret, events, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ep.ID, ep.TenantID, ep.URL, ep.Secret, eventsJSON, ep.Active, ep.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Endpoint, error) {
	ep, err := scanEndpoint(p.db.QueryRowContext(ctx,
		`SELECT `+endpointColumns+` FROM webhook_endpoints WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEndpointNotFound
	}
	return ep, err
}

func (p *PostgresStore) ListByTenant(ctx context.Context, tenantID string) ([]*Endpoint, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+endpointColumns+` FROM webhook_endpoints
		 WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanEndpoints(rows)
}

func (p *PostgresStore) ListForEvent(ctx context.Context, tenantID string, t EventType) ([]*Endpoint, error) {
	// An empty events array means "all events".
	filter, _ := json.Marshal([]string{string(t)})
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+endpointColumns+` FROM webhook_endpoints
		 WHERE tenant_id = $1 AND active = TRUE
		   AND (events = '[]'::jsonb OR events @> $2::jsonb)`, tenantID, string(filter))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanEndpoints(rows)
}

func (p *PostgresStore) Update(ctx context.Context, ep *Endpoint) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE webhook_endpoints
		SET active = $1, last_success = $2, last_error = $3, consecutive_failures = $4
		WHERE id = $5`,
		ep.Active, ep.LastSuccess, nullIfEmpty(ep.LastError), ep.ConsecutiveFailures, ep.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrEndpointNotFound
	}
	return err
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM webhook_endpoints WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrEndpointNotFound
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEndpoint(row rowScanner) (*Endpoint, error) {
	ep := &Endpoint{}
	var eventsJSON []byte
	var lastSuccess sql.NullTime
	var lastError sql.NullString
	err := row.Scan(&ep.ID, &ep.TenantID, &ep.URL, &ep.Secret, &eventsJSON,
		&ep.Active, &ep.CreatedAt, &lastSuccess, &lastError, &ep.ConsecutiveFailures)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(eventsJSON, &ep.Events); err != nil {
		return nil, err
	}
	if lastSuccess.Valid {
		ep.LastSuccess = &lastSuccess.Time
	}
	ep.LastError = lastError.String
	return ep, nil
}

func scanEndpoints(rows *sql.Rows) ([]*Endpoint, error) {
	var out []*Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
