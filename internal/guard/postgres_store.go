package guard

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed guard store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the guard tables. Used in dev and tests; prod schemas
// come from the migration files.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id            VARCHAR(80) PRIMARY KEY,
			principal_id  VARCHAR(64) NOT NULL,
			tenant_id     VARCHAR(64) NOT NULL DEFAULT '',
			ip_hash       VARCHAR(64) NOT NULL,
			user_agent    TEXT NOT NULL DEFAULT '',
			suspicious    BOOLEAN NOT NULL DEFAULT FALSE,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_seen     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_tenant_seen ON sessions(tenant_id, last_seen);
		CREATE INDEX IF NOT EXISTS idx_sessions_principal_seen ON sessions(principal_id, last_seen);
		CREATE INDEX IF NOT EXISTS idx_sessions_suspicious ON sessions(suspicious, created_at DESC);

		CREATE TABLE IF NOT EXISTS security_states (
			tenant_id    VARCHAR(64) PRIMARY KEY,
			temp_locked  BOOLEAN NOT NULL DEFAULT FALSE,
			session_cap  INT NOT NULL DEFAULT 0,
			flag_reason  TEXT NOT NULL DEFAULT '',
			warnings     INT NOT NULL DEFAULT 0,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

func (p *PostgresStore) UpsertSession(ctx context.Context, s *Session) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		UPDATE sessions SET last_seen = $2 WHERE id = $1
		RETURNING suspicious, created_at
	`, s.ID, s.LastSeen)
	switch err := row.Scan(&s.Suspicious, &s.CreatedAt); err {
	case nil:
		return false, tx.Commit()
	case sql.ErrNoRows:
	default:
		return false, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, principal_id, tenant_id, ip_hash, user_agent, suspicious, created_at, last_seen)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7)
		ON CONFLICT (id) DO UPDATE SET last_seen = EXCLUDED.last_seen
	`, s.ID, s.PrincipalID, s.TenantID, s.IPHash, s.UserAgent, s.CreatedAt, s.LastSeen)
	if err != nil {
		return false, fmt.Errorf("insert session: %w", err)
	}
	return true, tx.Commit()
}

func (p *PostgresStore) GetSession(ctx context.Context, id string) (*Session, error) {
	s, err := scanSession(p.db.QueryRowContext(ctx, `
		SELECT id, principal_id, tenant_id, ip_hash, user_agent, suspicious, created_at, last_seen
		FROM sessions WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	return s, err
}

func (p *PostgresStore) FlagSession(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE sessions SET suspicious = TRUE WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (p *PostgresStore) CountActive(ctx context.Context, tenantID, principalID string, since time.Time) (int, error) {
	var count int
	var err error
	if tenantID != "" {
		err = p.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM sessions WHERE tenant_id = $1 AND last_seen >= $2
		`, tenantID, since).Scan(&count)
	} else {
		err = p.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM sessions WHERE principal_id = $1 AND last_seen >= $2
		`, principalID, since).Scan(&count)
	}
	return count, err
}

func (p *PostgresStore) ListFlagged(ctx context.Context, limit int, opts ...ListOption) ([]*Session, error) {
	o := applyListOpts(opts)

	var rows *sql.Rows
	var err error
	if o.cursor != nil {
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, principal_id, tenant_id, ip_hash, user_agent, suspicious, created_at, last_seen
			FROM sessions
			WHERE suspicious = TRUE AND (created_at, id) < ($1, $2)
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		`, o.cursor.CreatedAt, o.cursor.ID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, principal_id, tenant_id, ip_hash, user_agent, suspicious, created_at, last_seen
			FROM sessions
			WHERE suspicious = TRUE
			ORDER BY created_at DESC, id DESC
			LIMIT $1
		`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s := &Session{}
		if err := rows.Scan(&s.ID, &s.PrincipalID, &s.TenantID, &s.IPHash, &s.UserAgent, &s.Suspicious, &s.CreatedAt, &s.LastSeen); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (p *PostgresStore) SweepSessions(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := p.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE suspicious = FALSE AND last_seen < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func (p *PostgresStore) GetState(ctx context.Context, tenantID string) (*SecurityState, error) {
	st := &SecurityState{}
	err := p.db.QueryRowContext(ctx, `
		SELECT tenant_id, temp_locked, session_cap, flag_reason, warnings, updated_at
		FROM security_states WHERE tenant_id = $1
	`, tenantID).Scan(&st.TenantID, &st.TempLocked, &st.SessionCap, &st.FlagReason, &st.Warnings, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return &SecurityState{TenantID: tenantID}, nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (p *PostgresStore) SetLock(ctx context.Context, tenantID string, locked bool, reason string, now time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO security_states (tenant_id, temp_locked, flag_reason, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id) DO UPDATE SET
			temp_locked = EXCLUDED.temp_locked,
			flag_reason = EXCLUDED.flag_reason,
			updated_at  = EXCLUDED.updated_at
	`, tenantID, locked, reason, now)
	return err
}

func (p *PostgresStore) SetSessionCap(ctx context.Context, tenantID string, limit int, now time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO security_states (tenant_id, session_cap, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id) DO UPDATE SET
			session_cap = EXCLUDED.session_cap,
			updated_at  = EXCLUDED.updated_at
	`, tenantID, limit, now)
	return err
}

func (p *PostgresStore) AddWarning(ctx context.Context, tenantID, reason string, now time.Time) (int, error) {
	var warnings int
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO security_states (tenant_id, warnings, flag_reason, updated_at)
		VALUES ($1, 1, $2, $3)
		ON CONFLICT (tenant_id) DO UPDATE SET
			warnings    = security_states.warnings + 1,
			flag_reason = EXCLUDED.flag_reason,
			updated_at  = EXCLUDED.updated_at
		RETURNING warnings
	`, tenantID, reason, now).Scan(&warnings)
	return warnings, err
}

func scanSession(row *sql.Row) (*Session, error) {
	s := &Session{}
	err := row.Scan(&s.ID, &s.PrincipalID, &s.TenantID, &s.IPHash, &s.UserAgent, &s.Suspicious, &s.CreatedAt, &s.LastSeen)
	if err != nil {
		return nil, err
	}
	return s, nil
}

var _ Store = (*PostgresStore)(nil)
