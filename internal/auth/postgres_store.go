package auth

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists API credentials in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed credential store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create stores a new credential.
func (p *PostgresStore) Create(ctx context.Context, c *Credential) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO api_credentials (id, hash, principal_id, label, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.Hash, c.PrincipalID, c.Label, c.Active, c.CreatedAt)
	return err
}

// GetByHash retrieves an active credential by its hash.
func (p *PostgresStore) GetByHash(ctx context.Context, hash string) (*Credential, error) {
	c := &Credential{}
	var lastUsed sql.NullTime

	err := p.db.QueryRowContext(ctx, `
		SELECT id, hash, principal_id, label, active, created_at, last_used
		FROM api_credentials WHERE hash = $1 AND active = TRUE
	`, hash).Scan(
		&c.ID, &c.Hash, &c.PrincipalID, &c.Label, &c.Active, &c.CreatedAt, &lastUsed,
	)
	if err == sql.ErrNoRows {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, err
	}

	if lastUsed.Valid {
		c.LastUsed = lastUsed.Time
	}
	return c, nil
}

// GetByPrincipal retrieves all credentials for a principal.
func (p *PostgresStore) GetByPrincipal(ctx context.Context, principalID string) ([]*Credential, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, hash, principal_id, label, active, created_at, last_used
		FROM api_credentials WHERE principal_id = $1 ORDER BY created_at DESC
	`, principalID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var creds []*Credential
	for rows.Next() {
		c := &Credential{}
		var lastUsed sql.NullTime

		if err := rows.Scan(
			&c.ID, &c.Hash, &c.PrincipalID, &c.Label, &c.Active, &c.CreatedAt, &lastUsed,
		); err != nil {
			return nil, err
		}

		if lastUsed.Valid {
			c.LastUsed = lastUsed.Time
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// Update persists active-flag changes (revocation).
func (p *PostgresStore) Update(ctx context.Context, c *Credential) error {
	lastUsed := sql.NullTime{Time: c.LastUsed, Valid: !c.LastUsed.IsZero()}
	result, err := p.db.ExecContext(ctx, `
		UPDATE api_credentials SET last_used = $1, active = $2 WHERE id = $3
	`, lastUsed, c.Active, c.ID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// TouchLastUsed updates only the last-used timestamp. The active flag is
// left alone so a touch landing after a revocation cannot undo it.
func (p *PostgresStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE api_credentials SET last_used = $1 WHERE id = $2
	`, at, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// Migrate creates the api_credentials table (used in dev/test; prod uses migration files).
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS api_credentials (
			id           TEXT PRIMARY KEY,
			hash         TEXT NOT NULL UNIQUE,
			principal_id TEXT NOT NULL,
			label        TEXT,
			active       BOOLEAN NOT NULL DEFAULT TRUE,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_used    TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_api_credentials_hash ON api_credentials(hash);
		CREATE INDEX IF NOT EXISTS idx_api_credentials_principal ON api_credentials(principal_id);
	`)
	return err
}

var _ Store = (*PostgresStore)(nil)
