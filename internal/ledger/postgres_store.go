package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore implements Store with PostgreSQL. Commit touches the
// principals table owned by the account package; both rows move in one
// transaction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the hour bucket table. Used in dev and tests; prod
// schemas come from the migration files.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS hour_buckets (
			principal_id  VARCHAR(64) NOT NULL,
			bucket_start  TIMESTAMPTZ NOT NULL,
			requests      BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (principal_id, bucket_start)
		);

		CREATE INDEX IF NOT EXISTS idx_hour_buckets_start ON hour_buckets(bucket_start);
	`)
	return err
}

func (p *PostgresStore) BucketCount(ctx context.Context, principalID string, bucketStart time.Time) (int64, error) {
	var count int64
	err := p.db.QueryRowContext(ctx, `
		SELECT requests FROM hour_buckets
		WHERE principal_id = $1 AND bucket_start = $2
	`, principalID, BucketStart(bucketStart)).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Commit adds usage to the principal's monthly counters and increments
// the hour bucket in a single transaction. Both increments are blind
// adds, so no explicit row locking is needed.
func (p *PostgresStore) Commit(ctx context.Context, principalID string, chars int64, bucketStart time.Time) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE principals SET
			monthly_chars_used    = monthly_chars_used + $2,
			monthly_requests_used = monthly_requests_used + 1,
			updated_at            = NOW()
		WHERE id = $1
	`, principalID, chars)
	if err != nil {
		return fmt.Errorf("update monthly counters: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrPrincipalNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO hour_buckets (principal_id, bucket_start, requests)
		VALUES ($1, $2, 1)
		ON CONFLICT (principal_id, bucket_start) DO UPDATE SET
			requests = hour_buckets.requests + 1
	`, principalID, BucketStart(bucketStart))
	if err != nil {
		return fmt.Errorf("increment hour bucket: %w", err)
	}

	return tx.Commit()
}

func (p *PostgresStore) SweepExpired(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := p.db.ExecContext(ctx, `
		DELETE FROM hour_buckets WHERE bucket_start < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

var _ Store = (*PostgresStore)(nil)
