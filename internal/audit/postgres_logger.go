package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mbd888/textsmith/internal/pagination"
)

// PostgresLogger writes the request log to PostgreSQL.
type PostgresLogger struct {
	db *sql.DB
}

// NewPostgresLogger creates a request log backed by PostgreSQL.
func NewPostgresLogger(db *sql.DB) *PostgresLogger {
	return &PostgresLogger{db: db}
}

// Migrate creates the request_logs table. Used in dev and tests; prod
// schemas come from the migration files.
func (l *PostgresLogger) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS request_logs (
			id            BIGSERIAL PRIMARY KEY,
			principal_id  VARCHAR(64) NOT NULL DEFAULT '',
			tenant_id     VARCHAR(64) NOT NULL DEFAULT '',
			endpoint      TEXT NOT NULL,
			method        VARCHAR(8) NOT NULL,
			status_code   INT NOT NULL,
			outcome       VARCHAR(16) NOT NULL,
			reject_reason TEXT NOT NULL DEFAULT '',
			char_count    BIGINT NOT NULL DEFAULT 0,
			latency_ms    BIGINT NOT NULL DEFAULT 0,
			error_text    TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_request_logs_principal ON request_logs(principal_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_request_logs_tenant ON request_logs(tenant_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_request_logs_created ON request_logs(created_at DESC, id DESC);
	`)
	return err
}

func (l *PostgresLogger) Log(ctx context.Context, entry *Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return l.db.QueryRowContext(ctx, `
		INSERT INTO request_logs (principal_id, tenant_id, endpoint, method, status_code, outcome, reject_reason, char_count, latency_ms, error_text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, entry.PrincipalID, entry.TenantID, entry.Endpoint, entry.Method, entry.StatusCode,
		entry.Outcome, entry.RejectReason, entry.CharCount, entry.LatencyMS, entry.Error,
		entry.CreatedAt).Scan(&entry.ID)
}

func (l *PostgresLogger) Query(ctx context.Context, q Query) ([]*Entry, string, bool, error) {
	limit := q.limit()
	cursor, err := pagination.Decode(q.Cursor)
	if err != nil {
		return nil, "", false, err
	}

	var where []string
	var args []interface{}
	n := 1
	filter := func(cond string, val interface{}) {
		where = append(where, fmt.Sprintf(cond, n))
		args = append(args, val)
		n++
	}

	if q.PrincipalID != "" {
		filter("principal_id = $%d", q.PrincipalID)
	}
	if q.TenantID != "" {
		filter("tenant_id = $%d", q.TenantID)
	}
	if q.Outcome != "" {
		filter("outcome = $%d", q.Outcome)
	}
	if !q.From.IsZero() {
		filter("created_at >= $%d", q.From)
	}
	if !q.To.IsZero() {
		filter("created_at <= $%d", q.To)
	}
	if cursor != nil {
		cursorID, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return nil, "", false, fmt.Errorf("invalid cursor")
		}
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", n, n+1))
		args = append(args, cursor.CreatedAt, cursorID)
		n += 2
	}

	query := `SELECT id, principal_id, tenant_id, endpoint, method, status_code, outcome, reject_reason, char_count, latency_ms, error_text, created_at FROM request_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", n)
	args = append(args, limit+1)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", false, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.PrincipalID, &e.TenantID, &e.Endpoint, &e.Method,
			&e.StatusCode, &e.Outcome, &e.RejectReason, &e.CharCount, &e.LatencyMS,
			&e.Error, &e.CreatedAt); err != nil {
			return nil, "", false, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", false, err
	}

	page, next, more := pagination.ComputePage(entries, limit, entryKey)
	return page, next, more, nil
}

var _ Store = (*PostgresLogger)(nil)
