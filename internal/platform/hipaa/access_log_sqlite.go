package hipaa

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// sqliteTime sorts lexically in the same order as the instants it encodes.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

const sqliteAccessSchema = `
CREATE TABLE IF NOT EXISTS phi_access_log (
    id          TEXT PRIMARY KEY,
    accessed_at TEXT NOT NULL,
    user_id     TEXT NOT NULL DEFAULT '',
    user_roles  TEXT NOT NULL DEFAULT '',
    action      TEXT NOT NULL,
    resource    TEXT NOT NULL,
    search_id   TEXT NOT NULL DEFAULT '',
    member_id   TEXT NOT NULL DEFAULT '',
    method      TEXT NOT NULL,
    path        TEXT NOT NULL,
    status_code INTEGER NOT NULL,
    ip_address  TEXT NOT NULL DEFAULT '',
    user_agent  TEXT NOT NULL DEFAULT '',
    request_id  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_phi_access_log_accessed_at ON phi_access_log (accessed_at);
CREATE INDEX IF NOT EXISTS idx_phi_access_log_member ON phi_access_log (member_id);
CREATE INDEX IF NOT EXISTS idx_phi_access_log_user ON phi_access_log (user_id);`

// SQLiteAccessLog is the embedded-database counterpart of PGAccessLog.
type SQLiteAccessLog struct {
	db *sql.DB
}

// NewSQLiteAccessLog creates the table if needed.
func NewSQLiteAccessLog(ctx context.Context, db *sql.DB) (*SQLiteAccessLog, error) {
	if _, err := db.ExecContext(ctx, sqliteAccessSchema); err != nil {
		return nil, fmt.Errorf("create phi_access_log table: %w", err)
	}
	return &SQLiteAccessLog{db: db}, nil
}

func (l *SQLiteAccessLog) Record(ctx context.Context, rec *AccessRecord) error {
	prepare(rec)
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO phi_access_log (`+accessCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.AccessedAt.Format(sqliteTime), rec.UserID, joinRoles(rec.UserRoles),
		rec.Action, rec.Resource, rec.SearchID, rec.MemberID, rec.Method, rec.Path, rec.StatusCode,
		rec.IPAddress, rec.UserAgent, rec.RequestID)
	if err != nil {
		return fmt.Errorf("insert phi access log: %w", err)
	}
	return nil
}

func (l *SQLiteAccessLog) Search(ctx context.Context, q AccessQuery) ([]*AccessRecord, int, error) {
	q.applyDefaults()
	clause, args := whereClause(q,
		func(int) string { return "?" },
		func(t time.Time) any { return t.Format(sqliteTime) })

	var total int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM phi_access_log`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT `+accessCols+` FROM phi_access_log`+clause+` ORDER BY accessed_at DESC LIMIT ? OFFSET ?`,
		append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	var items []*AccessRecord
	for rows.Next() {
		var r AccessRecord
		var id, accessedAt, roles string
		if err := rows.Scan(&id, &accessedAt, &r.UserID, &roles, &r.Action, &r.Resource, &r.SearchID,
			&r.MemberID, &r.Method, &r.Path, &r.StatusCode, &r.IPAddress, &r.UserAgent, &r.RequestID); err != nil {
			return nil, 0, err
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, 0, fmt.Errorf("parse id %q: %w", id, err)
		}
		if r.AccessedAt, err = time.Parse(sqliteTime, accessedAt); err != nil {
			return nil, 0, fmt.Errorf("parse accessed_at %q: %w", accessedAt, err)
		}
		r.UserRoles = splitRoles(roles)
		items = append(items, &r)
	}
	return items, total, rows.Err()
}
