package hipaa

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const accessCols = `id, accessed_at, user_id, user_roles, action, resource, search_id, member_id,
	method, path, status_code, ip_address, user_agent, request_id`

// PGAccessLog writes to the phi_access_log table created by the
// Postgres migrations.
type PGAccessLog struct {
	pool *pgxpool.Pool
}

func NewPGAccessLog(pool *pgxpool.Pool) *PGAccessLog {
	return &PGAccessLog{pool: pool}
}

func (l *PGAccessLog) Record(ctx context.Context, rec *AccessRecord) error {
	prepare(rec)
	_, err := l.pool.Exec(ctx, `
		INSERT INTO phi_access_log (`+accessCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		rec.ID, rec.AccessedAt, rec.UserID, joinRoles(rec.UserRoles), rec.Action, rec.Resource,
		rec.SearchID, rec.MemberID, rec.Method, rec.Path, rec.StatusCode, rec.IPAddress,
		rec.UserAgent, rec.RequestID)
	if err != nil {
		return fmt.Errorf("insert phi access log: %w", err)
	}
	return nil
}

func (l *PGAccessLog) Search(ctx context.Context, q AccessQuery) ([]*AccessRecord, int, error) {
	q.applyDefaults()
	clause, args := whereClause(q,
		func(n int) string { return fmt.Sprintf("$%d", n) },
		func(t time.Time) any { return t })

	var total int
	if err := l.pool.QueryRow(ctx, `SELECT COUNT(*) FROM phi_access_log`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	rows, err := l.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM phi_access_log%s ORDER BY accessed_at DESC LIMIT $%d OFFSET $%d`,
			accessCols, clause, n+1, n+2),
		append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*AccessRecord
	for rows.Next() {
		r, err := scanPGRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, r)
	}
	return items, total, rows.Err()
}

func scanPGRecord(row pgx.Row) (*AccessRecord, error) {
	var r AccessRecord
	var roles string
	if err := row.Scan(&r.ID, &r.AccessedAt, &r.UserID, &roles, &r.Action, &r.Resource, &r.SearchID,
		&r.MemberID, &r.Method, &r.Path, &r.StatusCode, &r.IPAddress, &r.UserAgent, &r.RequestID); err != nil {
		return nil, err
	}
	r.UserRoles = splitRoles(roles)
	return &r, nil
}
