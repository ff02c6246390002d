package eligibility

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// sqliteTime sorts lexically in the same order as the instants it encodes.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS eligibility_search (
    id            TEXT PRIMARY KEY,
    member_id     TEXT NOT NULL,
    patient_name  TEXT NOT NULL DEFAULT '',
    date_of_birth TEXT NOT NULL,
    searched_at   TEXT NOT NULL,
    searched_by   TEXT NOT NULL DEFAULT '',
    eligibility   TEXT NOT NULL,
    coverage      TEXT,
    member_card   TEXT,
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_eligibility_search_member ON eligibility_search (member_id);
CREATE INDEX IF NOT EXISTS idx_eligibility_search_searched_at ON eligibility_search (searched_at);`

type searchRepoSQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSearchRepoSQLite creates the table if needed and returns a repository
// backed by db.
func NewSearchRepoSQLite(ctx context.Context, db *sql.DB) (SearchRepository, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("create eligibility_search table: %w", err)
	}
	return &searchRepoSQLite{db: db, now: time.Now}, nil
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTime, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *searchRepoSQLite) scanRow(row rowScanner) (*SearchRecord, error) {
	var e SearchRecord
	var id, searchedAt, createdAt, updatedAt, elig string
	var cov, card sql.NullString
	err := row.Scan(&id, &e.MemberID, &e.PatientName, &e.DateOfBirth, &searchedAt, &e.SearchedBy,
		&elig, &cov, &card, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if e.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse id %q: %w", id, err)
	}
	for _, ts := range []struct {
		dst *time.Time
		src string
	}{{&e.SearchedAt, searchedAt}, {&e.CreatedAt, createdAt}, {&e.UpdatedAt, updatedAt}} {
		if *ts.dst, err = parseSQLiteTime(ts.src); err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts.src, err)
		}
	}
	if err := decodeColumns(&e, []byte(elig), []byte(cov.String), []byte(card.String)); err != nil {
		return nil, err
	}
	return &e, nil
}

func nullText(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func (r *searchRepoSQLite) Create(ctx context.Context, e *SearchRecord) error {
	e.ID = uuid.New()
	card, err := encodeMemberCard(e.MemberCard)
	if err != nil {
		return err
	}
	now := r.now().UTC()
	if e.SearchedAt.IsZero() {
		e.SearchedAt = now
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO eligibility_search (id, member_id, patient_name, date_of_birth, searched_at, searched_by,
			eligibility, coverage, member_card, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.MemberID, e.PatientName, e.DateOfBirth, formatSQLiteTime(e.SearchedAt), e.SearchedBy,
		string(e.Eligibility), nullText(e.Coverage), nullText(card), formatSQLiteTime(now), formatSQLiteTime(now))
	if err != nil {
		return fmt.Errorf("insert eligibility search: %w", err)
	}
	e.CreatedAt, e.UpdatedAt = now, now
	return nil
}

func (r *searchRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*SearchRecord, error) {
	return r.scanRow(r.db.QueryRowContext(ctx,
		`SELECT `+searchCols+` FROM eligibility_search WHERE id = ?`, id.String()))
}

func (r *searchRepoSQLite) Update(ctx context.Context, e *SearchRecord) error {
	card, err := encodeMemberCard(e.MemberCard)
	if err != nil {
		return err
	}
	now := r.now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE eligibility_search SET patient_name = ?, coverage = ?, member_card = ?, updated_at = ?
		WHERE id = ?`,
		e.PatientName, nullText(e.Coverage), nullText(card), formatSQLiteTime(now), e.ID.String())
	if err != nil {
		return fmt.Errorf("update eligibility search: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	e.UpdatedAt = now
	return nil
}

func (r *searchRepoSQLite) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM eligibility_search WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *searchRepoSQLite) List(ctx context.Context, limit, offset int) ([]*SearchRecord, int, error) {
	return r.Search(ctx, nil, limit, offset)
}

func (r *searchRepoSQLite) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*SearchRecord, int, error) {
	var where []string
	var args []any
	for _, f := range searchFilters {
		if v := strings.TrimSpace(params[f.param]); v != "" {
			where = append(where, f.column+" = ?")
			args = append(args, v)
		}
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM eligibility_search`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+searchCols+` FROM eligibility_search`+clause+` ORDER BY searched_at DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	var items []*SearchRecord
	for rows.Next() {
		e, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
