package eligibility

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/eligibility/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type searchRepoPG struct{ pool *pgxpool.Pool }

func NewSearchRepoPG(pool *pgxpool.Pool) SearchRepository {
	return &searchRepoPG{pool: pool}
}

func (r *searchRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const searchCols = `id, member_id, patient_name, date_of_birth, searched_at, searched_by,
	eligibility, coverage, member_card, created_at, updated_at`

func (r *searchRepoPG) scanRow(row pgx.Row) (*SearchRecord, error) {
	var e SearchRecord
	var elig, cov, card []byte
	err := row.Scan(&e.ID, &e.MemberID, &e.PatientName, &e.DateOfBirth, &e.SearchedAt, &e.SearchedBy,
		&elig, &cov, &card, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := decodeColumns(&e, elig, cov, card); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *searchRepoPG) Create(ctx context.Context, e *SearchRecord) error {
	e.ID = uuid.New()
	card, err := encodeMemberCard(e.MemberCard)
	if err != nil {
		return err
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO eligibility_search (id, member_id, patient_name, date_of_birth, searched_at, searched_by,
			eligibility, coverage, member_card)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		e.ID, e.MemberID, e.PatientName, e.DateOfBirth, e.SearchedAt, e.SearchedBy,
		jsonOrNull(e.Eligibility), jsonOrNull(e.Coverage), card).Scan(&e.CreatedAt, &e.UpdatedAt)
}

func (r *searchRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*SearchRecord, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+searchCols+` FROM eligibility_search WHERE id = $1`, id))
}

func (r *searchRepoPG) Update(ctx context.Context, e *SearchRecord) error {
	card, err := encodeMemberCard(e.MemberCard)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE eligibility_search SET patient_name=$2, coverage=$3, member_card=$4, updated_at=NOW()
		WHERE id = $1`,
		e.ID, e.PatientName, jsonOrNull(e.Coverage), card)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *searchRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM eligibility_search WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *searchRepoPG) List(ctx context.Context, limit, offset int) ([]*SearchRecord, int, error) {
	return r.Search(ctx, nil, limit, offset)
}

func (r *searchRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*SearchRecord, int, error) {
	var where []string
	var args []interface{}
	for _, f := range searchFilters {
		if v := strings.TrimSpace(params[f.param]); v != "" {
			args = append(args, v)
			where = append(where, fmt.Sprintf("%s = $%d", f.column, len(args)))
		}
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM eligibility_search`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataArgs := append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT `+searchCols+` FROM eligibility_search%s ORDER BY searched_at DESC LIMIT $%d OFFSET $%d`,
			clause, len(args)+1, len(args)+2),
		dataArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
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

func jsonOrNull(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func encodeMemberCard(mc *MemberCard) ([]byte, error) {
	if mc == nil {
		return nil, nil
	}
	b, err := json.Marshal(mc)
	if err != nil {
		return nil, fmt.Errorf("encode member card: %w", err)
	}
	return b, nil
}

func decodeColumns(e *SearchRecord, elig, cov, card []byte) error {
	if len(elig) > 0 {
		e.Eligibility = json.RawMessage(elig)
	}
	if len(cov) > 0 {
		e.Coverage = json.RawMessage(cov)
	}
	if len(card) > 0 {
		var mc MemberCard
		if err := json.Unmarshal(card, &mc); err != nil {
			return fmt.Errorf("decode member card: %w", err)
		}
		e.MemberCard = &mc
	}
	return nil
}
