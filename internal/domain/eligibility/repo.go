package eligibility

import (
	"context"

	"github.com/google/uuid"
)

// SearchRepository stores completed searches. Search accepts the filters
// "member_id" and "date_of_birth"; unknown keys are ignored.
type SearchRepository interface {
	Create(ctx context.Context, r *SearchRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*SearchRecord, error)
	Update(ctx context.Context, r *SearchRecord) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*SearchRecord, int, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*SearchRecord, int, error)
}

var searchFilters = []struct {
	param  string
	column string
}{
	{"member_id", "member_id"},
	{"date_of_birth", "date_of_birth"},
}
