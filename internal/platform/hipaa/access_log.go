package hipaa

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/eligibility/internal/platform/middleware"
)

// AccessRecord is one persisted access to eligibility data. MemberID is
// stored masked, the same way the audit middleware logs it.
type AccessRecord struct {
	ID         uuid.UUID `json:"id"`
	AccessedAt time.Time `json:"accessed_at"`
	UserID     string    `json:"user_id"`
	UserRoles  []string  `json:"user_roles"`
	Action     string    `json:"action"`
	Resource   string    `json:"resource"`
	SearchID   string    `json:"search_id,omitempty"`
	MemberID   string    `json:"member_id,omitempty"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	StatusCode int       `json:"status_code"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
	RequestID  string    `json:"request_id,omitempty"`
}

// AccessQuery filters the access log. Zero fields match everything.
type AccessQuery struct {
	UserID   string
	MemberID string
	SearchID string
	Resource string
	Action   string
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}

const (
	defaultAccessLimit = 100
	maxAccessLimit     = 1000
)

func (q *AccessQuery) applyDefaults() {
	if q.Limit <= 0 {
		q.Limit = defaultAccessLimit
	}
	if q.Limit > maxAccessLimit {
		q.Limit = maxAccessLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	// Records only ever hold masked ids, so mask the filter the same way.
	if q.MemberID != "" {
		q.MemberID = middleware.MaskMemberID(q.MemberID)
	}
}

// AccessLog stores access records. Search returns newest first.
type AccessLog interface {
	Record(ctx context.Context, rec *AccessRecord) error
	Search(ctx context.Context, q AccessQuery) ([]*AccessRecord, int, error)
}

// Recorder adapts an AccessLog to the audit middleware.
type Recorder struct {
	log     AccessLog
	timeout time.Duration
}

// NewRecorder returns a middleware.AuditRecorder that writes to log.
func NewRecorder(log AccessLog) *Recorder {
	return &Recorder{log: log, timeout: 5 * time.Second}
}

func (r *Recorder) RecordAccess(entry middleware.AuditEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.log.Record(ctx, recordFromEntry(entry))
}

func recordFromEntry(e middleware.AuditEntry) *AccessRecord {
	return &AccessRecord{
		AccessedAt: e.Timestamp,
		UserID:     e.UserID,
		UserRoles:  e.UserRoles,
		Action:     e.Action,
		Resource:   e.Resource,
		SearchID:   e.SearchID,
		MemberID:   e.MemberID,
		Method:     e.Method,
		Path:       e.Path,
		StatusCode: e.StatusCode,
		IPAddress:  e.IPAddress,
		UserAgent:  e.UserAgent,
		RequestID:  e.RequestID,
	}
}

// prepare fills the id and timestamp of a record about to be stored.
func prepare(rec *AccessRecord) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.AccessedAt.IsZero() {
		rec.AccessedAt = time.Now()
	}
	rec.AccessedAt = rec.AccessedAt.UTC()
}

func joinRoles(roles []string) string {
	return strings.Join(roles, ",")
}

func splitRoles(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}

// ---------------------------------------------------------------------------
// SQL filter building shared by the Postgres and SQLite logs
// ---------------------------------------------------------------------------

// whereClause renders q as a WHERE clause. placeholder formats the n-th
// argument and timeArg converts a bound timestamp for the driver.
func whereClause(q AccessQuery, placeholder func(n int) string, timeArg func(time.Time) any) (string, []any) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, placeholder(len(args))))
	}
	for _, f := range []struct {
		column string
		value  string
	}{
		{"user_id", q.UserID},
		{"member_id", q.MemberID},
		{"search_id", q.SearchID},
		{"resource", q.Resource},
		{"action", q.Action},
	} {
		if f.value != "" {
			add(f.column+" = %s", f.value)
		}
	}
	if q.Since != nil {
		add("accessed_at >= %s", timeArg(q.Since.UTC()))
	}
	if q.Until != nil {
		add("accessed_at <= %s", timeArg(q.Until.UTC()))
	}
	if len(where) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

// MemoryAccessLog keeps records in process. Used in tests and when no
// database is configured for the log.
type MemoryAccessLog struct {
	mu      sync.RWMutex
	records []*AccessRecord
}

func NewMemoryAccessLog() *MemoryAccessLog {
	return &MemoryAccessLog{}
}

func (m *MemoryAccessLog) Record(_ context.Context, rec *AccessRecord) error {
	prepare(rec)
	cp := *rec
	m.mu.Lock()
	m.records = append(m.records, &cp)
	m.mu.Unlock()
	return nil
}

func (m *MemoryAccessLog) Search(_ context.Context, q AccessQuery) ([]*AccessRecord, int, error) {
	q.applyDefaults()

	m.mu.RLock()
	var matched []*AccessRecord
	for _, r := range m.records {
		if matchRecord(r, q) {
			cp := *r
			matched = append(matched, &cp)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].AccessedAt.After(matched[j].AccessedAt)
	})

	total := len(matched)
	start := min(q.Offset, total)
	end := min(start+q.Limit, total)
	return matched[start:end], total, nil
}

// Len returns the number of stored records.
func (m *MemoryAccessLog) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func matchRecord(r *AccessRecord, q AccessQuery) bool {
	if q.UserID != "" && r.UserID != q.UserID {
		return false
	}
	if q.MemberID != "" && r.MemberID != q.MemberID {
		return false
	}
	if q.SearchID != "" && r.SearchID != q.SearchID {
		return false
	}
	if q.Resource != "" && r.Resource != q.Resource {
		return false
	}
	if q.Action != "" && r.Action != q.Action {
		return false
	}
	if q.Since != nil && r.AccessedAt.Before(*q.Since) {
		return false
	}
	if q.Until != nil && r.AccessedAt.After(*q.Until) {
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Export
// ---------------------------------------------------------------------------

var csvHeader = []string{"ID", "AccessedAt", "UserID", "UserRoles", "Action", "Resource",
	"SearchID", "MemberID", "Method", "Path", "Status", "IPAddress", "UserAgent", "RequestID"}

// ExportCSV writes every record matching q to w, paging through log.
// q.Limit and q.Offset are ignored.
func ExportCSV(ctx context.Context, log AccessLog, q AccessQuery, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("access log export: write header: %w", err)
	}

	q.Limit, q.Offset = maxAccessLimit, 0
	for {
		page, total, err := log.Search(ctx, q)
		if err != nil {
			return fmt.Errorf("access log export: %w", err)
		}
		for _, r := range page {
			row := []string{
				r.ID.String(),
				r.AccessedAt.Format(time.RFC3339),
				r.UserID,
				joinRoles(r.UserRoles),
				r.Action,
				r.Resource,
				r.SearchID,
				r.MemberID,
				r.Method,
				r.Path,
				strconv.Itoa(r.StatusCode),
				r.IPAddress,
				r.UserAgent,
				r.RequestID,
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("access log export: write record: %w", err)
			}
		}
		q.Offset += len(page)
		if len(page) == 0 || q.Offset >= total {
			break
		}
	}

	cw.Flush()
	return cw.Error()
}
