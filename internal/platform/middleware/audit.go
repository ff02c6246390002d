package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/eligibility/internal/platform/auth"
)

// AuditEntry records one access to eligibility data: who looked up which
// member or search, when, and with what outcome.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Resource   string
	SearchID   string
	MemberID   string
	Action     string
	IPAddress  string
	UserAgent  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// Context keys handlers use to attach identifiers that only appear in the
// request body.
const (
	auditMemberIDKey = "audit_member_id"
	auditSearchIDKey = "audit_search_id"
)

// SetAuditMemberID attaches the member id a handler acted on to the audit
// entry for the current request. The id is masked before it is recorded.
func SetAuditMemberID(c echo.Context, id string) {
	c.Set(auditMemberIDKey, id)
}

// SetAuditSearchID attaches a search record id to the audit entry, for
// example the id assigned to a newly created search.
func SetAuditSearchID(c echo.Context, id string) {
	c.Set(auditSearchIDKey, id)
}

func auditValue(c echo.Context, key, fallback string) string {
	if v, ok := c.Get(key).(string); ok && v != "" {
		return v
	}
	return fallback
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs member data access under /api/v1/ and /api/uhc/. Member ids
// are masked to their last four characters before they reach any sink.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			ctx := req.Context()
			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Path:       path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: status,
				UserID:     auth.UserIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				RequestID:  RequestIDFromContext(ctx),
				Action:     httpMethodToAction(req.Method),
				Resource:   extractResource(path),
				SearchID:   auditValue(c, auditSearchIDKey, extractSearchID(path)),
				MemberID:   MaskMemberID(auditValue(c, auditMemberIDKey, c.QueryParam("member_id"))),
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "phi_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("search_id", entry.SearchID).
				Str("member_id", entry.MemberID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("phi_access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/") || strings.HasPrefix(path, "/api/uhc/")
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "lookup"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// extractResource returns the first path segment after the API prefix:
//   - /api/v1/searches/123 -> searches
//   - /api/uhc/member-card -> member-card
func extractResource(path string) string {
	for _, prefix := range []string{"/api/v1/", "/api/uhc/"} {
		if strings.HasPrefix(path, prefix) {
			seg := strings.SplitN(strings.TrimPrefix(path, prefix), "/", 2)[0]
			if seg != "" {
				return seg
			}
		}
	}
	return "unknown"
}

func extractSearchID(path string) string {
	const prefix = "/api/v1/searches/"
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	seg := strings.SplitN(strings.TrimPrefix(path, prefix), "/", 2)[0]
	if _, err := uuid.Parse(seg); err != nil {
		return ""
	}
	return seg
}

// MaskMemberID keeps the last four characters of a member id.
func MaskMemberID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if len(id) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(id)-4) + id[len(id)-4:]
}
