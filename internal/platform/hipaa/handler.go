package hipaa

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/eligibility/internal/platform/auth"
	"github.com/ehr/eligibility/pkg/pagination"
)

// AccessLogHandler exposes the access log to administrators.
type AccessLogHandler struct {
	log AccessLog
	now func() time.Time
}

func NewAccessLogHandler(log AccessLog) *AccessLogHandler {
	return &AccessLogHandler{log: log, now: time.Now}
}

func (h *AccessLogHandler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("/access-log", auth.RequireRole("admin"))
	admin.GET("", h.List)
	admin.GET("/export", h.Export)
}

func parseAccessQuery(c echo.Context) (AccessQuery, error) {
	q := AccessQuery{
		UserID:   c.QueryParam("user_id"),
		MemberID: c.QueryParam("member_id"),
		SearchID: c.QueryParam("search_id"),
		Resource: c.QueryParam("resource"),
		Action:   c.QueryParam("action"),
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &q.Since}, {"until", &q.Until}} {
		v := c.QueryParam(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("%s must be RFC 3339", p.name))
		}
		*p.dst = &t
	}
	return q, nil
}

// List handles GET /access-log.
func (h *AccessLogHandler) List(c echo.Context) error {
	q, err := parseAccessQuery(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	q.Limit, q.Offset = pg.Limit, pg.Offset

	items, total, err := h.log.Search(c.Request().Context(), q)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*AccessRecord{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c))
}

// Export handles GET /access-log/export and streams matching records as CSV.
func (h *AccessLogHandler) Export(c echo.Context) error {
	q, err := parseAccessQuery(c)
	if err != nil {
		return err
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/csv")
	res.Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=\"access_log_%s.csv\"", h.now().UTC().Format("20060102_150405")))
	res.WriteHeader(http.StatusOK)

	return ExportCSV(c.Request().Context(), h.log, q, res)
}
