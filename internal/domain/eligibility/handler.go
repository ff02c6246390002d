package eligibility

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/eligibility/internal/platform/auth"
	"github.com/ehr/eligibility/internal/platform/blobstore"
	"github.com/ehr/eligibility/internal/platform/middleware"
	"github.com/ehr/eligibility/pkg/client"
	"github.com/ehr/eligibility/pkg/pagination"
)

type Handler struct {
	orch *Orchestrator
	repo SearchRepository
}

func NewHandler(orch *Orchestrator, repo SearchRepository) *Handler {
	return &Handler{orch: orch, repo: repo}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	role := auth.RequireRole("admin", "staff")

	read := api.Group("", role)
	read.GET("/searches", h.ListSearches)
	read.GET("/searches/:id", h.GetSearch)
	read.GET("/searches/:id/member-card", h.GetMemberCard)

	write := api.Group("", role)
	write.POST("/searches", h.CreateSearch)
	write.POST("/network-status", h.NetworkStatus)
}

func (h *Handler) CreateSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	middleware.SetAuditMemberID(c, req.MemberID)
	if req.DateOfBirth != "" {
		dob, err := NormalizeDateOfBirth(req.DateOfBirth)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		req.DateOfBirth = dob
	}

	result, err := h.orch.Search(c.Request().Context(), req)
	if err != nil {
		return searchHTTPError(err)
	}
	if result.Persisted {
		middleware.SetAuditSearchID(c, result.Record.ID.String())
	}
	return c.JSON(http.StatusCreated, result)
}

func (h *Handler) GetSearch(c echo.Context) error {
	rec, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListSearches(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	for _, f := range searchFilters {
		if v := c.QueryParam(f.param); v != "" {
			params[f.param] = v
		}
	}
	if dob, ok := params["date_of_birth"]; ok {
		norm, err := NormalizeDateOfBirth(dob)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		params["date_of_birth"] = norm
	}

	items, total, err := h.repo.Search(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*SearchRecord{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c))
}

func (h *Handler) GetMemberCard(c echo.Context) error {
	rec, err := h.load(c)
	if err != nil {
		return err
	}
	blob, err := h.orch.MemberCardImage(c.Request().Context(), rec)
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no member card image for this search")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.Response().Header().Set("Content-Length", strconv.FormatInt(blob.Size, 10))
	return c.Blob(http.StatusOK, blob.ContentType, blob.Data)
}

func (h *Handler) NetworkStatus(c echo.Context) error {
	var req client.NetworkStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	middleware.SetAuditMemberID(c, req.MemberID)
	data, err := h.orch.NetworkStatus(c.Request().Context(), req)
	if err != nil {
		return searchHTTPError(err)
	}
	return c.JSONBlob(http.StatusOK, data)
}

func (h *Handler) load(c echo.Context) (*SearchRecord, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.repo.GetByID(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "search not found")
	}
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	middleware.SetAuditMemberID(c, rec.MemberID)
	return rec, nil
}

// searchHTTPError maps orchestrator failures. Upstream 4xx answers other
// than 401 keep their status so "member not found" style replies reach the
// caller unchanged; everything else is a bad gateway.
func searchHTTPError(err error) error {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return echo.NewHTTPError(http.StatusBadRequest, vErr.Error())
	}
	var sErr *SearchError
	if errors.As(err, &sErr) {
		status := http.StatusBadGateway
		if sErr.Stage != StageNoToken && sErr.Status >= 400 && sErr.Status < 500 && sErr.Status != http.StatusUnauthorized {
			status = sErr.Status
		}
		return echo.NewHTTPError(status, sErr.Message)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
