// Package quarantine serves the review surface: reviewers list quarantined
// records and resolve them as match, create or skip.
package quarantine

import (
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/bgross0/data-migrator-sub001/pkg/models"
	qsvc "github.com/bgross0/data-migrator-sub001/pkg/quarantine"
	"github.com/bgross0/data-migrator-sub001/pkg/reqctx"
	"github.com/bgross0/data-migrator-sub001/pkg/tracing"
)

var validate = validator.New()

const (
	defaultLimit = 100
	maxLimit     = 1000
)

type Handler struct {
	svc *qsvc.Service
}

func NewHandler(svc *qsvc.Service) *Handler {
	return &Handler{svc: svc}
}

// Register registers quarantine routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.POST("/bulk-resolve", h.BulkResolve)
	g.GET("/:id", h.Get)
	g.POST("/:id/resolve", h.Resolve)
	g.GET("/:id/decisions", h.Decisions)
}

// ListResponse wraps the items of a page.
type ListResponse struct {
	Items []models.QuarantineItem `json:"items"`
	Count int                     `json:"count"`
}

// List returns quarantine items filtered by run, batch, type, status and score.
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "quarantine_handler.List")
	defer span.End()

	var filter models.QuarantineFilter
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &filter); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid query parameters")
	}
	switch filter.Status {
	case "", models.QuarantineStatusPending, models.QuarantineStatusResolved, models.QuarantineStatusSkipped:
	default:
		return httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown status %q", filter.Status))
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	filter.Limit = min(filter.Limit, maxLimit)

	items, err := h.svc.List(ctx, filter)
	if err != nil {
		return err
	}
	if items == nil {
		items = []models.QuarantineItem{}
	}
	return c.JSON(http.StatusOK, ListResponse{Items: items, Count: len(items)})
}

func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "quarantine_handler.Get")
	defer span.End()

	item, err := h.svc.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, item)
}

// Resolve records a reviewer decision. The reviewer defaults to the
// X-Operator header when the body does not name one.
func (h *Handler) Resolve(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "quarantine_handler.Resolve")
	defer span.End()

	var req qsvc.ResolveRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ResolvedBy == "" {
		req.ResolvedBy = reqctx.GetOperator(ctx)
	}
	if req.ResolvedBy == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "resolved_by or the X-Operator header is required")
	}

	item, err := h.svc.Resolve(ctx, c.Param("id"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, item)
}

// BulkResolve applies one action to every pending item above a score threshold.
func (h *Handler) BulkResolve(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "quarantine_handler.BulkResolve")
	defer span.End()

	var req qsvc.BulkResolveRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ResolvedBy == "" {
		req.ResolvedBy = reqctx.GetOperator(ctx)
	}
	if req.ResolvedBy == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "resolved_by or the X-Operator header is required")
	}

	result, err := h.svc.BulkResolve(ctx, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) Decisions(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "quarantine_handler.Decisions")
	defer span.End()

	decisions, err := h.svc.Decisions(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if decisions == nil {
		decisions = []models.Decision{}
	}
	return c.JSON(http.StatusOK, decisions)
}
