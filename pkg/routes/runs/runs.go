package runs

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/bgross0/data-migrator-sub001/pkg/models"
	"github.com/bgross0/data-migrator-sub001/pkg/runner"
	"github.com/bgross0/data-migrator-sub001/pkg/source"
	"github.com/bgross0/data-migrator-sub001/pkg/tracing"
)

// MIMEApplicationNDJSON selects the JSON Lines body of POST /runs.
const MIMEApplicationNDJSON = "application/x-ndjson"

type Handler struct {
	ctrl *runner.Controller
}

func NewHandler(ctrl *runner.Controller) *Handler {
	return &Handler{ctrl: ctrl}
}

// Register registers run routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/plan", h.Plan)
	g.GET("/:id", h.Get)
	g.GET("/:id/status", h.Status)
	g.POST("/:id/cancel", h.Cancel)
	g.POST("/:id/rollback", h.Rollback)
	g.POST("/:id/batches/:position/rollback", h.RollbackBatch)
}

type CreateRunRequest struct {
	Records []models.SourceRecord `json:"records"`
}

type PlanResponse struct {
	Batches [][]string `json:"batches"`
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "runs_handler.List")
	defer span.End()

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 20
	}
	runs, err := h.ctrl.List(ctx, limit)
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []models.BatchRun{}
	}
	return c.JSON(http.StatusOK, runs)
}

// Create submits a run and answers 202 with the pending run. The body is
// either JSON Lines (Content-Type application/x-ndjson) or {"records": [...]}.
func (h *Handler) Create(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "runs_handler.Create")
	defer span.End()

	var records []models.SourceRecord
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), MIMEApplicationNDJSON) {
		parsed, err := source.Read(c.Request().Body)
		if err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		records = parsed
	} else {
		var req CreateRunRequest
		if err := c.Bind(&req); err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		records = req.Records
	}
	if len(records) == 0 {
		return httperror.NewHTTPError(http.StatusBadRequest, "no records to load")
	}

	run, err := h.ctrl.Submit(ctx, runner.RunRequest{Records: records})
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderLocation, strings.TrimSuffix(c.Request().URL.Path, "/")+"/"+run.ID+"/status")
	return c.JSON(http.StatusAccepted, run)
}

func (h *Handler) Plan(c echo.Context) error {
	levels, err := h.ctrl.Plan()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, PlanResponse{Batches: levels})
}

func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "runs_handler.Get")
	defer span.End()

	run, err := h.ctrl.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

func (h *Handler) Status(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "runs_handler.Status")
	defer span.End()

	view, err := h.ctrl.Status(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) Cancel(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "runs_handler.Cancel")
	defer span.End()

	if err := h.ctrl.Cancel(ctx, c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

// Rollback supersedes the ledger entries of a finished run. Target entities
// are not deleted.
func (h *Handler) Rollback(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "runs_handler.Rollback")
	defer span.End()

	run, err := h.ctrl.Rollback(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run.View())
}

func (h *Handler) RollbackBatch(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "runs_handler.RollbackBatch")
	defer span.End()

	position, err := strconv.Atoi(c.Param("position"))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "position must be an integer")
	}
	run, err := h.ctrl.RollbackBatch(ctx, c.Param("id"), position)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run.View())
}
