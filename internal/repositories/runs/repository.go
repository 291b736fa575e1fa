package runs

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/bgross0/data-migrator-sub001/pkg/database"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
	"github.com/bgross0/data-migrator-sub001/pkg/runner"
	"github.com/bgross0/data-migrator-sub001/pkg/tracing"
)

const (
	runsTable    = "batch_runs"
	batchesTable = "batches"
)

var (
	runColumns   = []string{"id", "status", "resume", "parent_run_id", "error", "started_at", "ended_at", "rolled_back_at", "created_at"}
	batchColumns = []string{"id", "run_id", "position", "entity_types", "status", "counts", "findings", "started_at", "ended_at", "rolled_back"}
)

type runRow struct {
	ID           string     `db:"id"`
	Status       string     `db:"status"`
	Resume       bool       `db:"resume"`
	ParentRunID  string     `db:"parent_run_id"`
	Error        string     `db:"error"`
	StartedAt    *time.Time `db:"started_at"`
	EndedAt      *time.Time `db:"ended_at"`
	RolledBackAt *time.Time `db:"rolled_back_at"`
	CreatedAt    time.Time  `db:"created_at"`
}

func (r runRow) toModel() models.BatchRun {
	return models.BatchRun{
		ID:           r.ID,
		Status:       models.RunStatus(r.Status),
		Resume:       r.Resume,
		ParentRunID:  r.ParentRunID,
		Error:        r.Error,
		StartedAt:    r.StartedAt,
		EndedAt:      r.EndedAt,
		RolledBackAt: r.RolledBackAt,
		CreatedAt:    r.CreatedAt,
	}
}

type batchRow struct {
	ID          string                                   `db:"id"`
	RunID       string                                   `db:"run_id"`
	Position    int                                      `db:"position"`
	EntityTypes database.JSONB[[]string]                 `db:"entity_types"`
	Status      string                                   `db:"status"`
	Counts      database.JSONB[map[string]models.Counts] `db:"counts"`
	Findings    database.JSONB[[]models.Finding]         `db:"findings"`
	StartedAt   *time.Time                               `db:"started_at"`
	EndedAt     *time.Time                               `db:"ended_at"`
	RolledBack  bool                                     `db:"rolled_back"`
}

func (r batchRow) toModel() models.Batch {
	return models.Batch{
		ID:          r.ID,
		RunID:       r.RunID,
		Position:    r.Position,
		EntityTypes: r.EntityTypes.GetValue(),
		Status:      models.BatchStatus(r.Status),
		Counts:      r.Counts.GetValue(),
		Findings:    r.Findings.GetValue(),
		StartedAt:   r.StartedAt,
		EndedAt:     r.EndedAt,
		RolledBack:  r.RolledBack,
	}
}

// Repository persists runs in batch_runs and their batches in batches.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

var _ runner.Store = (*Repository)(nil)

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreateRun inserts the run and its batches in one transaction.
func (r *Repository) CreateRun(ctx context.Context, run models.BatchRun) (err error) {
	ctx, span := tracing.StartSpan(ctx, "runs.Repository.CreateRun")
	defer span.End()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create run")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	rb := database.NewInsertBuilder()
	rb.InsertInto(runsTable)
	rb.Cols(runColumns...)
	rb.Values(run.ID, run.Status, run.Resume, run.ParentRunID, run.Error, run.StartedAt, run.EndedAt, run.RolledBackAt, run.CreatedAt)
	query, args := rb.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": run.ID}).Error("Failed to insert run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create run")
	}

	if len(run.Batches) == 0 {
		return nil
	}
	bb := database.NewInsertBuilder()
	bb.InsertInto(batchesTable)
	bb.Cols(batchColumns...)
	for _, b := range run.Batches {
		bb.Values(
			b.ID, b.RunID, b.Position, database.NewJSONB(b.EntityTypes), b.Status,
			database.NewJSONB(b.Counts), database.NewJSONB(findings(b.Findings)), b.StartedAt, b.EndedAt, b.RolledBack,
		)
	}
	query, args = bb.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": run.ID}).Error("Failed to insert batches")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create run")
	}

	return nil
}

func (r *Repository) UpdateRun(ctx context.Context, run models.BatchRun) error {
	ctx, span := tracing.StartSpan(ctx, "runs.Repository.UpdateRun")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(runsTable)
	ub.Set(
		ub.Assign("status", run.Status),
		ub.Assign("error", run.Error),
		ub.Assign("started_at", run.StartedAt),
		ub.Assign("ended_at", run.EndedAt),
		ub.Assign("rolled_back_at", run.RolledBackAt),
	)
	ub.Where(ub.Equal("id", run.ID))

	query, args := ub.Build()
	return r.exec(ctx, query, args, map[string]any{"run_id": run.ID}, "failed to update run")
}

func (r *Repository) UpdateBatch(ctx context.Context, batch models.Batch) error {
	ctx, span := tracing.StartSpan(ctx, "runs.Repository.UpdateBatch")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(batchesTable)
	ub.Set(
		ub.Assign("status", batch.Status),
		ub.Assign("counts", database.NewJSONB(batch.Counts)),
		ub.Assign("findings", database.NewJSONB(findings(batch.Findings))),
		ub.Assign("started_at", batch.StartedAt),
		ub.Assign("ended_at", batch.EndedAt),
		ub.Assign("rolled_back", batch.RolledBack),
	)
	ub.Where(ub.Equal("id", batch.ID))

	query, args := ub.Build()
	return r.exec(ctx, query, args, map[string]any{"run_id": batch.RunID, "batch_id": batch.ID}, "failed to update batch")
}

func (r *Repository) GetRun(ctx context.Context, id string) (*models.BatchRun, error) {
	ctx, span := tracing.StartSpan(ctx, "runs.Repository.GetRun")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(runColumns...)
	sb.From(runsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var row runRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": id}).Error("Failed to get run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get run")
	}

	run := row.toModel()
	batches, err := r.batches(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	run.Batches = batches[id]
	return &run, nil
}

func (r *Repository) ListRuns(ctx context.Context, limit int) ([]models.BatchRun, error) {
	ctx, span := tracing.StartSpan(ctx, "runs.Repository.ListRuns")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(runColumns...)
	sb.From(runsTable)
	sb.OrderBy("created_at").Desc()
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	var rows []runRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list runs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list runs")
	}
	if len(rows) == 0 {
		return []models.BatchRun{}, nil
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	batches, err := r.batches(ctx, ids)
	if err != nil {
		return nil, err
	}

	runs := make([]models.BatchRun, len(rows))
	for i, row := range rows {
		runs[i] = row.toModel()
		runs[i].Batches = batches[row.ID]
	}
	return runs, nil
}

func (r *Repository) batches(ctx context.Context, runIDs []string) (map[string][]models.Batch, error) {
	sb := database.NewSelectBuilder()
	sb.Select(batchColumns...)
	sb.From(batchesTable)
	sb.Where(sb.In("run_id", toAny(runIDs)...))
	sb.OrderBy("run_id", "position")

	query, args := sb.Build()
	var rows []batchRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_ids": runIDs}).Error("Failed to list batches")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list batches")
	}

	out := make(map[string][]models.Batch, len(runIDs))
	for _, row := range rows {
		out[row.RunID] = append(out[row.RunID], row.toModel())
	}
	return out, nil
}

func (r *Repository) exec(ctx context.Context, query string, args []any, fields map[string]any, message string) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(fields).Error("Failed to write run state")
		return httperror.NewHTTPError(http.StatusInternalServerError, message)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, message+": no such row")
	}
	return nil
}

// findings keeps the column a JSON array rather than null.
func findings(f []models.Finding) []models.Finding {
	if f == nil {
		return []models.Finding{}
	}
	return f
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
