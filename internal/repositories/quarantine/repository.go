package quarantine

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/bgross0/data-migrator-sub001/pkg/database"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
	quarantinepkg "github.com/bgross0/data-migrator-sub001/pkg/quarantine"
	"github.com/bgross0/data-migrator-sub001/pkg/tracing"
)

const (
	itemsTable     = "quarantine_items"
	decisionsTable = "quarantine_decisions"
)

var itemColumns = []string{
	"id", "run_id", "batch_id", "entity_type", "source_system", "source_pk", "record",
	"reason", "rule", "detail", "candidates", "top_score", "status", "action",
	"canonical_id", "resolved_by", "created_at", "updated_at", "resolved_at", "applied_at",
}

type itemRow struct {
	ID           string                                  `db:"id"`
	RunID        string                                  `db:"run_id"`
	BatchID      string                                  `db:"batch_id"`
	EntityType   string                                  `db:"entity_type"`
	SourceSystem string                                  `db:"source_system"`
	SourcePK     string                                  `db:"source_pk"`
	Record       database.JSONB[models.SourceRecord]     `db:"record"`
	Reason       string                                  `db:"reason"`
	Rule         string                                  `db:"rule"`
	Detail       string                                  `db:"detail"`
	Candidates   database.JSONB[[]models.MatchCandidate] `db:"candidates"`
	TopScore     float64                                 `db:"top_score"`
	Status       string                                  `db:"status"`
	Action       string                                  `db:"action"`
	CanonicalID  string                                  `db:"canonical_id"`
	ResolvedBy   string                                  `db:"resolved_by"`
	CreatedAt    time.Time                               `db:"created_at"`
	UpdatedAt    time.Time                               `db:"updated_at"`
	ResolvedAt   *time.Time                              `db:"resolved_at"`
	AppliedAt    *time.Time                              `db:"applied_at"`
}

func (r itemRow) toModel() models.QuarantineItem {
	return models.QuarantineItem{
		ID:          r.ID,
		RunID:       r.RunID,
		BatchID:     r.BatchID,
		EntityType:  r.EntityType,
		Record:      r.Record.GetValue(),
		Reason:      models.QuarantineReason(r.Reason),
		Rule:        r.Rule,
		Detail:      r.Detail,
		Candidates:  r.Candidates.GetValue(),
		TopScore:    r.TopScore,
		Status:      models.QuarantineStatus(r.Status),
		Action:      models.ResolveAction(r.Action),
		CanonicalID: r.CanonicalID,
		ResolvedBy:  r.ResolvedBy,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		ResolvedAt:  r.ResolvedAt,
		AppliedAt:   r.AppliedAt,
	}
}

type decisionRow struct {
	ID          string                                  `db:"id"`
	ItemID      string                                  `db:"item_id"`
	Record      database.JSONB[models.SourceRecord]     `db:"record"`
	Candidates  database.JSONB[[]models.MatchCandidate] `db:"candidates"`
	Action      string                                  `db:"action"`
	CanonicalID string                                  `db:"canonical_id"`
	ResolvedBy  string                                  `db:"resolved_by"`
	CreatedAt   time.Time                               `db:"created_at"`
}

// Repository is the Postgres quarantine store. Decisions are insert-only.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

var _ quarantinepkg.Store = (*Repository)(nil)

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) Insert(ctx context.Context, item models.QuarantineItem) error {
	ctx, span := tracing.StartSpan(ctx, "quarantine.Repository.Insert")
	defer span.End()

	sb := database.NewInsertBuilder()
	sb.InsertInto(itemsTable)
	sb.Cols(itemColumns...)
	sb.Values(
		item.ID, item.RunID, item.BatchID, item.EntityType, item.Record.SourceSystem, item.Record.SourcePK,
		database.NewJSONB(item.Record), item.Reason, item.Rule, item.Detail, database.NewJSONB(item.Candidates),
		item.TopScore, item.Status, item.Action, item.CanonicalID, item.ResolvedBy,
		item.CreatedAt, item.UpdatedAt, item.ResolvedAt, item.AppliedAt,
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"item_id": item.ID}).Error("Failed to insert quarantine item")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to enqueue quarantine item")
	}

	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*models.QuarantineItem, error) {
	ctx, span := tracing.StartSpan(ctx, "quarantine.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(itemColumns...)
	sb.From(itemsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var row itemRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"item_id": id}).Error("Failed to get quarantine item")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get quarantine item")
	}

	item := row.toModel()
	return &item, nil
}

// Update persists the mutable decision columns of an item.
func (r *Repository) Update(ctx context.Context, item models.QuarantineItem) error {
	ctx, span := tracing.StartSpan(ctx, "quarantine.Repository.Update")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(itemsTable)
	ub.Set(
		ub.Assign("status", item.Status),
		ub.Assign("action", item.Action),
		ub.Assign("canonical_id", item.CanonicalID),
		ub.Assign("resolved_by", item.ResolvedBy),
		ub.Assign("resolved_at", item.ResolvedAt),
		ub.Assign("applied_at", item.AppliedAt),
		ub.Assign("updated_at", item.UpdatedAt),
	)
	ub.Where(ub.Equal("id", item.ID))

	query, args := ub.Build()
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"item_id": item.ID}).Error("Failed to update quarantine item")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update quarantine item")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("quarantine item %s not found", item.ID))
	}

	return nil
}

func (r *Repository) List(ctx context.Context, filter models.QuarantineFilter) ([]models.QuarantineItem, error) {
	ctx, span := tracing.StartSpan(ctx, "quarantine.Repository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(itemColumns...)
	sb.From(itemsTable)

	where := []string{sb.GreaterEqualThan("top_score", filter.MinScore)}
	if filter.RunID != "" {
		where = append(where, sb.Equal("run_id", filter.RunID))
	}
	if filter.BatchID != "" {
		where = append(where, sb.Equal("batch_id", filter.BatchID))
	}
	if filter.EntityType != "" {
		where = append(where, sb.Equal("entity_type", filter.EntityType))
	}
	if filter.Status != "" {
		where = append(where, sb.Equal("status", filter.Status))
	}
	sb.Where(where...)
	sb.OrderBy("created_at", "id")
	if filter.Limit > 0 {
		sb.Limit(filter.Limit)
	}

	query, args := sb.Build()
	var rows []itemRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list quarantine items")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list quarantine items")
	}

	items := make([]models.QuarantineItem, len(rows))
	for i, row := range rows {
		items[i] = row.toModel()
	}
	return items, nil
}

func (r *Repository) CountPending(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "quarantine.Repository.CountPending")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From(itemsTable)
	sb.Where(sb.Equal("status", models.QuarantineStatusPending))

	query, args := sb.Build()
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count pending quarantine items")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count quarantine items")
	}
	return count, nil
}

func (r *Repository) AppendDecision(ctx context.Context, d models.Decision) error {
	ctx, span := tracing.StartSpan(ctx, "quarantine.Repository.AppendDecision")
	defer span.End()

	sb := database.NewInsertBuilder()
	sb.InsertInto(decisionsTable)
	sb.Cols("id", "item_id", "record", "candidates", "action", "canonical_id", "resolved_by", "created_at")
	sb.Values(d.ID, d.ItemID, database.NewJSONB(d.Record), database.NewJSONB(d.Candidates), d.Action, d.CanonicalID, d.ResolvedBy, d.CreatedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"item_id": d.ItemID}).Error("Failed to append quarantine decision")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record quarantine decision")
	}

	return nil
}

func (r *Repository) Decisions(ctx context.Context, itemID string) ([]models.Decision, error) {
	ctx, span := tracing.StartSpan(ctx, "quarantine.Repository.Decisions")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("id", "item_id", "record", "candidates", "action", "canonical_id", "resolved_by", "created_at")
	sb.From(decisionsTable)
	sb.Where(sb.Equal("item_id", itemID))
	sb.OrderBy("created_at")

	query, args := sb.Build()
	var rows []decisionRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"item_id": itemID}).Error("Failed to list quarantine decisions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list quarantine decisions")
	}

	decisions := make([]models.Decision, len(rows))
	for i, row := range rows {
		decisions[i] = models.Decision{
			ID:          row.ID,
			ItemID:      row.ItemID,
			Record:      row.Record.GetValue(),
			Candidates:  row.Candidates.GetValue(),
			Action:      models.ResolveAction(row.Action),
			CanonicalID: row.CanonicalID,
			ResolvedBy:  row.ResolvedBy,
			CreatedAt:   row.CreatedAt,
		}
	}
	return decisions, nil
}
