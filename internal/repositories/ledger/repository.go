package ledger

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/bgross0/data-migrator-sub001/pkg/database"
	"github.com/bgross0/data-migrator-sub001/pkg/fingerprint"
	ledgerpkg "github.com/bgross0/data-migrator-sub001/pkg/ledger"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
	"github.com/bgross0/data-migrator-sub001/pkg/tracing"
)

const table = "ledger_entries"

var columns = []string{"source_system", "source_pk", "entity_type", "canonical_id", "content_hash", "run_id", "batch_id", "created_at", "updated_at", "superseded_at"}

// Repository is the Postgres ledger. A partial unique index on
// (source_system, source_pk) over rows with a null superseded_at keeps one
// active entry per key.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

var _ ledgerpkg.Ledger = (*Repository)(nil)

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) Lookup(ctx context.Context, sourceSystem, sourcePK string) (*models.LedgerEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "ledger.Repository.Lookup")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("source_system", sourceSystem),
		sb.Equal("source_pk", sourcePK),
		sb.IsNull("superseded_at"),
	)

	query, args := sb.Build()
	var entry models.LedgerEntry
	if err := r.db.GetContext(ctx, &entry, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"source_system": sourceSystem,
			"source_pk":     sourcePK,
		}).Error("Failed to look up ledger entry")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to look up ledger entry")
	}

	return &entry, nil
}

func (r *Repository) Upsert(ctx context.Context, entry models.LedgerEntry) error {
	ctx, span := tracing.StartSpan(ctx, "ledger.Repository.Upsert")
	defer span.End()

	if entry.SourceSystem == "" || entry.SourcePK == "" || entry.CanonicalID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "ledger entry needs a source system, source pk and canonical id")
	}

	now := time.Now().UTC()
	sb := database.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols("source_system", "source_pk", "entity_type", "canonical_id", "content_hash", "run_id", "batch_id", "created_at", "updated_at")
	sb.Values(entry.SourceSystem, entry.SourcePK, entry.EntityType, entry.CanonicalID, entry.ContentHash, entry.RunID, entry.BatchID, now, now)

	query, args := sb.Build()
	query += database.OnConflictUpdate(
		[]string{"source_system", "source_pk"},
		"superseded_at IS NULL",
		"entity_type", "canonical_id", "content_hash", "run_id", "batch_id", "updated_at",
	)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"source":       entry.Ref().String(),
			"canonical_id": entry.CanonicalID,
		}).Error("Failed to upsert ledger entry")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert ledger entry")
	}

	return nil
}

func (r *Repository) Changed(ctx context.Context, sourceSystem, sourcePK, hash string) (bool, error) {
	entry, err := r.Lookup(ctx, sourceSystem, sourcePK)
	if err != nil || entry == nil {
		return true, err
	}
	return fingerprint.HasChanged(entry.ContentHash, hash), nil
}

func (r *Repository) Supersede(ctx context.Context, filter ledgerpkg.SupersedeFilter) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "ledger.Repository.Supersede")
	defer span.End()

	if filter.RunID == "" && filter.BatchID == "" {
		return 0, httperror.NewHTTPError(http.StatusBadRequest, "supersede needs a run or batch")
	}
	at := filter.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	ub := database.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(ub.Assign("superseded_at", at))
	where := []string{ub.IsNull("superseded_at")}
	if filter.RunID != "" {
		where = append(where, ub.Equal("run_id", filter.RunID))
	}
	if filter.BatchID != "" {
		where = append(where, ub.Equal("batch_id", filter.BatchID))
	}
	ub.Where(where...)

	query, args := ub.Build()
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id":   filter.RunID,
			"batch_id": filter.BatchID,
		}).Error("Failed to supersede ledger entries")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to supersede ledger entries")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count superseded ledger entries: %w", err)
	}
	return int(n), nil
}

func (r *Repository) ListByBatch(ctx context.Context, batchID string) ([]models.LedgerEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "ledger.Repository.ListByBatch")
	defer span.End()

	return r.list(ctx, "batch_id", batchID)
}

func (r *Repository) ListByRun(ctx context.Context, runID string) ([]models.LedgerEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "ledger.Repository.ListByRun")
	defer span.End()

	return r.list(ctx, "run_id", runID)
}

func (r *Repository) list(ctx context.Context, column, value string) ([]models.LedgerEntry, error) {
	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal(column, value),
		sb.IsNull("superseded_at"),
	)
	sb.OrderBy("source_system", "source_pk")

	query, args := sb.Build()
	var entries []models.LedgerEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{column: value}).Error("Failed to list ledger entries")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list ledger entries")
	}

	return entries, nil
}
