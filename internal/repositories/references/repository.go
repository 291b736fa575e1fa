package references

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/bgross0/data-migrator-sub001/pkg/database"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
	refpkg "github.com/bgross0/data-migrator-sub001/pkg/references"
	"github.com/bgross0/data-migrator-sub001/pkg/tracing"
)

const table = "written_references"

var columns = []string{"run_id", "batch_id", "from_entity_type", "from_id", "field", "target_type", "target_id", "created_at"}

// insertChunk keeps each INSERT well below the Postgres parameter limit.
const insertChunk = 500

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

var _ refpkg.Store = (*Repository)(nil)

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) Record(ctx context.Context, refs []models.WrittenReference) error {
	ctx, span := tracing.StartSpan(ctx, "references.Repository.Record")
	defer span.End()

	now := time.Now().UTC()
	for start := 0; start < len(refs); start += insertChunk {
		chunk := refs[start:min(start+insertChunk, len(refs))]

		sb := database.NewInsertBuilder()
		sb.InsertInto(table)
		sb.Cols(columns...)
		for _, ref := range chunk {
			createdAt := ref.CreatedAt
			if createdAt.IsZero() {
				createdAt = now
			}
			sb.Values(ref.RunID, ref.BatchID, ref.FromEntityType, ref.FromID, ref.Field, ref.TargetType, ref.TargetID, createdAt)
		}

		query, args := sb.Build()
		query += database.OnConflictDoNothing()
		if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(chunk)}).Error("Failed to record written references")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record written references")
		}
	}

	return nil
}

func (r *Repository) ListByBatch(ctx context.Context, batchID string) ([]models.WrittenReference, error) {
	ctx, span := tracing.StartSpan(ctx, "references.Repository.ListByBatch")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("batch_id", batchID))
	sb.OrderBy("from_entity_type", "from_id", "field", "target_id")

	query, args := sb.Build()
	return r.selectRefs(ctx, query, args)
}

func (r *Repository) ListByTarget(ctx context.Context, runID string, targetTypes []string) ([]models.WrittenReference, error) {
	ctx, span := tracing.StartSpan(ctx, "references.Repository.ListByTarget")
	defer span.End()

	if len(targetTypes) == 0 {
		return nil, nil
	}
	types := make([]any, len(targetTypes))
	for i, t := range targetTypes {
		types[i] = t
	}

	sb := database.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("run_id", runID),
		sb.In("target_type", types...),
	)
	sb.OrderBy("from_entity_type", "from_id", "field", "target_id")

	query, args := sb.Build()
	return r.selectRefs(ctx, query, args)
}

func (r *Repository) selectRefs(ctx context.Context, query string, args []any) ([]models.WrittenReference, error) {
	var refs []models.WrittenReference
	if err := r.db.SelectContext(ctx, &refs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list written references")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list written references")
	}
	return refs, nil
}
