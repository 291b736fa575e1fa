package runner

import (
	"context"
	"time"

	"github.com/bgross0/data-migrator-sub001/pkg/events"
	"github.com/bgross0/data-migrator-sub001/pkg/ledger"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
	"github.com/bgross0/data-migrator-sub001/pkg/tracing"
)

// Rollback supersedes every ledger entry the run wrote and stamps the run and
// its batches as rolled back. Entities already created in the target are left
// in place; later runs re-resolve the superseded rows against them.
func (c *Controller) Rollback(ctx context.Context, runID string) (*models.BatchRun, error) {
	ctx, span := tracing.StartSpan(ctx, "runner.Controller.Rollback")
	defer span.End()

	run, err := c.rollbackable(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.RolledBackAt != nil {
		return run, nil
	}

	now := time.Now().UTC()
	n, err := c.exec.Ledger.Supersede(ctx, ledger.SupersedeFilter{RunID: runID, At: now})
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": runID}).Error("Failed to supersede run ledger entries")
		return nil, err
	}

	for i := range run.Batches {
		if run.Batches[i].RolledBack {
			continue
		}
		run.Batches[i].RolledBack = true
		if err := c.store.UpdateBatch(ctx, run.Batches[i]); err != nil {
			return nil, err
		}
	}
	run.RolledBackAt = &now
	if err := c.store.UpdateRun(ctx, *run); err != nil {
		return nil, err
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":     runID,
		"superseded": n,
	}).Info("Rolled back run")
	if err := c.exec.Emitter.EmitRunEvent(ctx, events.EventTypeRunRolledBack, *run); err != nil {
		c.logger.WithContext(ctx).WithError(err).Warn("Failed to publish run rollback")
	}
	return run, nil
}

// RollbackBatch supersedes the ledger entries of one batch.
func (c *Controller) RollbackBatch(ctx context.Context, runID string, position int) (*models.BatchRun, error) {
	ctx, span := tracing.StartSpan(ctx, "runner.Controller.RollbackBatch")
	defer span.End()

	run, err := c.rollbackable(ctx, runID)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= len(run.Batches) {
		return nil, errBatchNotFound(runID, position)
	}
	batch := &run.Batches[position]
	if batch.RolledBack {
		return run, nil
	}

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":   runID,
		"batch_id": batch.ID,
		"position": position,
	})
	for _, later := range run.Batches[position+1:] {
		if !later.RolledBack && later.Status != models.BatchStatusPending {
			log.WithFields(map[string]any{"dependent_position": later.Position}).Warn("Rolling back a batch whose dependents stay loaded")
			break
		}
	}

	n, err := c.exec.Ledger.Supersede(ctx, ledger.SupersedeFilter{RunID: runID, BatchID: batch.ID, At: time.Now().UTC()})
	if err != nil {
		log.WithError(err).Error("Failed to supersede batch ledger entries")
		return nil, err
	}
	batch.RolledBack = true
	if err := c.store.UpdateBatch(ctx, *batch); err != nil {
		return nil, err
	}

	log.WithFields(map[string]any{"superseded": n}).Info("Rolled back batch")
	return run, nil
}

func (c *Controller) rollbackable(ctx context.Context, runID string) (*models.BatchRun, error) {
	run, err := c.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !run.Status.Terminal() {
		return nil, errRunConflict(runID, "cannot roll back a %s run", run.Status)
	}
	return run, nil
}
