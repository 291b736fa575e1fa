// Package runner drives a migration run: it plans the batches, executes them
// strictly in order, gates each on its post-load checks and keeps the run
// state that the status surface reads.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/bgross0/data-migrator-sub001/pkg/errs"
	"github.com/bgross0/data-migrator-sub001/pkg/events"
	"github.com/bgross0/data-migrator-sub001/pkg/executor"
	"github.com/bgross0/data-migrator-sub001/pkg/matching"
	"github.com/bgross0/data-migrator-sub001/pkg/metrics"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
	"github.com/bgross0/data-migrator-sub001/pkg/planner"
	"github.com/bgross0/data-migrator-sub001/pkg/tracing"
	"github.com/bgross0/data-migrator-sub001/pkg/validation"
)

type Config struct {
	// BatchTimeout bounds one batch. The batch ignores run cancellation but
	// not this deadline.
	BatchTimeout time.Duration // Default 1h
	// SeedIndex refreshes the match index from the target before each batch.
	SeedIndex bool
}

func (c Config) withDefaults() Config {
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = time.Hour
	}
	return c
}

// RunRequest is the input of a fresh run.
type RunRequest struct {
	Records []models.SourceRecord
}

type Controller struct {
	exec   *executor.Executor
	store  Store
	cfg    Config
	logger ectologger.Logger

	mu        sync.Mutex
	active    map[string]struct{}
	cancelled map[string]struct{}
}

func New(exec *executor.Executor, store Store, cfg Config, logger ectologger.Logger) *Controller {
	return &Controller{
		exec:      exec,
		store:     store,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		active:    make(map[string]struct{}),
		cancelled: make(map[string]struct{}),
	}
}

// Plan returns the batch plan for every configured entity type.
func (c *Controller) Plan() ([][]string, error) {
	specs := make([]models.EntityTypeSpec, 0, len(c.exec.Specs))
	for _, name := range c.exec.Specs.Names() {
		specs = append(specs, c.exec.Specs[name])
	}
	return planner.Plan(specs)
}

// Start plans and executes a run. Configuration errors abort before the run
// is created. The returned run is terminal.
func (c *Controller) Start(ctx context.Context, req RunRequest) (*models.BatchRun, error) {
	ctx, span := tracing.StartSpan(ctx, "runner.Controller.Start")
	defer span.End()

	run, inputs, err := c.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.execute(ctx, run, inputs, nil)
}

// Submit validates and persists a run, then executes it in the background.
// The returned run is still pending; poll Status for progress. The run is
// detached from ctx and stops only through Cancel.
func (c *Controller) Submit(ctx context.Context, req RunRequest) (*models.BatchRun, error) {
	ctx, span := tracing.StartSpan(ctx, "runner.Controller.Submit")
	defer span.End()

	run, inputs, err := c.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := c.register(ctx, run); err != nil {
		return nil, err
	}

	submitted := cloneRun(run)
	bg := context.WithoutCancel(ctx)
	go func() {
		if _, err := c.drive(bg, run, inputs, nil); err != nil {
			c.logger.WithContext(bg).WithError(err).WithFields(map[string]any{"run_id": run.ID}).Error("Background run failed")
		}
	}()
	return &submitted, nil
}

func (c *Controller) prepare(ctx context.Context, req RunRequest) (models.BatchRun, map[string][]executor.Input, error) {
	levels, err := c.Plan()
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).Error("Failed to plan run")
		return models.BatchRun{}, nil, err
	}
	byType, err := c.groupRecords(req.Records)
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).Error("Rejected run input")
		return models.BatchRun{}, nil, err
	}

	inputs := make(map[string][]executor.Input, len(byType))
	for t, records := range byType {
		for _, rec := range records {
			inputs[t] = append(inputs[t], executor.Input{Record: rec})
		}
	}
	return c.newRun(levels, false, ""), inputs, nil
}

// Resume replays the replayable quarantine items of runID in a new run,
// ordered by the same plan. Ledgered rows are not re-read.
func (c *Controller) Resume(ctx context.Context, runID string) (*models.BatchRun, error) {
	ctx, span := tracing.StartSpan(ctx, "runner.Controller.Resume")
	defer span.End()

	parent, err := c.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !parent.Status.Terminal() {
		return nil, errRunConflict(runID, "cannot resume a %s run", parent.Status)
	}

	levels, err := c.Plan()
	if err != nil {
		return nil, err
	}

	items, err := c.exec.Quarantine.Replayable(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list replayable items: %w", err)
	}
	skippedItems, err := c.exec.Quarantine.Skipped(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list skipped items: %w", err)
	}

	inputs := make(map[string][]executor.Input)
	for _, item := range items {
		if _, ok := c.exec.Specs[item.EntityType]; !ok {
			return nil, errs.Config("quarantine item %s is a %q, which has no spec", item.ID, item.EntityType)
		}
		inputs[item.EntityType] = append(inputs[item.EntityType], executor.Input{
			Record: item.Record,
			Replay: &executor.Replay{ItemID: item.ID, Action: item.Action, CanonicalID: item.CanonicalID},
		})
	}
	skipped := make(map[string]int)
	for _, item := range skippedItems {
		skipped[item.EntityType]++
	}

	// Only levels with replayable items become batches. Skipped items are
	// counted on the batch of their type when one runs; otherwise they stay
	// visible through the parent run's skipped quarantine items.
	var kept [][]string
	for _, level := range levels {
		for _, t := range level {
			if len(inputs[t]) > 0 {
				kept = append(kept, level)
				break
			}
		}
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"parent_run_id": runID,
		"replayable":    len(items),
		"skipped":       len(skippedItems),
		"batches":       len(kept),
	}).Info("Resuming run from quarantine")

	run := c.newRun(kept, true, runID)
	return c.execute(ctx, run, inputs, skipped)
}

// Cancel asks a running run to stop. The in-flight batch finishes first.
func (c *Controller) Cancel(ctx context.Context, runID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[runID]; !ok {
		run, err := c.store.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if run == nil {
			return errRunNotFound(runID)
		}
		return errRunConflict(runID, "run is %s and not executing in this process", run.Status)
	}
	c.cancelled[runID] = struct{}{}
	c.logger.WithContext(ctx).WithFields(map[string]any{"run_id": runID}).Info("Cancellation requested")
	return nil
}

// Status returns the polled status view of a run.
func (c *Controller) Status(ctx context.Context, runID string) (*models.RunStatusView, error) {
	ctx, span := tracing.StartSpan(ctx, "runner.Controller.Status")
	defer span.End()

	run, err := c.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	view := run.View()
	return &view, nil
}

func (c *Controller) Get(ctx context.Context, runID string) (*models.BatchRun, error) {
	return c.getRun(ctx, runID)
}

func (c *Controller) List(ctx context.Context, limit int) ([]models.BatchRun, error) {
	return c.store.ListRuns(ctx, limit)
}

func (c *Controller) getRun(ctx context.Context, runID string) (*models.BatchRun, error) {
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, errRunNotFound(runID)
	}
	return run, nil
}

func (c *Controller) groupRecords(records []models.SourceRecord) (map[string][]models.SourceRecord, error) {
	byType := make(map[string][]models.SourceRecord)
	for i, rec := range records {
		if _, ok := c.exec.Specs[rec.EntityType]; !ok {
			return nil, errs.Config("record %d (%s) has unknown entity type %q", i, rec.Ref(), rec.EntityType)
		}
		if rec.SourceSystem == "" || rec.SourcePK == "" {
			return nil, errs.Config("record %d has no source identity", i)
		}
		byType[rec.EntityType] = append(byType[rec.EntityType], rec)
	}
	return byType, nil
}

func (c *Controller) newRun(levels [][]string, resume bool, parentID string) models.BatchRun {
	run := models.BatchRun{
		ID:          uuid.New().String(),
		Status:      models.RunStatusPending,
		Resume:      resume,
		ParentRunID: parentID,
		CreatedAt:   time.Now().UTC(),
	}
	for i, level := range levels {
		counts := make(map[string]models.Counts, len(level))
		for _, t := range level {
			counts[t] = models.Counts{}
		}
		run.Batches = append(run.Batches, models.Batch{
			ID:          uuid.New().String(),
			RunID:       run.ID,
			Position:    i,
			EntityTypes: level,
			Status:      models.BatchStatusPending,
			Counts:      counts,
		})
	}
	return run
}

func (c *Controller) execute(ctx context.Context, run models.BatchRun, inputs map[string][]executor.Input, skipped map[string]int) (*models.BatchRun, error) {
	if err := c.register(ctx, run); err != nil {
		return nil, err
	}
	return c.drive(ctx, run, inputs, skipped)
}

// register persists a new run and marks it as executing in this process.
func (c *Controller) register(ctx context.Context, run models.BatchRun) error {
	if err := c.store.CreateRun(ctx, run); err != nil {
		c.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": run.ID}).Error("Failed to create run")
		return err
	}
	c.mu.Lock()
	c.active[run.ID] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (c *Controller) drive(ctx context.Context, run models.BatchRun, inputs map[string][]executor.Input, skipped map[string]int) (*models.BatchRun, error) {
	log := c.logger.WithContext(ctx).WithFields(map[string]any{"run_id": run.ID})
	defer func() {
		c.mu.Lock()
		delete(c.active, run.ID)
		delete(c.cancelled, run.ID)
		c.mu.Unlock()
	}()

	// State writes outlive the caller's cancellation.
	persistCtx := context.WithoutCancel(ctx)

	now := time.Now().UTC()
	run.Status = models.RunStatusRunning
	run.StartedAt = &now
	if err := c.store.UpdateRun(persistCtx, run); err != nil {
		log.WithError(err).Error("Failed to mark run running")
		return nil, err
	}
	log.WithFields(map[string]any{"batches": len(run.Batches), "resume": run.Resume}).Info("Starting run")

	status := models.RunStatusCompleted
	for i := range run.Batches {
		if c.stopRequested(ctx, run.ID) {
			log.WithFields(map[string]any{"next_batch": i}).Warn("Run cancelled between batches")
			status = models.RunStatusCancelled
			break
		}

		batch, err := c.runBatch(ctx, run.Batches[i], inputs, skipped)
		run.Batches[i] = batch
		if err != nil {
			log.WithError(err).WithFields(map[string]any{"position": batch.Position}).Error("Batch failed")
			status = models.RunStatusFailed
			run.Error = err.Error()
			break
		}
		if batch.Status == models.BatchStatusPartial {
			status = models.RunStatusPartial
		}
	}

	ended := time.Now().UTC()
	run.Status = status
	run.EndedAt = &ended
	if err := c.store.UpdateRun(persistCtx, run); err != nil {
		log.WithError(err).Error("Failed to persist run result")
		return nil, err
	}
	metrics.RunsTotal.WithLabelValues(string(status)).Inc()
	if err := c.exec.Emitter.EmitRunEvent(persistCtx, events.EventTypeRunFinished, run); err != nil {
		log.WithError(err).Warn("Failed to publish run result")
	}

	log.WithFields(map[string]any{
		"status":   status,
		"duration": ended.Sub(now).String(),
	}).Info("Finished run")
	return &run, nil
}

func (c *Controller) stopRequested(ctx context.Context, runID string) bool {
	if ctx.Err() != nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.cancelled[runID]
	return ok
}

// runBatch executes one batch and gates it on the post-load checks. The
// returned error is set when the batch failed and the run must halt.
func (c *Controller) runBatch(ctx context.Context, batch models.Batch, inputs map[string][]executor.Input, skipped map[string]int) (models.Batch, error) {
	ctx, span := tracing.StartSpan(ctx, "runner.Controller.runBatch")
	defer span.End()

	// Cancellation is honored between batches only.
	batchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.BatchTimeout)
	defer cancel()

	log := c.logger.WithContext(batchCtx).WithFields(map[string]any{
		"run_id":       batch.RunID,
		"batch_id":     batch.ID,
		"position":     batch.Position,
		"entity_types": batch.EntityTypes,
	})

	start := time.Now().UTC()
	batch.Status = models.BatchStatusRunning
	batch.StartedAt = &start
	if err := c.store.UpdateBatch(batchCtx, batch); err != nil {
		return batch, fmt.Errorf("mark batch running: %w", err)
	}

	fail := func(err error) (models.Batch, error) {
		return c.finishBatch(batchCtx, batch, models.BatchStatusFailed, start), err
	}

	if c.cfg.SeedIndex {
		if err := c.seed(batchCtx, batch.EntityTypes); err != nil {
			return fail(err)
		}
	}

	var batchInputs []executor.Input
	for _, t := range batch.EntityTypes {
		batchInputs = append(batchInputs, inputs[t]...)
	}

	result, err := c.exec.Run(batchCtx, batch, batchInputs)
	if err != nil {
		return fail(err)
	}
	for _, t := range batch.EntityTypes {
		counts := result.Counts[t]
		counts.Skipped = skipped[t]
		batch.Counts[t] = counts
	}

	report, err := c.exec.Validator.PostLoad(batchCtx, validation.PostLoadInput{
		RunID:       batch.RunID,
		BatchID:     batch.ID,
		EntityTypes: batch.EntityTypes,
		Counts:      result.Counts,
		Outcomes:    result.Outcomes,
	})
	if err != nil {
		return fail(fmt.Errorf("post-load checks: %w", err))
	}
	batch.Findings = report.Findings

	if report.Failed {
		log.WithFields(map[string]any{"findings": len(report.Findings)}).Error("Post-load checks failed the batch")
		if report.Orphans != nil {
			return fail(report.Orphans)
		}
		return fail(fmt.Errorf("batch %d failed post-load checks", batch.Position))
	}

	status := models.BatchStatusCompleted
	if totals := batch.Totals(); totals.Quarantined > 0 || totals.HardFailed > 0 {
		status = models.BatchStatusPartial
	}
	return c.finishBatch(batchCtx, batch, status, start), nil
}

func (c *Controller) finishBatch(ctx context.Context, batch models.Batch, status models.BatchStatus, start time.Time) models.Batch {
	ended := time.Now().UTC()
	batch.Status = status
	batch.EndedAt = &ended

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":   batch.RunID,
		"batch_id": batch.ID,
		"position": batch.Position,
		"status":   status,
	})
	persistCtx := context.WithoutCancel(ctx)
	if err := c.store.UpdateBatch(persistCtx, batch); err != nil {
		log.WithError(err).Error("Failed to persist batch result")
	}
	metrics.BatchDuration.WithLabelValues(string(status)).Observe(ended.Sub(start).Seconds())
	if err := c.exec.Emitter.EmitBatchCompleted(persistCtx, batch); err != nil {
		log.WithError(err).Warn("Failed to publish batch result")
	}
	log.WithFields(map[string]any{"counts": batch.Counts}).Info("Batch finished")
	return batch
}

// seed loads the target's current entities of entityTypes into the match index.
func (c *Controller) seed(ctx context.Context, entityTypes []string) error {
	for _, t := range entityTypes {
		entities, err := c.exec.Target.Fetch(ctx, t)
		if err != nil {
			return fmt.Errorf("seed %s index: %w", t, err)
		}
		n := matching.Seed(c.exec.Engine.Index(), c.exec.Specs[t], entities, c.exec.NormalizeOptions())
		c.logger.WithContext(ctx).WithFields(map[string]any{"entity_type": t, "entities": n}).Debug("Seeded match index")
	}
	return nil
}
