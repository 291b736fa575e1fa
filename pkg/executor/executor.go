// Package executor loads one batch: every record is normalized, resolved,
// validated and written with bounded parallelism, and ends in exactly one
// terminal outcome.
package executor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	"github.com/bgross0/data-migrator-sub001/pkg/adapter"
	"github.com/bgross0/data-migrator-sub001/pkg/events"
	"github.com/bgross0/data-migrator-sub001/pkg/ledger"
	"github.com/bgross0/data-migrator-sub001/pkg/lock"
	"github.com/bgross0/data-migrator-sub001/pkg/matching"
	"github.com/bgross0/data-migrator-sub001/pkg/metrics"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
	"github.com/bgross0/data-migrator-sub001/pkg/normalizers"
	"github.com/bgross0/data-migrator-sub001/pkg/quarantine"
	"github.com/bgross0/data-migrator-sub001/pkg/references"
	"github.com/bgross0/data-migrator-sub001/pkg/tracing"
	"github.com/bgross0/data-migrator-sub001/pkg/validation"
)

type Config struct {
	Workers int // Default 8
	// MaxRetries is the number of retries after the first attempt of a write.
	MaxRetries     int           // Default 3
	InitialBackoff time.Duration // Default 100ms
	MaxBackoff     time.Duration // Default 2s
	// WriteTimeout bounds each adapter call. Expiry counts as a transient failure.
	WriteTimeout time.Duration // Default 30s
	Normalize    normalizers.Options
}

func DefaultConfig() Config {
	return Config{
		Workers:        8,
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		WriteTimeout:   30 * time.Second,
		Normalize:      normalizers.DefaultOptions(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.Normalize.DefaultRegion == "" {
		c.Normalize = d.Normalize
	}
	return c
}

// Input is one record to load. Replay is set when the record comes back from
// quarantine.
type Input struct {
	Record models.SourceRecord
	Replay *Replay
}

// Replay carries a quarantine item and the reviewer's decision, if any. An
// empty Action replays the record through the normal pipeline.
type Replay struct {
	ItemID      string
	Action      models.ResolveAction
	CanonicalID string
}

// BatchResult holds per-type counts and every record outcome, sorted by
// entity type and source identity.
type BatchResult struct {
	RunID    string
	BatchID  string
	Counts   map[string]models.Counts
	Outcomes []models.RecordOutcome
}

type Dependencies struct {
	Specs      models.SpecSet
	Engine     *matching.Engine
	Ledger     ledger.Ledger
	Quarantine *quarantine.Service
	Validator  *validation.Suite
	Target     adapter.Adapter
	References references.Store
	Locker     lock.Locker
	Emitter    *events.Emitter
}

type Executor struct {
	Dependencies
	cfg    Config
	logger ectologger.Logger
}

func New(deps Dependencies, cfg Config, logger ectologger.Logger) *Executor {
	if deps.Locker == nil {
		deps.Locker = lock.NewKeyedMutex()
	}
	return &Executor{
		Dependencies: deps,
		cfg:          cfg.withDefaults(),
		logger:       logger,
	}
}

// NormalizeOptions returns the normalization settings records are processed with.
func (e *Executor) NormalizeOptions() normalizers.Options {
	return e.cfg.Normalize
}

// Run processes inputs for batch. Record failures never fail the batch: they
// become quarantined or hard_failed outcomes. The returned error is reserved
// for inputs that do not belong to the batch.
func (e *Executor) Run(ctx context.Context, batch models.Batch, inputs []Input) (*BatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "executor.Executor.Run")
	defer span.End()

	inBatch := make(map[string]struct{}, len(batch.EntityTypes))
	for _, t := range batch.EntityTypes {
		if _, ok := e.Specs[t]; !ok {
			return nil, fmt.Errorf("batch %d names entity type %q which has no spec", batch.Position, t)
		}
		inBatch[t] = struct{}{}
	}
	for _, in := range inputs {
		if _, ok := inBatch[in.Record.EntityType]; !ok {
			return nil, fmt.Errorf("record %s is a %q, which is not loaded in batch %d", in.Record.Ref(), in.Record.EntityType, batch.Position)
		}
	}

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":       batch.RunID,
		"batch_id":     batch.ID,
		"position":     batch.Position,
		"entity_types": batch.EntityTypes,
		"records":      len(inputs),
	})
	log.Info("Starting batch")
	start := time.Now()

	outcomes := make([]models.RecordOutcome, len(inputs))
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Workers)
	for i, in := range inputs {
		g.Go(func() error {
			outcomes[i] = e.process(ctx, batch, in)
			return nil
		})
	}
	_ = g.Wait()

	result := &BatchResult{
		RunID:    batch.RunID,
		BatchID:  batch.ID,
		Counts:   make(map[string]models.Counts, len(batch.EntityTypes)),
		Outcomes: outcomes,
	}
	for _, t := range batch.EntityTypes {
		result.Counts[t] = models.Counts{}
	}
	for _, o := range outcomes {
		c := result.Counts[o.EntityType]
		c.Total++
		c.Record(o.Outcome)
		result.Counts[o.EntityType] = c
		metrics.RecordsTotal.WithLabelValues(o.EntityType, string(o.Outcome)).Inc()
	}
	sortOutcomes(result.Outcomes)

	if err := e.Emitter.EmitRecordOutcomes(ctx, batch.RunID, batch.ID, result.Outcomes); err != nil {
		log.WithError(err).Warn("Failed to publish record outcomes")
	}

	log.WithFields(map[string]any{
		"counts":   result.Counts,
		"duration": time.Since(start).String(),
	}).Info("Finished batch")

	return result, nil
}

func sortOutcomes(outcomes []models.RecordOutcome) {
	sort.SliceStable(outcomes, func(i, j int) bool {
		a, b := outcomes[i], outcomes[j]
		if a.EntityType != b.EntityType {
			return a.EntityType < b.EntityType
		}
		if a.Record.SourceSystem != b.Record.SourceSystem {
			return a.Record.SourceSystem < b.Record.SourceSystem
		}
		return a.Record.SourcePK < b.Record.SourcePK
	})
}
