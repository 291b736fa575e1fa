package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"

	"github.com/Gobusters/ectologger"

	"github.com/bgross0/data-migrator-sub001/pkg/adapter"
	"github.com/bgross0/data-migrator-sub001/pkg/errs"
	"github.com/bgross0/data-migrator-sub001/pkg/lock"
	"github.com/bgross0/data-migrator-sub001/pkg/matching"
	"github.com/bgross0/data-migrator-sub001/pkg/metrics"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
	"github.com/bgross0/data-migrator-sub001/pkg/normalizers"
	"github.com/bgross0/data-migrator-sub001/pkg/validation"
)

// RuleSourceIdentity tags records whose source identity is already mapped to
// an entity of another type.
const RuleSourceIdentity = "source_identity"

// task is the state of one record moving through the pipeline.
type task struct {
	batch models.Batch
	input Input
	spec  models.EntityTypeSpec
	rec   normalizers.NormalizedRecord
	out   models.RecordOutcome
	log   ectologger.Logger
}

// process never panics and always returns a terminal outcome.
func (e *Executor) process(ctx context.Context, batch models.Batch, in Input) (out models.RecordOutcome) {
	t := &task{
		batch: batch,
		input: in,
		spec:  e.Specs[in.Record.EntityType],
		out: models.RecordOutcome{
			Record:     in.Record.Ref(),
			EntityType: in.Record.EntityType,
		},
	}
	t.log = e.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_id":    batch.ID,
		"entity_type": t.spec.Name,
		"source":      t.out.Record.String(),
	})

	defer func() {
		if r := recover(); r != nil {
			t.log.WithFields(map[string]any{"panic": fmt.Sprint(r), "stack": string(debug.Stack())}).Error("Record processing panicked")
			out = t.hardFail(fmt.Errorf("panic: %v", r))
		}
		if in.Replay != nil && out.Outcome != models.OutcomeHardFailed {
			if err := e.Quarantine.MarkApplied(context.WithoutCancel(ctx), in.Replay.ItemID); err != nil {
				t.log.WithError(err).WithFields(map[string]any{"item_id": in.Replay.ItemID}).Error("Failed to mark quarantine item applied")
			}
		}
	}()

	t.rec = normalizers.NormalizeRecord(in.Record, t.spec, e.cfg.Normalize)

	// Repeated rows of one source identity run one at a time so the later
	// ones see the ledger entry of the first.
	return e.withLocks(ctx, t, []string{SourceLockKey(in.Record)}, func(ctx context.Context) models.RecordOutcome {
		return e.route(ctx, t)
	})
}

func (e *Executor) route(ctx context.Context, t *task) models.RecordOutcome {
	in := t.input
	if in.Replay != nil {
		switch in.Replay.Action {
		case models.ActionMatch:
			return e.applyMatch(ctx, t, in.Replay.CanonicalID, t.spec.Policy != models.PolicyLookupOnly)
		case models.ActionCreate:
			return e.withLocks(ctx, t, LockKeys(t.spec, t.rec), func(ctx context.Context) models.RecordOutcome {
				return e.applyCreate(ctx, t)
			})
		}
	}

	entry, err := e.Ledger.Lookup(ctx, t.rec.Record.SourceSystem, t.rec.Record.SourcePK)
	if err != nil {
		return t.hardFail(fmt.Errorf("ledger lookup: %w", err))
	}
	if entry != nil {
		if entry.EntityType != t.spec.Name {
			detail := fmt.Sprintf("%s is already ledgered as %s %s", t.out.Record, entry.EntityType, entry.CanonicalID)
			return e.quarantine(ctx, t, models.ReasonValidationFailed, RuleSourceIdentity, detail, nil)
		}
		return e.applyLedgered(ctx, t, entry)
	}

	return e.withLocks(ctx, t, LockKeys(t.spec, t.rec), func(ctx context.Context) models.RecordOutcome {
		return e.resolveAndApply(ctx, t)
	})
}

// applyLedgered handles a record the ledger already maps. An unchanged
// content hash writes nothing, not even the ledger: the entry keeps the run
// and batch that last wrote it, so rolling back this run leaves it alone.
func (e *Executor) applyLedgered(ctx context.Context, t *task, entry *models.LedgerEntry) models.RecordOutcome {
	if entry.ContentHash == t.rec.Record.ContentHash {
		t.log.Debug("Ledger hit with unchanged content")
		return t.matched(entry.CanonicalID, false)
	}
	t.log.Debug("Ledger hit with changed content")
	return e.applyMatch(ctx, t, entry.CanonicalID, t.spec.Policy != models.PolicyLookupOnly)
}

// resolveAndApply runs the match engine and acts on its decision. It runs
// under the record's natural-key locks.
func (e *Executor) resolveAndApply(ctx context.Context, t *task) models.RecordOutcome {
	res, err := e.Engine.Resolve(ctx, t.rec, t.spec)
	if err != nil {
		return t.hardFail(fmt.Errorf("resolve: %w", err))
	}
	metrics.ResolutionsTotal.WithLabelValues(t.spec.Name, string(res.Kind), string(res.Reason)).Inc()

	switch res.Kind {
	case models.ResolutionAutoMatch:
		return e.applyMatch(ctx, t, res.CanonicalID, e.updatesOnMatch(t.spec))
	case models.ResolutionAutoCreate:
		return e.applyCreate(ctx, t)
	default:
		ambiguity := &errs.MatchAmbiguity{Reason: string(res.Reason), Candidates: len(res.Candidates), TopScore: res.Score}
		return e.quarantine(ctx, t, res.Reason, "", ambiguity.Error(), res.Candidates)
	}
}

// applyMatch validates the record and points the ledger at canonicalID. With
// update set the record is also written over the canonical entity.
func (e *Executor) applyMatch(ctx context.Context, t *task, canonicalID string, update bool) models.RecordOutcome {
	if canonicalID == "" {
		return e.quarantine(ctx, t, models.ReasonAmbiguousAnchor, "", "no canonical id to match", nil)
	}

	refs, out, ok := e.preLoad(ctx, t)
	if !ok {
		return out
	}

	updated := false
	if update {
		payload := Payload(t.rec.Record, t.spec, refs)
		attempts, err := e.write(ctx, t.spec.Name, adapter.OpUpdate, func(ctx context.Context) error {
			return e.Target.Update(ctx, t.spec.Name, canonicalID, payload)
		})
		t.out.Attempts = attempts
		if err != nil {
			return e.writeFailed(ctx, t, err)
		}
		updated = true
		e.recordReferences(ctx, t, canonicalID, refs)
		e.Engine.Index().Add(t.spec, matching.Entry{ID: canonicalID, Values: t.rec.Values})
	}

	if err := e.upsertLedger(ctx, t, canonicalID); err != nil {
		return t.hardFail(err)
	}
	return t.matched(canonicalID, updated)
}

// updatesOnMatch reports whether a fresh match overwrites the canonical
// entity. Lookup-only types are never written.
func (e *Executor) updatesOnMatch(spec models.EntityTypeSpec) bool {
	return spec.UpdateOnMatch && spec.Policy != models.PolicyLookupOnly
}

// applyCreate writes a new canonical entity. A reviewer's create decision
// lets a suggest-only type create, but a lookup-only type never creates,
// whatever decision a replay carries.
func (e *Executor) applyCreate(ctx context.Context, t *task) models.RecordOutcome {
	if t.spec.Policy == models.PolicyLookupOnly || (!t.spec.Policy.AllowsCreate() && t.input.Replay == nil) {
		return e.quarantine(ctx, t, models.ReasonAmbiguousAnchor, "", fmt.Sprintf("%s policy never creates", t.spec.Policy), nil)
	}

	refs, out, ok := e.preLoad(ctx, t)
	if !ok {
		return out
	}

	payload := Payload(t.rec.Record, t.spec, refs)
	var id string
	attempts, err := e.write(ctx, t.spec.Name, adapter.OpCreate, func(ctx context.Context) error {
		created, err := e.Target.Create(ctx, t.spec.Name, payload)
		if err == nil {
			id = created
		}
		return err
	})
	t.out.Attempts = attempts
	if err != nil {
		return e.writeFailed(ctx, t, err)
	}

	if err := e.upsertLedger(ctx, t, id); err != nil {
		return t.hardFail(fmt.Errorf("created %s %s but could not ledger it: %w", t.spec.Name, id, err))
	}
	e.Engine.Index().Add(t.spec, matching.Entry{ID: id, Values: t.rec.Values})
	e.recordReferences(ctx, t, id, refs)

	t.out.Outcome = models.OutcomeCreated
	t.out.CanonicalID = id
	t.log.WithFields(map[string]any{"canonical_id": id}).Debug("Created canonical entity")
	return t.out
}

// preLoad runs the pre-load checks. A validation failure quarantines the
// record; anything else is an infrastructure failure.
func (e *Executor) preLoad(ctx context.Context, t *task) ([]validation.ResolvedRef, models.RecordOutcome, bool) {
	refs, err := e.Validator.PreLoad(ctx, t.rec.Record, t.spec)
	if err == nil {
		return refs, models.RecordOutcome{}, true
	}

	var ve *errs.ValidationError
	if errors.As(err, &ve) {
		return nil, e.quarantine(ctx, t, models.ReasonValidationFailed, ve.Rule, ve.Error(), nil), false
	}
	return nil, t.hardFail(fmt.Errorf("pre-load validation: %w", err)), false
}

func (e *Executor) writeFailed(ctx context.Context, t *task, err error) models.RecordOutcome {
	t.log.WithError(err).WithFields(map[string]any{
		"attempts":  t.out.Attempts,
		"transient": errs.IsTransient(err),
	}).Warn("Write to target failed")
	return e.quarantine(ctx, t, models.ReasonWriteFailed, string(errs.KindOf(err)), err.Error(), nil)
}

func (e *Executor) quarantine(ctx context.Context, t *task, reason models.QuarantineReason, rule, detail string, candidates []models.MatchCandidate) models.RecordOutcome {
	id, err := e.Quarantine.Enqueue(ctx, models.QuarantineItem{
		RunID:      t.batch.RunID,
		BatchID:    t.batch.ID,
		EntityType: t.spec.Name,
		Record:     t.rec.Record,
		Reason:     reason,
		Rule:       rule,
		Detail:     detail,
		Candidates: candidates,
	})
	if err != nil {
		return t.hardFail(fmt.Errorf("quarantine enqueue: %w", err))
	}

	t.out.Outcome = models.OutcomeQuarantined
	t.out.QuarantineID = id
	t.out.Error = detail
	t.log.WithFields(map[string]any{"reason": reason, "rule": rule, "item_id": id}).Debug("Quarantined record")
	return t.out
}

func (e *Executor) upsertLedger(ctx context.Context, t *task, canonicalID string) error {
	err := e.Ledger.Upsert(ctx, models.LedgerEntry{
		SourceSystem: t.rec.Record.SourceSystem,
		SourcePK:     t.rec.Record.SourcePK,
		EntityType:   t.spec.Name,
		CanonicalID:  canonicalID,
		ContentHash:  t.rec.Record.ContentHash,
		RunID:        t.batch.RunID,
		BatchID:      t.batch.ID,
	})
	if err != nil {
		return fmt.Errorf("ledger upsert: %w", err)
	}
	return nil
}

func (e *Executor) recordReferences(ctx context.Context, t *task, fromID string, refs []validation.ResolvedRef) {
	if len(refs) == 0 {
		return
	}
	written := make([]models.WrittenReference, 0, len(refs))
	for _, r := range refs {
		written = append(written, models.WrittenReference{
			RunID:          t.batch.RunID,
			BatchID:        t.batch.ID,
			FromEntityType: t.spec.Name,
			FromID:         fromID,
			Field:          r.Field,
			TargetType:     r.TargetType,
			TargetID:       r.CanonicalID,
		})
	}
	if err := e.References.Record(ctx, written); err != nil {
		t.log.WithError(err).Error("Failed to record written references")
	}
}

// withLocks runs fn holding keys, acquired in order. Source identity locks
// are always taken before natural-key locks.
func (e *Executor) withLocks(ctx context.Context, t *task, keys []string, fn func(ctx context.Context) models.RecordOutcome) models.RecordOutcome {
	var held []lock.Lock
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			_ = held[i].Release(context.WithoutCancel(ctx))
		}
	}()
	for _, key := range keys {
		l, err := e.Locker.Acquire(ctx, key)
		if err != nil {
			return t.hardFail(fmt.Errorf("acquire lock %s: %w", key, err))
		}
		held = append(held, l)
	}
	return fn(ctx)
}

// SourceLockKey is the lock serializing rows that share a source identity.
func SourceLockKey(rec models.SourceRecord) string {
	return "source:" + rec.Ref().String()
}

// LockKeys returns the sorted natural-key locks for a record: every key it
// could be matched on, or its entity type when it has no usable key.
func LockKeys(spec models.EntityTypeSpec, rec normalizers.NormalizedRecord) []string {
	keys := matching.NaturalKeys(spec, rec.Values)
	if len(keys) == 0 {
		return []string{spec.Name + ":*"}
	}
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		k = spec.Name + ":" + k
		if _, dup := seen[k]; !dup {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (t *task) matched(canonicalID string, updated bool) models.RecordOutcome {
	t.out.Outcome = models.OutcomeMatched
	t.out.CanonicalID = canonicalID
	t.out.Updated = updated
	return t.out
}

func (t *task) hardFail(err error) models.RecordOutcome {
	t.log.WithError(err).Error("Record hard failed")
	t.out.Outcome = models.OutcomeHardFailed
	t.out.Error = err.Error()
	return t.out
}
