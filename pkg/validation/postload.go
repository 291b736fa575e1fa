package validation

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sort"

	"github.com/bgross0/data-migrator-sub001/pkg/errs"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
	"github.com/bgross0/data-migrator-sub001/pkg/tracing"
)

// Post-load check names.
const (
	CheckCountReconciliation = "count_reconciliation"
	CheckSampleIntegrity     = "sample_integrity"
	CheckOrphanDetection     = "orphan_detection"
)

// PostLoadInput describes a finished batch.
type PostLoadInput struct {
	RunID       string
	BatchID     string
	EntityTypes []string
	Counts      map[string]models.Counts
	// Outcomes are the batch's record outcomes. Created and matched ones are
	// reconciled against the ledger and the target.
	Outcomes []models.RecordOutcome
}

// PostLoadReport is the outcome of the post-load checks. Failed means the
// batch must be marked failed and the run halted.
type PostLoadReport struct {
	Findings []models.Finding
	Failed   bool
	Orphans  *errs.OrphanIntegrityError
}

// PostLoad runs count reconciliation, sample integrity and orphan detection.
// An error means a check could not run at all.
func (s *Suite) PostLoad(ctx context.Context, in PostLoadInput) (*PostLoadReport, error) {
	ctx, span := tracing.StartSpan(ctx, "validation.Suite.PostLoad")
	defer span.End()

	exists := newExistsCache(s)
	report := &PostLoadReport{}

	counts, err := s.reconcileCounts(ctx, in, exists)
	if err != nil {
		return nil, err
	}
	report.Findings = append(report.Findings, counts...)

	sample, err := s.sampleIntegrity(ctx, in, exists)
	if err != nil {
		return nil, err
	}
	report.Findings = append(report.Findings, sample...)

	orphans, err := s.detectOrphans(ctx, in, exists)
	if err != nil {
		return nil, err
	}
	if orphans != nil {
		report.Orphans = orphans
		report.Failed = true
		report.Findings = append(report.Findings, models.Finding{
			Check:      CheckOrphanDetection,
			Severity:   models.SeverityCritical,
			EntityType: orphans.EntityTypes[0],
			Message:    orphans.Error(),
			Actual:     len(orphans.Dangling),
		})
	}

	if s.cfg.StrictPostLoad && len(report.Findings) > 0 {
		report.Failed = true
	}

	if len(report.Findings) > 0 {
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"run_id":   in.RunID,
			"batch_id": in.BatchID,
			"findings": report.Findings,
			"failed":   report.Failed,
		}).Warn("Post-load checks reported findings")
	}

	return report, nil
}

// reconcileCounts compares created + matched against the loaded records whose
// active ledger entry still points at their canonical id and whose canonical
// entity exists in the target. Rows the ledger shortcut skipped keep the entry
// an earlier run wrote, so the check follows outcomes rather than batch ids.
func (s *Suite) reconcileCounts(ctx context.Context, in PostLoadInput, exists *existsCache) ([]models.Finding, error) {
	actual := make(map[string]int)
	for _, o := range in.Outcomes {
		if o.Outcome != models.OutcomeCreated && o.Outcome != models.OutcomeMatched {
			continue
		}
		entry, err := s.ledger.Lookup(ctx, o.Record.SourceSystem, o.Record.SourcePK)
		if err != nil {
			return nil, err
		}
		if entry == nil || entry.CanonicalID != o.CanonicalID {
			continue
		}
		ok, err := exists.check(ctx, o.EntityType, o.CanonicalID)
		if err != nil {
			return nil, err
		}
		if ok {
			actual[o.EntityType]++
		}
	}

	var findings []models.Finding
	for _, entityType := range in.EntityTypes {
		c := in.Counts[entityType]
		expected := c.Created + c.Matched
		if actual[entityType] != expected {
			findings = append(findings, models.Finding{
				Check:      CheckCountReconciliation,
				Severity:   models.SeverityError,
				EntityType: entityType,
				Message:    fmt.Sprintf("expected %d ledgered entities present in the target, found %d", expected, actual[entityType]),
				Expected:   expected,
				Actual:     actual[entityType],
			})
		}
	}
	return findings, nil
}

type writtenRecord struct {
	entityType string
	id         string
}

// sampleIntegrity checks that every reference written by a random sample of
// the batch's records resolves in the target. The sample is seeded by the
// batch id so a re-check inspects the same records.
func (s *Suite) sampleIntegrity(ctx context.Context, in PostLoadInput, exists *existsCache) ([]models.Finding, error) {
	refs, err := s.refs.ListByBatch(ctx, in.BatchID)
	if err != nil {
		return nil, err
	}

	byRecord := make(map[writtenRecord][]models.WrittenReference)
	for _, r := range refs {
		key := writtenRecord{entityType: r.FromEntityType, id: r.FromID}
		byRecord[key] = append(byRecord[key], r)
	}
	records := make([]writtenRecord, 0, len(byRecord))
	for k := range byRecord {
		records = append(records, k)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].entityType != records[j].entityType {
			return records[i].entityType < records[j].entityType
		}
		return records[i].id < records[j].id
	})

	sample := Sample(records, s.cfg.SampleSize, in.BatchID)

	broken := make(map[string]int)
	for _, rec := range sample {
		for _, r := range byRecord[rec] {
			ok, err := exists.check(ctx, r.TargetType, r.TargetID)
			if err != nil {
				return nil, err
			}
			if !ok {
				broken[rec.entityType]++
				break
			}
		}
	}

	var findings []models.Finding
	for _, entityType := range sortedKeys(broken) {
		findings = append(findings, models.Finding{
			Check:      CheckSampleIntegrity,
			Severity:   models.SeverityError,
			EntityType: entityType,
			Message:    fmt.Sprintf("%d of %d sampled records have unresolvable references", broken[entityType], len(sample)),
			Expected:   0,
			Actual:     broken[entityType],
		})
	}
	return findings, nil
}

// detectOrphans scans every reference the run wrote into the batch's entity
// types and reports the ones whose target no longer exists.
func (s *Suite) detectOrphans(ctx context.Context, in PostLoadInput, exists *existsCache) (*errs.OrphanIntegrityError, error) {
	refs, err := s.refs.ListByTarget(ctx, in.RunID, in.EntityTypes)
	if err != nil {
		return nil, err
	}

	var dangling []errs.DanglingRef
	types := make(map[string]struct{})
	for _, r := range refs {
		ok, err := exists.check(ctx, r.TargetType, r.TargetID)
		if err != nil {
			return nil, err
		}
		if !ok {
			types[r.TargetType] = struct{}{}
			dangling = append(dangling, errs.DanglingRef{
				FromEntityType: r.FromEntityType,
				FromID:         r.FromID,
				Field:          r.Field,
				TargetType:     r.TargetType,
				TargetID:       r.TargetID,
			})
		}
	}
	if len(dangling) == 0 {
		return nil, nil
	}
	return &errs.OrphanIntegrityError{EntityTypes: sortedKeys(types), Dangling: dangling}, nil
}

// Sample picks up to n items with a generator seeded from seed. The same
// inputs always give the same sample, in input order.
func Sample[T any](items []T, n int, seed string) []T {
	if n <= 0 || len(items) <= n {
		return items
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	sum := h.Sum64()
	rng := rand.New(rand.NewPCG(sum, sum>>1|1))

	picked := rng.Perm(len(items))[:n]
	sort.Ints(picked)
	out := make([]T, 0, n)
	for _, i := range picked {
		out = append(out, items[i])
	}
	return out
}

type existsCache struct {
	suite *Suite
	seen  map[string]bool
}

func newExistsCache(s *Suite) *existsCache {
	return &existsCache{suite: s, seen: make(map[string]bool)}
}

func (c *existsCache) check(ctx context.Context, entityType, id string) (bool, error) {
	key := entityType + "/" + id
	if ok, hit := c.seen[key]; hit {
		return ok, nil
	}
	ok, err := c.suite.target.Exists(ctx, entityType, id)
	if err != nil {
		return false, err
	}
	c.seen[key] = ok
	return ok, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
