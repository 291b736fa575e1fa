package quarantine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgross0/data-migrator-sub001/pkg/ledger"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
)

func newService() (*Service, *ledger.Memory) {
	l := ledger.NewMemory()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	specs := models.NewSpecSet([]models.EntityTypeSpec{
		{Name: "organization", Policy: models.PolicySuggestOnly},
		{Name: "country", Policy: models.PolicyLookupOnly},
	})
	return NewService(NewMemoryStore(), specs, l, nil, logger), l
}

func countryItem(pk string) models.QuarantineItem {
	return models.QuarantineItem{
		RunID:      "run-1",
		BatchID:    "b-0",
		EntityType: "country",
		Record:     models.SourceRecord{SourceSystem: "crm", SourcePK: pk, EntityType: "country"},
		Reason:     models.ReasonAmbiguousAnchor,
	}
}

func item(pk string, reason models.QuarantineReason, scores ...float64) models.QuarantineItem {
	cands := make([]models.MatchCandidate, 0, len(scores))
	for i, s := range scores {
		cands = append(cands, models.MatchCandidate{CanonicalID: fmt.Sprintf("org-%d", i+1), Score: s})
	}
	return models.QuarantineItem{
		RunID:      "run-1",
		BatchID:    "b-1",
		EntityType: "organization",
		Record:     models.SourceRecord{SourceSystem: "crm", SourcePK: pk, EntityType: "organization"},
		Reason:     reason,
		Candidates: cands,
	}
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	require.Error(t, err)
	require.True(t, httperror.IsHTTPError(err))
	return httperror.GetStatusCode(err)
}

func TestEnqueue(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()

	id, err := svc.Enqueue(ctx, item("1", models.ReasonMultiMatch, 0.87, 0.85))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.QuarantineStatusPending, got.Status)
	assert.Equal(t, 0.87, got.TopScore)
	assert.Len(t, got.Candidates, 2)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = svc.Enqueue(ctx, models.QuarantineItem{})
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
}

func TestEnqueue_Concurrent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Enqueue(ctx, item(fmt.Sprint(i), models.ReasonLowConfidence, 0.75))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	items, err := svc.List(ctx, models.QuarantineFilter{})
	require.NoError(t, err)
	assert.Len(t, items, 50)
}

func TestResolve_Match(t *testing.T) {
	ctx := context.Background()
	svc, l := newService()
	id, _ := svc.Enqueue(ctx, item("1", models.ReasonMultiMatch, 0.87, 0.85))

	resolved, err := svc.Resolve(ctx, id, ResolveRequest{Action: models.ActionMatch, CanonicalID: "org-2", ResolvedBy: "alex"})
	require.NoError(t, err)
	assert.Equal(t, models.QuarantineStatusResolved, resolved.Status)
	assert.Equal(t, "org-2", resolved.CanonicalID)
	assert.NotNil(t, resolved.ResolvedAt)

	entry, err := l.Lookup(ctx, "crm", "1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "org-2", entry.CanonicalID)
	assert.Empty(t, entry.ContentHash, "replay must write the record")

	decisions, err := svc.Decisions(ctx, id)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, models.ActionMatch, decisions[0].Action)
	assert.Equal(t, "alex", decisions[0].ResolvedBy)
	assert.Len(t, decisions[0].Candidates, 2)

	_, err = svc.Resolve(ctx, id, ResolveRequest{Action: models.ActionSkip})
	assert.Equal(t, http.StatusConflict, statusOf(t, err))
}

func TestResolve_MatchDefaultsToTopCandidate(t *testing.T) {
	ctx := context.Background()
	svc, l := newService()
	id, _ := svc.Enqueue(ctx, item("1", models.ReasonLowConfidence, 0.8))

	_, err := svc.Resolve(ctx, id, ResolveRequest{Action: models.ActionMatch})
	require.NoError(t, err)
	entry, _ := l.Lookup(ctx, "crm", "1")
	assert.Equal(t, "org-1", entry.CanonicalID)

	bare, _ := svc.Enqueue(ctx, item("2", models.ReasonAmbiguousAnchor))
	_, err = svc.Resolve(ctx, bare, ResolveRequest{Action: models.ActionMatch})
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
}

func TestResolve_CreateAndSkip(t *testing.T) {
	ctx := context.Background()
	svc, l := newService()
	createID, _ := svc.Enqueue(ctx, item("1", models.ReasonLowConfidence, 0.75))
	skipID, _ := svc.Enqueue(ctx, item("2", models.ReasonLowConfidence, 0.75))

	created, err := svc.Resolve(ctx, createID, ResolveRequest{Action: models.ActionCreate})
	require.NoError(t, err)
	assert.Equal(t, models.QuarantineStatusResolved, created.Status)
	entry, _ := l.Lookup(ctx, "crm", "1")
	assert.Nil(t, entry, "create is applied by the replay")

	skipped, err := svc.Resolve(ctx, skipID, ResolveRequest{Action: models.ActionSkip})
	require.NoError(t, err)
	assert.Equal(t, models.QuarantineStatusSkipped, skipped.Status)

	replay, err := svc.Replayable(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, replay, 1)
	assert.Equal(t, createID, replay[0].ID)

	skippedItems, err := svc.Skipped(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, skippedItems, 1)
}

func TestResolve_Errors(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()

	_, err := svc.Resolve(ctx, "missing", ResolveRequest{Action: models.ActionSkip})
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))

	id, _ := svc.Enqueue(ctx, item("1", models.ReasonLowConfidence, 0.75))
	_, err = svc.Resolve(ctx, id, ResolveRequest{Action: "merge"})
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
}

func TestResolve_CreateRejectedForLookupOnly(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	id, err := svc.Enqueue(ctx, countryItem("C-ZZ"))
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, id, ResolveRequest{Action: models.ActionCreate, ResolvedBy: "ops"})
	assert.Equal(t, http.StatusConflict, statusOf(t, err))

	got, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.QuarantineStatusPending, got.Status)

	skipped, err := svc.Resolve(ctx, id, ResolveRequest{Action: models.ActionSkip})
	require.NoError(t, err)
	assert.Equal(t, models.QuarantineStatusSkipped, skipped.Status)
}

func TestBulkResolve_CreateSkipsLookupOnly(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	org, _ := svc.Enqueue(ctx, item("1", models.ReasonLowConfidence, 0.7))
	country, _ := svc.Enqueue(ctx, countryItem("C-ZZ"))

	result, err := svc.BulkResolve(ctx, BulkResolveRequest{Action: models.ActionCreate, ResolvedBy: "bulk"})
	require.NoError(t, err)
	assert.Equal(t, []string{org}, result.Resolved)
	assert.Equal(t, []string{country}, result.Ineligible)

	got, err := svc.Get(ctx, country)
	require.NoError(t, err)
	assert.Equal(t, models.QuarantineStatusPending, got.Status)
}

func TestBulkResolve(t *testing.T) {
	ctx := context.Background()
	svc, l := newService()
	high, _ := svc.Enqueue(ctx, item("1", models.ReasonLowConfidence, 0.82))
	low, _ := svc.Enqueue(ctx, item("2", models.ReasonLowConfidence, 0.61))
	none, _ := svc.Enqueue(ctx, item("3", models.ReasonAmbiguousAnchor))
	other, _ := svc.Enqueue(ctx, item("4", models.ReasonLowConfidence, 0.9))
	_, err := svc.Resolve(ctx, other, ResolveRequest{Action: models.ActionSkip})
	require.NoError(t, err)

	result, err := svc.BulkResolve(ctx, BulkResolveRequest{MinScore: 0.8, Action: models.ActionMatch, ResolvedBy: "bulk"})
	require.NoError(t, err)
	assert.Equal(t, []string{high}, result.Resolved)

	entry, _ := l.Lookup(ctx, "crm", "1")
	require.NotNil(t, entry)
	assert.Equal(t, "org-1", entry.CanonicalID)

	pending, _ := svc.List(ctx, models.QuarantineFilter{Status: models.QuarantineStatusPending})
	assert.ElementsMatch(t, []string{low, none}, []string{pending[0].ID, pending[1].ID})

	result, err = svc.BulkResolve(ctx, BulkResolveRequest{Action: models.ActionMatch})
	require.NoError(t, err)
	assert.Equal(t, []string{low}, result.Resolved)
	assert.Equal(t, []string{none}, result.Ineligible)
}

func TestMarkApplied(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	resolvedID, _ := svc.Enqueue(ctx, item("1", models.ReasonLowConfidence, 0.75))
	pendingID, _ := svc.Enqueue(ctx, item("2", models.ReasonLowConfidence, 0.75))
	_, err := svc.Resolve(ctx, resolvedID, ResolveRequest{Action: models.ActionCreate})
	require.NoError(t, err)

	replay, _ := svc.Replayable(ctx, "run-1")
	assert.Len(t, replay, 2)

	require.NoError(t, svc.MarkApplied(ctx, resolvedID))
	require.NoError(t, svc.MarkApplied(ctx, pendingID))

	replay, _ = svc.Replayable(ctx, "run-1")
	assert.Empty(t, replay)

	got, _ := svc.Get(ctx, pendingID)
	assert.NotNil(t, got.AppliedAt)
}
