package runner

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgross0/data-migrator-sub001/pkg/models"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	older := models.BatchRun{ID: "r1", Status: models.RunStatusPending, CreatedAt: base, Batches: []models.Batch{
		{ID: "b1", RunID: "r1", Position: 0, EntityTypes: []string{"country"}, Status: models.BatchStatusPending, Counts: map[string]models.Counts{}},
	}}
	newer := models.BatchRun{ID: "r2", Status: models.RunStatusPending, CreatedAt: base.Add(time.Minute)}
	require.NoError(t, s.CreateRun(ctx, older))
	require.NoError(t, s.CreateRun(ctx, newer))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID)

	runs, err = s.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	// Updating the run keeps its batches.
	older.Status = models.RunStatusRunning
	older.Batches = nil
	require.NoError(t, s.UpdateRun(ctx, older))

	batch := models.Batch{ID: "b1", RunID: "r1", Status: models.BatchStatusCompleted, Counts: map[string]models.Counts{"country": {Total: 2, Matched: 2}}}
	require.NoError(t, s.UpdateBatch(ctx, batch))
	batch.Counts["country"] = models.Counts{}

	got, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, got.Status)
	require.Len(t, got.Batches, 1)
	assert.Equal(t, models.Counts{Total: 2, Matched: 2}, got.Batches[0].Counts["country"], "stored batches are copies")

	missing, err := s.GetRun(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = s.UpdateBatch(ctx, models.Batch{ID: "b9", RunID: "r1", Position: 9})
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
	err = s.UpdateRun(ctx, models.BatchRun{ID: "nope"})
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}
