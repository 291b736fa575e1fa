package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgross0/data-migrator-sub001/pkg/models"
)

func entry(pk, canonical, hash, run, batch string) models.LedgerEntry {
	return models.LedgerEntry{
		SourceSystem: "crm",
		SourcePK:     pk,
		EntityType:   "organization",
		CanonicalID:  canonical,
		ContentHash:  hash,
		RunID:        run,
		BatchID:      batch,
	}
}

func TestMemory_LookupUpsert(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()

	got, err := l.Lookup(ctx, "crm", "1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, l.Upsert(ctx, entry("1", "org-1", "h1", "run-1", "b-1")))
	got, err = l.Lookup(ctx, "crm", "1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "org-1", got.CanonicalID)
	assert.False(t, got.CreatedAt.IsZero())
	created := got.CreatedAt

	require.NoError(t, l.Upsert(ctx, entry("1", "org-1", "h2", "run-2", "b-2")))
	got, _ = l.Lookup(ctx, "crm", "1")
	assert.Equal(t, "h2", got.ContentHash)
	assert.Equal(t, created, got.CreatedAt)
	assert.Equal(t, "run-2", got.RunID)

	assert.Error(t, l.Upsert(ctx, entry("2", "", "h", "r", "b")))
}

func TestMemory_ManyKeysOneCanonical(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()

	require.NoError(t, l.Upsert(ctx, entry("1", "org-1", "h", "r", "b")))
	other := entry("A-77", "org-1", "h", "r", "b")
	other.SourceSystem = "erp"
	require.NoError(t, l.Upsert(ctx, other))

	list, err := l.ListByBatch(ctx, "b")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "crm", list[0].SourceSystem)
	assert.Equal(t, list[0].CanonicalID, list[1].CanonicalID)
}

func TestMemory_Changed(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()

	changed, err := l.Changed(ctx, "crm", "1", "h1")
	require.NoError(t, err)
	assert.True(t, changed, "unknown key counts as changed")

	require.NoError(t, l.Upsert(ctx, entry("1", "org-1", "h1", "r", "b")))
	changed, _ = l.Changed(ctx, "crm", "1", "h1")
	assert.False(t, changed)
	changed, _ = l.Changed(ctx, "crm", "1", "h2")
	assert.True(t, changed)

	require.NoError(t, l.Upsert(ctx, entry("2", "org-2", "", "r", "b")))
	changed, _ = l.Changed(ctx, "crm", "2", "h")
	assert.True(t, changed, "empty hash always forces a write")
}

func TestMemory_SupersedeNeverDeletes(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()

	require.NoError(t, l.Upsert(ctx, entry("1", "org-1", "h", "run-1", "b-1")))
	require.NoError(t, l.Upsert(ctx, entry("2", "org-2", "h", "run-1", "b-2")))
	require.NoError(t, l.Upsert(ctx, entry("3", "org-3", "h", "run-0", "b-0")))

	n, err := l.Supersede(ctx, SupersedeFilter{RunID: "run-1", BatchID: "b-2"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = l.Supersede(ctx, SupersedeFilter{RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := l.Lookup(ctx, "crm", "1")
	assert.Nil(t, got, "superseded entries are ignored by lookup")
	got, _ = l.Lookup(ctx, "crm", "3")
	assert.NotNil(t, got)

	history := l.History()
	require.Len(t, history, 2)
	for _, h := range history {
		assert.False(t, h.Active())
	}

	_, err = l.Supersede(ctx, SupersedeFilter{})
	assert.Error(t, err)

	// A key may be ledgered again after rollback.
	require.NoError(t, l.Upsert(ctx, entry("1", "org-9", "h", "run-2", "b-9")))
	got, _ = l.Lookup(ctx, "crm", "1")
	assert.Equal(t, "org-9", got.CanonicalID)
}

func TestMemory_ConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = l.Upsert(ctx, entry(fmt.Sprint(i%10), fmt.Sprintf("org-%d", i), "h", "run", "b"))
		}(i)
	}
	wg.Wait()

	list, err := l.ListByRun(ctx, "run")
	require.NoError(t, err)
	assert.Len(t, list, 10, "one active entry per key")
}
