package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgross0/data-migrator-sub001/pkg/models"
	"github.com/bgross0/data-migrator-sub001/pkg/normalizers"
)

func organizationValues(t *testing.T, fields map[string]any) map[string]normalizers.Value {
	t.Helper()
	return normalizers.NormalizeRecord(record("organization", "1", fields), organizationSpec(), normalizers.DefaultOptions()).Values
}

func TestMemoryIndex_AddReplacesKeysAndTokens(t *testing.T) {
	spec := organizationSpec()
	idx := NewMemoryIndex()

	before := organizationValues(t, map[string]any{"name": "Acme GmbH", "vat": "DE123456789"})
	after := organizationValues(t, map[string]any{"name": "Borealis AG", "vat": "DE999999999"})
	oldKeys := NaturalKeys(spec, before)
	oldTokens := BlockingTokens(spec, before)
	require.NotEmpty(t, oldKeys)
	require.NotEmpty(t, oldTokens)

	idx.Add(spec, Entry{ID: "org-1", Values: before})
	idx.Add(spec, Entry{ID: "org-2", Values: before})
	idx.Add(spec, Entry{ID: "org-1", Values: after})

	for _, key := range oldKeys {
		assert.Equal(t, []string{"org-2"}, idx.ByKey("organization", key), key)
	}
	for _, key := range NaturalKeys(spec, after) {
		assert.Equal(t, []string{"org-1"}, idx.ByKey("organization", key), key)
	}

	stale := idx.Candidates("organization", oldTokens)
	require.Len(t, stale, 1)
	assert.Equal(t, "org-2", stale[0].ID)

	fresh := idx.Candidates("organization", BlockingTokens(spec, after))
	require.Len(t, fresh, 1)
	assert.Equal(t, "org-1", fresh[0].ID)
	assert.Equal(t, 2, idx.Len("organization"))
}

func TestMemoryIndex_ChangedVATNoLongerResolves(t *testing.T) {
	spec := organizationSpec()
	e := newEngine(t, spec,
		models.CanonicalEntity{ID: "org-1", Fields: map[string]any{"name": "Acme GmbH", "vat": "DE123456789"}},
	)
	e.Index().Add(spec, Entry{ID: "org-1", Values: organizationValues(t, map[string]any{"name": "Acme GmbH", "vat": "DE999999999"})})

	res := resolve(t, e, spec, record("organization", "20", map[string]any{"name": "Zeta Holding", "vat": "DE123456789"}))
	assert.NotEqual(t, models.ResolutionAutoMatch, res.Kind)
	assert.Empty(t, res.CanonicalID)

	res = resolve(t, e, spec, record("organization", "21", map[string]any{"name": "Zeta Holding", "vat": "DE999999999"}))
	assert.Equal(t, models.ResolutionAutoMatch, res.Kind)
	assert.Equal(t, "org-1", res.CanonicalID)
}
