package matching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bgross0/data-migrator-sub001/pkg/models"
	"github.com/bgross0/data-migrator-sub001/pkg/normalizers"
)

func TestScorer_Levenshtein(t *testing.T) {
	s := NewScorer()
	assert.InDelta(t, 1.0-3.0/7.0, s.Levenshtein("kitten", "sitting"), 1e-9)
	assert.Equal(t, 1.0, s.Levenshtein("", ""))
	assert.Equal(t, 0.0, s.Levenshtein("abc", "xyz"))
}

func TestScorer_JaroWinkler(t *testing.T) {
	s := NewScorer()
	assert.InDelta(t, 0.9611, s.JaroWinkler("martha", "marhta"), 1e-4)
	assert.Equal(t, 1.0, s.JaroWinkler("same", "same"))
	assert.Equal(t, 0.0, s.JaroWinkler("", "abc"))
}

func TestScorer_TokenSet(t *testing.T) {
	s := NewScorer()
	assert.Equal(t, 1.0, s.TokenSet("new york city", "city new york"))
	assert.InDelta(t, 0.5, s.TokenSet("a b c", "b c d"), 1e-9)
}

func TestScorer_DateProximity(t *testing.T) {
	s := NewScorer()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 1.0, s.DateProximity(day, day, 10))
	assert.InDelta(t, 0.8, s.DateProximity(day, day.AddDate(0, 0, 2), 10), 1e-9)
	assert.Equal(t, 0.0, s.DateProximity(day, day.AddDate(0, 0, 10), 10))
	assert.Equal(t, 0.0, s.DateProximity(time.Time{}, day, 10))
}

func TestScorer_NumericProximity(t *testing.T) {
	s := NewScorer()
	assert.Equal(t, 1.0, s.NumericProximity(5, 5, 10))
	assert.InDelta(t, 0.5, s.NumericProximity(5, 10, 10), 1e-9)
	assert.InDelta(t, 0.75, s.NumericProximity(75, 100, 0), 1e-9)
}

func TestScorer_Compare(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 0.0, s.Compare(models.Comparator{Method: models.MethodExact}, "", ""))
	assert.Equal(t, 1.0, s.Compare(models.Comparator{Method: models.MethodExact}, "a@b.c", "a@b.c"))
	assert.InDelta(t, 0.9, s.Compare(models.Comparator{Method: models.MethodDate, MaxDays: 10}, "2024-03-01", "2024-03-02"), 1e-9)
	assert.InDelta(t, 0.9, s.Compare(models.Comparator{Method: models.MethodNumeric, MaxDiff: 100}, "1000", "1010"), 1e-9)
	assert.Equal(t, 0.0, s.Compare(models.Comparator{Method: models.MethodNumeric}, "ten", "10"))
}

func TestScorer_DegradedContributesZero(t *testing.T) {
	s := NewScorer()
	comparators := []models.Comparator{
		{Name: "name", Fields: []string{"name"}, Weight: 0.5, Method: models.MethodExact},
		{Name: "phone", Fields: []string{"phone"}, Weight: 0.5, Method: models.MethodExact},
	}
	rec := map[string]normalizers.Value{
		"name":  {Text: "acme"},
		"phone": {Text: "12", Degraded: true},
	}
	cand := map[string]normalizers.Value{
		"name":  {Text: "acme"},
		"phone": {Text: "12", Degraded: true},
	}

	score, fields := s.ScoreEntry(comparators, rec, cand)
	assert.InDelta(t, 0.5, score, 1e-9)
	assert.Equal(t, 0.0, fields["phone"])
}

func TestScorer_WeightedScoreIsOrderIndependent(t *testing.T) {
	s := NewScorer()
	scores := map[string]float64{"a": 0.1, "b": 0.7, "c": 0.3333333, "d": 0.9}
	weights := map[string]float64{"a": 0.15, "b": 0.35, "c": 0.2, "d": 0.3}

	first := s.WeightedScore(scores, weights)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, s.WeightedScore(scores, weights))
	}
	assert.Equal(t, 0.0, s.WeightedScore(nil, nil))
}

func TestMemoryIndex(t *testing.T) {
	spec := organizationSpec()
	idx := NewMemoryIndex()
	idx.Add(spec, NewEntry(spec, models.CanonicalEntity{ID: "org-1", Fields: map[string]any{"name": "Acme Corp", "vat": "DE1"}}, normalizers.DefaultOptions()))
	idx.Add(spec, NewEntry(spec, models.CanonicalEntity{ID: "org-2", Fields: map[string]any{"name": "Beta", "vat": "DE2"}}, normalizers.DefaultOptions()))

	assert.Equal(t, 2, idx.Len("organization"))
	assert.Equal(t, 0, idx.Len("person"))
	assert.Equal(t, []string{"org-1"}, idx.ByKey("organization", "vat=DE1"))
	assert.Nil(t, idx.ByKey("organization", "vat=DE3"))

	byToken := idx.Candidates("organization", []string{"name:t:acme"})
	if assert.Len(t, byToken, 1) {
		assert.Equal(t, "org-1", byToken[0].ID)
	}
	assert.Len(t, idx.Candidates("organization", nil), 2)
	assert.Empty(t, idx.Candidates("organization", []string{}))
}
