package matching

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/shopspring/decimal"

	"github.com/bgross0/data-migrator-sub001/pkg/models"
	"github.com/bgross0/data-migrator-sub001/pkg/normalizers"
)

const (
	defaultMaxDays = 30
)

// Scorer provides field-level similarity functions. All scores are in [0, 1].
type Scorer struct{}

// NewScorer creates a new Scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// ExactMatch returns 1.0 for exact match, 0.0 otherwise
func (s *Scorer) ExactMatch(a, b string) float64 {
	if a == b {
		return 1.0
	}
	return 0.0
}

// Levenshtein returns the edit-distance ratio between two strings.
func (s *Scorer) Levenshtein(a, b string) float64 {
	if a == b {
		return 1.0
	}
	maxLen := max(len([]rune(a)), len([]rune(b)))
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(fuzzy.LevenshteinDistance(a, b))/float64(maxLen)
}

// JaroWinkler calculates the Jaro-Winkler similarity between two strings
func (s *Scorer) JaroWinkler(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ra, rb := []rune(a), []rune(b)
	jaro := jaro(ra, rb)

	prefix := 0
	for i := 0; i < len(ra) && i < len(rb) && i < 4; i++ {
		if ra[i] != rb[i] {
			break
		}
		prefix++
	}
	return jaro + float64(prefix)*0.1*(1.0-jaro)
}

func jaro(a, b []rune) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	matchDist := max(max(len(a), len(b))/2-1, 0)
	aMatches := make([]bool, len(a))
	bMatches := make([]bool, len(b))

	matches := 0
	for i := range a {
		start := max(0, i-matchDist)
		end := min(len(b), i+matchDist+1)
		for j := start; j < end; j++ {
			if bMatches[j] || a[i] != b[j] {
				continue
			}
			aMatches[i] = true
			bMatches[j] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0.0
	}

	transpositions := 0
	k := 0
	for i := range a {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	t := float64(transpositions) / 2
	return (m/float64(len(a)) + m/float64(len(b)) + (m-t)/m) / 3
}

// TokenSet is the Jaccard similarity of the whitespace tokens of a and b.
func (s *Scorer) TokenSet(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1.0
	}
	shared := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	return float64(shared) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		set[tok] = struct{}{}
	}
	return set
}

// DateProximity returns 1.0 for the same instant, decaying linearly to 0.0 at maxDays.
func (s *Scorer) DateProximity(a, b time.Time, maxDays int) float64 {
	if a.IsZero() || b.IsZero() {
		return 0.0
	}
	if maxDays <= 0 {
		maxDays = defaultMaxDays
	}

	daysDiff := math.Abs(a.Sub(b).Hours() / 24)
	if daysDiff == 0 {
		return 1.0
	}
	if daysDiff >= float64(maxDays) {
		return 0.0
	}
	return 1.0 - daysDiff/float64(maxDays)
}

// NumericProximity returns 1.0 for equal numbers, decaying linearly to 0.0 at
// maxDiff. A zero maxDiff scales by the larger magnitude.
func (s *Scorer) NumericProximity(a, b, maxDiff float64) float64 {
	if a == b {
		return 1.0
	}
	if maxDiff <= 0 {
		maxDiff = math.Max(math.Abs(a), math.Abs(b))
	}
	diff := math.Abs(a - b)
	if diff >= maxDiff {
		return 0.0
	}
	return 1.0 - diff/maxDiff
}

// Compare scores two normalized texts with the comparator's method. Empty
// input on either side scores zero.
func (s *Scorer) Compare(c models.Comparator, a, b string) float64 {
	if a == "" || b == "" {
		return 0.0
	}

	switch c.Method {
	case models.MethodExact:
		return s.ExactMatch(a, b)
	case models.MethodLevenshtein:
		return s.Levenshtein(a, b)
	case models.MethodJaroWinkler:
		return s.JaroWinkler(a, b)
	case models.MethodTokenSet:
		return s.TokenSet(a, b)
	case models.MethodDate:
		ta, okA := normalizers.ParseTime(a)
		tb, okB := normalizers.ParseTime(b)
		if !okA || !okB {
			return 0.0
		}
		return s.DateProximity(ta, tb, c.MaxDays)
	case models.MethodNumeric:
		da, errA := decimal.NewFromString(a)
		db, errB := decimal.NewFromString(b)
		if errA != nil || errB != nil {
			return 0.0
		}
		fa, _ := da.Float64()
		fb, _ := db.Float64()
		return s.NumericProximity(fa, fb, c.MaxDiff)
	default:
		return 0.0
	}
}

// WeightedScore calculates a weighted average of scores. Fields are summed in
// sorted order so the result is identical on every call.
func (s *Scorer) WeightedScore(scores map[string]float64, weights map[string]float64) float64 {
	if len(scores) == 0 {
		return 0.0
	}

	fields := make([]string, 0, len(scores))
	for field := range scores {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var totalWeight, weightedSum float64
	for _, field := range fields {
		weight := 1.0
		if w, ok := weights[field]; ok {
			weight = w
		}
		weightedSum += scores[field] * weight
		totalWeight += weight
	}

	if totalWeight == 0 {
		return 0.0
	}
	return weightedSum / totalWeight
}

// ScoreEntry runs every comparator of the match spec and returns the weighted
// score plus the per-comparator breakdown.
func (s *Scorer) ScoreEntry(comparators []models.Comparator, rec map[string]normalizers.Value, cand map[string]normalizers.Value) (float64, map[string]float64) {
	scores := make(map[string]float64, len(comparators))
	weights := make(map[string]float64, len(comparators))
	for _, c := range comparators {
		label := c.Label()
		scores[label] = s.Compare(c, joinValues(c.Fields, rec), joinValues(c.Fields, cand))
		weights[label] = c.Weight
	}
	return s.WeightedScore(scores, weights), scores
}

// joinValues concatenates the usable values of fields. Any degraded part
// makes the whole comparison text unusable.
func joinValues(fields []string, values map[string]normalizers.Value) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		v := values[f]
		if v.Degraded {
			return ""
		}
		if v.Text != "" {
			parts = append(parts, v.Text)
		}
	}
	return strings.Join(parts, " ")
}
