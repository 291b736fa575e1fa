// Package matching resolves a normalized source record to an existing canonical
// entity, a new one, or human review. Matching is table driven: every
// threshold, comparator and key comes from the entity type spec.
package matching

import (
	"context"
	"sort"

	"github.com/Gobusters/ectologger"

	"github.com/bgross0/data-migrator-sub001/pkg/models"
	"github.com/bgross0/data-migrator-sub001/pkg/normalizers"
	"github.com/bgross0/data-migrator-sub001/pkg/tracing"
)

// marginEpsilon absorbs float error when comparing score gaps to the margin.
const marginEpsilon = 1e-9

// Config contains system-wide matching defaults. Entity type specs override them.
type Config struct {
	CollisionMargin float64 // Default 0.02
	MaxSuggestions  int     // Suggestions attached to low-confidence items (default: 5)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CollisionMargin: 0.02,
		MaxSuggestions:  5,
	}
}

// Engine implements the layered match: deterministic keys, then weighted
// probabilistic scoring, then classification.
type Engine struct {
	logger ectologger.Logger
	index  Index
	scorer *Scorer
	cfg    Config
}

// NewEngine creates a new match engine over idx.
func NewEngine(logger ectologger.Logger, idx Index, cfg Config) *Engine {
	return &Engine{
		logger: logger,
		index:  idx,
		scorer: NewScorer(),
		cfg:    cfg,
	}
}

// Index returns the canonical index the engine reads.
func (e *Engine) Index() Index {
	return e.index
}

// Resolve decides what to do with rec. It has no side effects.
func (e *Engine) Resolve(ctx context.Context, rec normalizers.NormalizedRecord, spec models.EntityTypeSpec) (models.Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.Resolve")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return models.Resolution{}, err
	}

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_type": spec.Name,
		"source":      rec.Record.Ref().String(),
	})

	if res, ok := e.deterministic(rec, spec); ok {
		log.WithFields(map[string]any{
			"kind":       res.Kind,
			"candidates": len(res.Candidates),
		}).Debug("Resolved by natural key")
		return res, nil
	}

	var candidates []models.MatchCandidate
	if spec.Match.Probabilistic() {
		candidates = e.probabilistic(rec, spec)
	}

	res := Classify(candidates, spec, e.cfg)
	log.WithFields(map[string]any{
		"kind":       res.Kind,
		"reason":     res.Reason,
		"score":      res.Score,
		"candidates": len(candidates),
	}).Debug("Resolved by classification")
	return res, nil
}

// deterministic tries each natural-key strategy in order. Within a strategy
// the first alternative that hits decides.
func (e *Engine) deterministic(rec normalizers.NormalizedRecord, spec models.EntityTypeSpec) (models.Resolution, bool) {
	for _, strategy := range spec.NaturalKeys {
		for _, fields := range strategy.Expand() {
			key, ok := Key(fields, rec.Values)
			if !ok {
				continue
			}
			hits := e.index.ByKey(spec.Name, key)
			switch {
			case len(hits) == 1:
				return models.Resolution{
					Kind:        models.ResolutionAutoMatch,
					CanonicalID: hits[0],
					Score:       1.0,
					MatchedBy:   models.MatchedByDeterministic,
					Candidates: []models.MatchCandidate{
						exactCandidate(spec.Name, hits[0], strategy.Name),
					},
				}, true
			case len(hits) > 1:
				cands := make([]models.MatchCandidate, len(hits))
				for i, id := range hits {
					cands[i] = exactCandidate(spec.Name, id, strategy.Name)
				}
				return models.Resolution{
					Kind:       models.ResolutionQuarantine,
					Score:      1.0,
					MatchedBy:  models.MatchedByDeterministic,
					Reason:     models.ReasonMultiMatch,
					Candidates: cands,
				}, true
			}
		}
	}
	return models.Resolution{}, false
}

func exactCandidate(entityType, id, strategy string) models.MatchCandidate {
	return models.MatchCandidate{
		CanonicalID: id,
		EntityType:  entityType,
		Score:       1.0,
		MatchedBy:   models.MatchedByDeterministic,
		Strategy:    strategy,
	}
}

func (e *Engine) probabilistic(rec normalizers.NormalizedRecord, spec models.EntityTypeSpec) []models.MatchCandidate {
	var tokens []string
	if len(spec.Match.Blocking) > 0 {
		tokens = BlockingTokens(spec, rec.Values)
		if len(tokens) == 0 {
			return nil
		}
	}

	entries := e.index.Candidates(spec.Name, tokens)
	candidates := make([]models.MatchCandidate, 0, len(entries))
	for _, entry := range entries {
		score, fieldScores := e.scorer.ScoreEntry(spec.Match.Comparators, rec.Values, entry.Values)
		if score <= 0 {
			continue
		}
		candidates = append(candidates, models.MatchCandidate{
			CanonicalID: entry.ID,
			EntityType:  spec.Name,
			Score:       score,
			MatchedBy:   models.MatchedByProbabilistic,
			FieldScores: fieldScores,
		})
	}
	return candidates
}

// SortCandidates orders by score descending, ties by canonical id.
func SortCandidates(candidates []models.MatchCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].CanonicalID < candidates[j].CanonicalID
	})
}

// Classify turns scored candidates into a resolution using the thresholds,
// collision margin and policy of spec.
func Classify(candidates []models.MatchCandidate, spec models.EntityTypeSpec, cfg Config) models.Resolution {
	SortCandidates(candidates)

	autoMatch, lowBound := spec.Match.Thresholds()
	margin := cfg.CollisionMargin
	if spec.Match.CollisionMargin != nil {
		margin = *spec.Match.CollisionMargin
	}

	var eligible []models.MatchCandidate
	for _, c := range candidates {
		if c.Score >= lowBound {
			eligible = append(eligible, c)
		}
	}

	if len(eligible) == 0 {
		return noMatch(candidates, spec, cfg)
	}

	top := eligible[0]
	contenders := []models.MatchCandidate{top}
	for _, c := range eligible[1:] {
		if top.Score-c.Score <= margin+marginEpsilon {
			contenders = append(contenders, c)
		}
	}

	switch {
	case len(contenders) > 1:
		return models.Resolution{
			Kind:       models.ResolutionQuarantine,
			Score:      top.Score,
			MatchedBy:  models.MatchedByProbabilistic,
			Reason:     models.ReasonMultiMatch,
			Candidates: contenders,
		}
	case top.Score >= autoMatch:
		return models.Resolution{
			Kind:        models.ResolutionAutoMatch,
			CanonicalID: top.CanonicalID,
			Score:       top.Score,
			MatchedBy:   models.MatchedByProbabilistic,
			Candidates:  []models.MatchCandidate{top},
		}
	default:
		return models.Resolution{
			Kind:       models.ResolutionQuarantine,
			Score:      top.Score,
			MatchedBy:  models.MatchedByProbabilistic,
			Reason:     models.ReasonLowConfidence,
			Candidates: []models.MatchCandidate{top},
		}
	}
}

func noMatch(candidates []models.MatchCandidate, spec models.EntityTypeSpec, cfg Config) models.Resolution {
	var best float64
	if len(candidates) > 0 {
		best = candidates[0].Score
	}

	switch spec.Policy {
	case models.PolicyCreateIfMissing:
		return models.Resolution{Kind: models.ResolutionAutoCreate, Score: best}
	case models.PolicySuggestOnly:
		limit := cfg.MaxSuggestions
		if spec.Match.MaxSuggestions > 0 {
			limit = spec.Match.MaxSuggestions
		}
		suggestions := candidates
		if limit >= 0 && len(suggestions) > limit {
			suggestions = suggestions[:limit]
		}
		return models.Resolution{
			Kind:       models.ResolutionQuarantine,
			Score:      best,
			Reason:     models.ReasonLowConfidence,
			Candidates: suggestions,
		}
	default:
		return models.Resolution{
			Kind:   models.ResolutionQuarantine,
			Score:  best,
			Reason: models.ReasonAmbiguousAnchor,
		}
	}
}
