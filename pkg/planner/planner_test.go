package planner

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgross0/data-migrator-sub001/pkg/errs"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
)

func spec(name string, refs ...[]string) models.EntityTypeSpec {
	s := models.EntityTypeSpec{Name: name, Policy: models.PolicyCreateIfMissing}
	for i, targets := range refs {
		s.ForeignKeys = append(s.ForeignKeys, models.ForeignKey{Field: fmt.Sprintf("ref_%d", i), Targets: targets})
	}
	return s
}

func TestPlan_CRMGraph(t *testing.T) {
	specs := []models.EntityTypeSpec{
		spec("activity", []string{"organization", "person", "lead"}),
		spec("lead", []string{"organization"}, []string{"person"}, []string{"tag"}),
		spec("person", []string{"organization"}, []string{"country"}),
		spec("organization", []string{"country"}, []string{"organization"}),
		spec("country"),
		spec("tag"),
	}

	levels, err := Plan(specs)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"country", "tag"},
		{"organization"},
		{"person"},
		{"lead"},
		{"activity"},
	}, levels)
}

func TestPlan_PolymorphicDependsOnUnion(t *testing.T) {
	specs := []models.EntityTypeSpec{
		spec("note", []string{"a", "c"}),
		spec("a"),
		spec("b"),
		spec("c", []string{"b"}),
	}
	levels, err := Plan(specs)
	require.NoError(t, err)

	pos := Level(levels)
	assert.Greater(t, pos["note"], pos["c"])
	assert.Greater(t, pos["note"], pos["a"])
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}, {"note"}}, levels)
}

func TestPlan_Cycle(t *testing.T) {
	specs := []models.EntityTypeSpec{
		spec("a", []string{"b"}),
		spec("b", []string{"a"}),
		spec("c"),
	}

	_, err := Plan(specs)
	require.Error(t, err)

	var cycle *errs.CyclicDependencyError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []string{"a", "b"}, cycle.Types)

	var config *errs.ConfigError
	assert.True(t, errors.As(err, &config), "a cycle is a configuration error")
	assert.Equal(t, errs.KindConfig, errs.KindOf(err))
}

func TestPlan_UnknownTarget(t *testing.T) {
	_, err := Plan([]models.EntityTypeSpec{spec("person", []string{"organization"})})
	require.Error(t, err)
	assert.Equal(t, errs.KindConfig, errs.KindOf(err))
	assert.Contains(t, err.Error(), "organization")
}

func TestPlan_DuplicateType(t *testing.T) {
	_, err := Plan([]models.EntityTypeSpec{spec("a"), spec("a")})
	assert.Equal(t, errs.KindConfig, errs.KindOf(err))
}

func TestPlan_Empty(t *testing.T) {
	levels, err := Plan(nil)
	require.NoError(t, err)
	assert.Empty(t, levels)
}

// Random DAGs: every edge goes from a higher index to a lower one, so the
// graph is acyclic by construction.
func TestPlan_OrderingProperty(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	for round := 0; round < 200; round++ {
		n := 1 + rng.IntN(12)
		specs := make([]models.EntityTypeSpec, n)
		for i := range specs {
			specs[i] = spec(fmt.Sprintf("t%02d", i))
			for j := 0; j < i; j++ {
				if rng.IntN(3) == 0 {
					targets := []string{fmt.Sprintf("t%02d", j)}
					if k := rng.IntN(i); k != j && rng.IntN(2) == 0 {
						targets = append(targets, fmt.Sprintf("t%02d", k))
					}
					specs[i].ForeignKeys = append(specs[i].ForeignKeys, models.ForeignKey{Field: fmt.Sprintf("f%d", j), Targets: targets})
				}
			}
		}
		rng.Shuffle(len(specs), func(a, b int) { specs[a], specs[b] = specs[b], specs[a] })

		levels, err := Plan(specs)
		require.NoError(t, err)

		pos := Level(levels)
		require.Len(t, pos, n)
		for _, s := range specs {
			for _, dep := range Dependencies(s) {
				assert.Less(t, pos[dep], pos[s.Name], "%s must load after %s", s.Name, dep)
			}
		}
	}
}
