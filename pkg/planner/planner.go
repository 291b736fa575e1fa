// Package planner orders entity types so every type loads after the types it
// references.
package planner

import (
	"sort"

	"github.com/bgross0/data-migrator-sub001/pkg/errs"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
)

// Dependencies returns the entity types spec depends on, sorted. A
// polymorphic reference depends on every possible target. Self references
// are not ordering constraints.
func Dependencies(spec models.EntityTypeSpec) []string {
	set := make(map[string]struct{})
	for _, fk := range spec.ForeignKeys {
		for _, target := range fk.Targets {
			if target != spec.Name {
				set[target] = struct{}{}
			}
		}
	}
	deps := make([]string, 0, len(set))
	for d := range set {
		deps = append(deps, d)
	}
	sort.Strings(deps)
	return deps
}

// Plan groups entity types into dependency levels with Kahn's algorithm. Each
// level holds every type whose dependencies are all in earlier levels, sorted
// by name. It fails with a ConfigError when a foreign key names an unknown
// type and with a CyclicDependencyError when the graph has a cycle.
func Plan(specs []models.EntityTypeSpec) ([][]string, error) {
	known := make(map[string]struct{}, len(specs))
	for _, s := range specs {
		if _, dup := known[s.Name]; dup {
			return nil, errs.Config("entity type %q is declared twice", s.Name)
		}
		known[s.Name] = struct{}{}
	}

	inDegree := make(map[string]int, len(specs))
	dependents := make(map[string][]string, len(specs))
	for _, s := range specs {
		deps := Dependencies(s)
		for _, d := range deps {
			if _, ok := known[d]; !ok {
				return nil, errs.Config("entity type %q references unknown entity type %q", s.Name, d)
			}
			dependents[d] = append(dependents[d], s.Name)
		}
		inDegree[s.Name] = len(deps)
	}

	var ready []string
	for name, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, name)
		}
	}

	var levels [][]string
	placed := 0
	for len(ready) > 0 {
		sort.Strings(ready)
		levels = append(levels, ready)
		placed += len(ready)

		var next []string
		for _, name := range ready {
			for _, dependent := range dependents[name] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		ready = next
	}

	if placed < len(specs) {
		var cyclic []string
		for name, degree := range inDegree {
			if degree > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return nil, &errs.CyclicDependencyError{Types: cyclic}
	}

	return levels, nil
}

// Level returns the position of every entity type in levels.
func Level(levels [][]string) map[string]int {
	pos := make(map[string]int)
	for i, level := range levels {
		for _, name := range level {
			pos[name] = i
		}
	}
	return pos
}
