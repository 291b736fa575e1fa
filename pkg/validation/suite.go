// Package validation holds the checks that gate record writes and batch
// completion.
package validation

import (
	"sort"

	"github.com/Gobusters/ectologger"

	"github.com/bgross0/data-migrator-sub001/pkg/adapter"
	"github.com/bgross0/data-migrator-sub001/pkg/expressions"
	"github.com/bgross0/data-migrator-sub001/pkg/ledger"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
	"github.com/bgross0/data-migrator-sub001/pkg/references"
)

const DefaultSampleSize = 50

type Config struct {
	// SampleSize is how many written records the sample integrity check inspects.
	SampleSize int
	// StrictPostLoad fails a batch on count and sample findings, not only on orphans.
	StrictPostLoad bool
}

type Suite struct {
	ledger    ledger.Ledger
	refs      references.Store
	target    adapter.Adapter
	evaluator *expressions.Evaluator
	cfg       Config
	logger    ectologger.Logger
}

func NewSuite(l ledger.Ledger, refs references.Store, target adapter.Adapter, cfg Config, logger ectologger.Logger) *Suite {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = DefaultSampleSize
	}
	return &Suite{
		ledger:    l,
		refs:      refs,
		target:    target,
		evaluator: expressions.NewEvaluator(),
		cfg:       cfg,
		logger:    logger,
	}
}

// Evaluator exposes the rule evaluator so spec loading can compile
// expressions up front.
func (s *Suite) Evaluator() *expressions.Evaluator {
	return s.evaluator
}

func sortedFieldNames(fields map[string]models.FieldSpec) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
