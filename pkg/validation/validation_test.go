package validation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgross0/data-migrator-sub001/pkg/adapter"
	"github.com/bgross0/data-migrator-sub001/pkg/errs"
	"github.com/bgross0/data-migrator-sub001/pkg/ledger"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
	"github.com/bgross0/data-migrator-sub001/pkg/references"
)

type fixture struct {
	suite  *Suite
	ledger *ledger.Memory
	refs   *references.MemoryStore
	target *adapter.Memory
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		ledger: ledger.NewMemory(),
		refs:   references.NewMemoryStore(),
		target: adapter.NewMemory(),
	}
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	f.suite = NewSuite(f.ledger, f.refs, f.target, cfg, logger)
	return f
}

func (f *fixture) ledgered(t *testing.T, entityType, pk, canonicalID, batchID string) {
	t.Helper()
	require.NoError(t, f.ledger.Upsert(context.Background(), models.LedgerEntry{
		SourceSystem: "crm",
		SourcePK:     pk,
		EntityType:   entityType,
		CanonicalID:  canonicalID,
		RunID:        "run-1",
		BatchID:      batchID,
	}))
}

var leadSpec = models.EntityTypeSpec{
	Name:   "lead",
	Policy: models.PolicyCreateIfMissing,
	Fields: map[string]models.FieldSpec{
		"title":      {Kind: models.FieldKindString, Required: true},
		"email":      {Kind: models.FieldKindEmail},
		"email_host": {Kind: models.FieldKindEmailDomain, Source: "email", Required: true},
	},
	ForeignKeys: []models.ForeignKey{
		{Field: "organization", Targets: []string{"organization"}, Required: true},
		{Field: "contact", Targets: []string{"person"}},
	},
	Rules: []models.BusinessRule{
		{Name: "probability_range", Type: models.RuleRange, Field: "probability", Min: "0", Max: "100"},
		{Name: "revenue_needs_currency", Type: models.RuleRequiredWith, Field: "expected_revenue", Fields: []string{"currency"}},
		{Name: "lost_reason_requires_lost_stage", Type: models.RuleExpression, Expression: "lost_reason == null || stage == 'lost'"},
	},
}

var activitySpec = models.EntityTypeSpec{
	Name:   "activity",
	Policy: models.PolicyCreateIfMissing,
	ForeignKeys: []models.ForeignKey{
		{Field: "regarding", Targets: []string{"organization", "lead"}, Required: true},
	},
}

func lead(fields map[string]any) models.SourceRecord {
	base := map[string]any{"title": "Renewal 2025", "organization": "ORG-1"}
	for k, v := range fields {
		base[k] = v
	}
	return models.SourceRecord{SourceSystem: "crm", SourcePK: "L-1", EntityType: "lead", Fields: base}
}

func ruleOf(t *testing.T, err error) string {
	t.Helper()
	var ve *errs.ValidationError
	require.True(t, errors.As(err, &ve), "expected a ValidationError, got %v", err)
	return ve.Rule
}

func TestPreLoad_Passes(t *testing.T) {
	f := newFixture(t, Config{})
	f.ledgered(t, "organization", "ORG-1", "17", "b1")
	f.ledgered(t, "person", "P-1", "23", "b2")

	refs, err := f.suite.PreLoad(context.Background(), lead(map[string]any{
		"contact":     "P-1",
		"probability": 40,
		"stage":       "qualified",
	}), leadSpec)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "17", refs[0].CanonicalID)
	assert.Equal(t, "organization", refs[0].TargetType)
	assert.Equal(t, "23", refs[1].CanonicalID)
}

func TestPreLoad_Failures(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
		rule   string
	}{
		{"missing required field", map[string]any{"title": "  "}, RuleRequiredField},
		{"missing required reference", map[string]any{"organization": nil}, RuleForeignKey},
		{"reference not ledgered", map[string]any{"organization": "ORG-404"}, RuleForeignKey},
		{"optional reference present but unresolved", map[string]any{"contact": "P-404"}, RuleForeignKey},
		{"reference ledgered as another type", map[string]any{"contact": "ORG-1"}, RuleForeignKey},
		{"probability above range", map[string]any{"probability": "140"}, "probability_range"},
		{"probability not a number", map[string]any{"probability": "high"}, "probability_range"},
		{"revenue without currency", map[string]any{"expected_revenue": "1200"}, "revenue_needs_currency"},
		{"lost reason on open lead", map[string]any{"stage": "won", "lost_reason": "price"}, "lost_reason_requires_lost_stage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			f.ledgered(t, "organization", "ORG-1", "17", "b1")

			_, err := f.suite.PreLoad(context.Background(), lead(tt.fields), leadSpec)
			require.Error(t, err)
			assert.Equal(t, errs.KindValidation, errs.KindOf(err))
			assert.Equal(t, tt.rule, ruleOf(t, err))
		})
	}
}

func TestPreLoad_SupersededReferenceDoesNotResolve(t *testing.T) {
	f := newFixture(t, Config{})
	f.ledgered(t, "organization", "ORG-1", "17", "b1")
	_, err := f.ledger.Supersede(context.Background(), ledger.SupersedeFilter{RunID: "run-1"})
	require.NoError(t, err)

	_, err = f.suite.PreLoad(context.Background(), lead(nil), leadSpec)
	assert.Equal(t, RuleForeignKey, ruleOf(t, err))
}

func TestPreLoad_PolymorphicReference(t *testing.T) {
	tests := []struct {
		name    string
		fields  map[string]any
		want    string
		wantErr bool
	}{
		{"tagged object", map[string]any{"regarding": map[string]any{"type": "lead", "id": "L-1"}}, "lead", false},
		{"companion type field", map[string]any{"regarding": "ORG-1", "regarding_type": "organization"}, "organization", false},
		{"untyped", map[string]any{"regarding": "ORG-1"}, "", true},
		{"type outside the union", map[string]any{"regarding": map[string]any{"type": "person", "id": "P-1"}}, "", true},
		{"type mismatch with ledger", map[string]any{"regarding": map[string]any{"type": "lead", "id": "ORG-1"}}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			f.ledgered(t, "organization", "ORG-1", "17", "b1")
			f.ledgered(t, "lead", "L-1", "88", "b3")
			f.ledgered(t, "person", "P-1", "23", "b2")

			rec := models.SourceRecord{SourceSystem: "crm", SourcePK: "A-1", EntityType: "activity", Fields: tt.fields}
			refs, err := f.suite.PreLoad(context.Background(), rec, activitySpec)
			if tt.wantErr {
				assert.Equal(t, RuleForeignKey, ruleOf(t, err))
				return
			}
			require.NoError(t, err)
			require.Len(t, refs, 1)
			assert.Equal(t, tt.want, refs[0].TargetType)
		})
	}
}

func TestParseReference_CrossSystem(t *testing.T) {
	rec := models.SourceRecord{SourceSystem: "crm", Fields: map[string]any{
		"organization": map[string]any{"id": 991, "source_system": "erp"},
	}}
	ref, ok := ParseReference(rec, models.ForeignKey{Field: "organization", Targets: []string{"organization"}})
	require.True(t, ok)
	assert.Equal(t, "erp", ref.SourceSystem)
	assert.Equal(t, "991", ref.SourcePK)
	assert.Equal(t, "organization", ref.TargetType)
}

type failingLedger struct{ ledger.Ledger }

func (failingLedger) Lookup(context.Context, string, string) (*models.LedgerEntry, error) {
	return nil, errors.New("connection refused")
}

func TestPreLoad_LedgerFailureIsNotValidation(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	s := NewSuite(failingLedger{}, references.NewMemoryStore(), adapter.NewMemory(), Config{}, logger)

	_, err := s.PreLoad(context.Background(), lead(nil), leadSpec)
	require.Error(t, err)
	assert.NotEqual(t, errs.KindValidation, errs.KindOf(err))
}

func loaded(entityType, pk, canonicalID string, outcome models.Outcome) models.RecordOutcome {
	return models.RecordOutcome{
		Record:      models.RecordRef{SourceSystem: "crm", SourcePK: pk},
		EntityType:  entityType,
		Outcome:     outcome,
		CanonicalID: canonicalID,
	}
}

func TestPostLoad_Clean(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.target.Seed(
		models.CanonicalEntity{EntityType: "organization", ID: "1"},
		models.CanonicalEntity{EntityType: "person", ID: "2"},
		models.CanonicalEntity{EntityType: "person", ID: "3"},
	)
	f.ledgered(t, "person", "P-1", "2", "b2")
	f.ledgered(t, "person", "P-2", "3", "b2")
	f.ledgered(t, "person", "P-3", "3", "b2")
	require.NoError(t, f.refs.Record(ctx, []models.WrittenReference{
		{RunID: "run-1", BatchID: "b2", FromEntityType: "person", FromID: "2", Field: "organization", TargetType: "organization", TargetID: "1"},
	}))

	report, err := f.suite.PostLoad(ctx, PostLoadInput{
		RunID:       "run-1",
		BatchID:     "b2",
		EntityTypes: []string{"person"},
		Counts:      map[string]models.Counts{"person": {Total: 4, Created: 2, Matched: 1, Quarantined: 1}},
		Outcomes: []models.RecordOutcome{
			loaded("person", "P-1", "2", models.OutcomeCreated),
			loaded("person", "P-2", "3", models.OutcomeCreated),
			loaded("person", "P-3", "3", models.OutcomeMatched),
			loaded("person", "P-4", "", models.OutcomeQuarantined),
		},
	})
	require.NoError(t, err)
	assert.Empty(t, report.Findings)
	assert.False(t, report.Failed)
}

func TestPostLoad_CountDrift(t *testing.T) {
	ctx := context.Background()
	in := PostLoadInput{
		RunID:       "run-1",
		BatchID:     "b2",
		EntityTypes: []string{"person"},
		Counts:      map[string]models.Counts{"person": {Total: 2, Created: 2}},
		Outcomes: []models.RecordOutcome{
			loaded("person", "P-1", "2", models.OutcomeCreated),
			loaded("person", "P-2", "99", models.OutcomeCreated),
		},
	}

	for _, strict := range []bool{false, true} {
		t.Run(fmt.Sprintf("strict=%v", strict), func(t *testing.T) {
			f := newFixture(t, Config{StrictPostLoad: strict})
			f.target.Seed(models.CanonicalEntity{EntityType: "person", ID: "2"})
			f.ledgered(t, "person", "P-1", "2", "b2")
			f.ledgered(t, "person", "P-2", "99", "b2")

			report, err := f.suite.PostLoad(ctx, in)
			require.NoError(t, err)
			require.Len(t, report.Findings, 1)
			assert.Equal(t, CheckCountReconciliation, report.Findings[0].Check)
			assert.Equal(t, models.SeverityError, report.Findings[0].Severity)
			assert.Equal(t, 2, report.Findings[0].Expected)
			assert.Equal(t, 1, report.Findings[0].Actual)
			assert.Equal(t, strict, report.Failed)
			assert.Nil(t, report.Orphans)
		})
	}
}

// A matched row keeps the ledger entry an earlier batch wrote; it still
// reconciles, while a row whose entry was superseded or repointed does not.
func TestPostLoad_CountFollowsOutcomes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.target.Seed(
		models.CanonicalEntity{EntityType: "person", ID: "2"},
		models.CanonicalEntity{EntityType: "person", ID: "3"},
	)
	f.ledgered(t, "person", "P-1", "2", "earlier-batch")
	f.ledgered(t, "person", "P-2", "3", "earlier-batch")
	_, err := f.ledger.Supersede(ctx, ledger.SupersedeFilter{BatchID: "earlier-batch", RunID: "run-1"})
	require.NoError(t, err)
	f.ledgered(t, "person", "P-1", "2", "earlier-batch")

	report, err := f.suite.PostLoad(ctx, PostLoadInput{
		RunID:       "run-2",
		BatchID:     "b2",
		EntityTypes: []string{"person"},
		Counts:      map[string]models.Counts{"person": {Total: 2, Matched: 2}},
		Outcomes: []models.RecordOutcome{
			loaded("person", "P-1", "2", models.OutcomeMatched),
			loaded("person", "P-2", "3", models.OutcomeMatched),
		},
	})
	require.NoError(t, err)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, CheckCountReconciliation, report.Findings[0].Check)
	assert.Equal(t, 2, report.Findings[0].Expected)
	assert.Equal(t, 1, report.Findings[0].Actual)
}

func TestPostLoad_SampleIntegrity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{SampleSize: 50})
	f.target.Seed(models.CanonicalEntity{EntityType: "organization", ID: "1"})

	var refs []models.WrittenReference
	for i := 0; i < 10; i++ {
		target := "1"
		if i == 4 {
			target = "404"
		}
		refs = append(refs, models.WrittenReference{
			RunID: "run-1", BatchID: "b2", FromEntityType: "person", FromID: fmt.Sprint(100 + i),
			Field: "organization", TargetType: "organization", TargetID: target,
		})
	}
	require.NoError(t, f.refs.Record(ctx, refs))

	report, err := f.suite.PostLoad(ctx, PostLoadInput{RunID: "run-2", BatchID: "b2", EntityTypes: []string{"person"}})
	require.NoError(t, err)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, CheckSampleIntegrity, report.Findings[0].Check)
	assert.Equal(t, 1, report.Findings[0].Actual)
	assert.False(t, report.Failed)
}

// Scenario: a person is written referencing an organization that is then
// deleted from the target. The organization batch's orphan scan is critical.
func TestPostLoad_OrphanDetectionIsCritical(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.target.Seed(
		models.CanonicalEntity{EntityType: "organization", ID: "1"},
		models.CanonicalEntity{EntityType: "organization", ID: "5"},
	)
	f.ledgered(t, "organization", "ORG-1", "1", "b1")
	require.NoError(t, f.refs.Record(ctx, []models.WrittenReference{
		{RunID: "run-1", BatchID: "b2", FromEntityType: "activity", FromID: "7", Field: "regarding", TargetType: "organization", TargetID: "5"},
	}))
	f.target.Delete("organization", "5")

	report, err := f.suite.PostLoad(ctx, PostLoadInput{
		RunID:       "run-1",
		BatchID:     "b1",
		EntityTypes: []string{"organization"},
		Counts:      map[string]models.Counts{"organization": {Total: 1, Created: 1}},
		Outcomes:    []models.RecordOutcome{loaded("organization", "ORG-1", "1", models.OutcomeCreated)},
	})
	require.NoError(t, err)
	assert.True(t, report.Failed)
	require.NotNil(t, report.Orphans)
	assert.Equal(t, errs.KindOrphanIntegrity, errs.KindOf(report.Orphans))
	require.Len(t, report.Orphans.Dangling, 1)
	assert.Equal(t, "7", report.Orphans.Dangling[0].FromID)

	var critical []models.Finding
	for _, finding := range report.Findings {
		if finding.Severity == models.SeverityCritical {
			critical = append(critical, finding)
		}
	}
	require.Len(t, critical, 1)
	assert.Equal(t, CheckOrphanDetection, critical[0].Check)
}

func TestPostLoad_TargetUnavailable(t *testing.T) {
	f := newFixture(t, Config{})
	f.ledgered(t, "organization", "ORG-1", "1", "b1")
	f.target.FailNext(adapter.OpExists, "", errs.Transient("exists", errors.New("timeout")), 1)

	_, err := f.suite.PostLoad(context.Background(), PostLoadInput{
		RunID:       "run-1",
		BatchID:     "b1",
		EntityTypes: []string{"organization"},
		Counts:      map[string]models.Counts{"organization": {Total: 1, Created: 1}},
		Outcomes:    []models.RecordOutcome{loaded("organization", "ORG-1", "1", models.OutcomeCreated)},
	})
	assert.True(t, errs.IsTransient(err))
}

func TestSample(t *testing.T) {
	items := make([]int, 200)
	for i := range items {
		items[i] = i
	}

	a := Sample(items, 50, "batch-1")
	b := Sample(items, 50, "batch-1")
	c := Sample(items, 50, "batch-2")

	assert.Len(t, a, 50)
	assert.Equal(t, a, b, "same seed, same sample")
	assert.NotEqual(t, a, c)
	assert.IsIncreasing(t, a)
	assert.Len(t, Sample(items[:10], 50, "batch-1"), 10)
}
