package specs_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgross0/data-migrator-sub001/pkg/errs"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
	"github.com/bgross0/data-migrator-sub001/pkg/planner"
	"github.com/bgross0/data-migrator-sub001/pkg/specs"
)

func TestLoadShippedEntityTypes(t *testing.T) {
	loaded, err := specs.LoadFile("../../config/entity_types.yaml")
	require.NoError(t, err)

	set := models.NewSpecSet(loaded)
	assert.Equal(t, []string{"activity", "country", "lead", "organization", "person", "tag"}, set.Names())

	org := set["organization"]
	assert.Equal(t, models.PolicySuggestOnly, org.Policy)
	auto, low := org.Match.Thresholds()
	assert.InDelta(t, 0.85, auto, 1e-9)
	assert.InDelta(t, 0.70, low, 1e-9)
	assert.False(t, set["country"].Match.Probabilistic())
	assert.True(t, set["activity"].ForeignKeys[0].Polymorphic())

	levels, err := planner.Plan(loaded)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"country", "tag"}, {"organization"}, {"person"}, {"lead"}, {"activity"}}, levels)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "empty document",
			yaml: "entity_types: []",
			want: "no entity types",
		},
		{
			name: "unknown key",
			yaml: `
entity_types:
  - name: tag
    policy: create_if_missing
    colour: red`,
			want: "failed to decode",
		},
		{
			name: "bad policy",
			yaml: `
entity_types:
  - name: tag
    policy: always`,
			want: "oneof",
		},
		{
			name: "natural key on undeclared field",
			yaml: `
entity_types:
  - name: tag
    policy: create_if_missing
    fields:
      name: {kind: string}
    natural_keys:
      - {name: code, fields: [name|code]}`,
			want: `undeclared field "code"`,
		},
		{
			name: "unknown pre normalizer",
			yaml: `
entity_types:
  - name: tag
    policy: create_if_missing
    fields:
      name: {kind: string, pre: [shout]}`,
			want: `unknown normalizer "shout"`,
		},
		{
			name: "auto match without comparators",
			yaml: `
entity_types:
  - name: tag
    policy: create_if_missing
    match: {auto_match: 0.9}`,
			want: "no comparators",
		},
		{
			name: "low bound above auto match",
			yaml: `
entity_types:
  - name: tag
    policy: create_if_missing
    fields:
      name: {kind: string}
    match:
      auto_match: 0.7
      low_bound: 0.8
      comparators: [{fields: [name], weight: 1, method: exact}]`,
			want: "above auto_match",
		},
		{
			name: "bad expression",
			yaml: `
entity_types:
  - name: tag
    policy: create_if_missing
    rules:
      - {name: broken, type: expression, expression: "name ||"}`,
			want: "invalid expression",
		},
		{
			name: "non-numeric range bound",
			yaml: `
entity_types:
  - name: lead
    policy: create_if_missing
    rules:
      - {name: revenue, type: range, field: revenue, min: lots}`,
			want: "non-numeric bound",
		},
		{
			name: "foreign key shadowing a field",
			yaml: `
entity_types:
  - name: person
    policy: create_if_missing
    fields:
      organization: {kind: string}
    foreign_keys:
      - {field: organization, targets: [organization]}`,
			want: "also declared",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := specs.Load(strings.NewReader(tt.yaml))
			require.Error(t, err)

			var cfgErr *errs.ConfigError
			assert.True(t, errors.As(err, &cfgErr))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := specs.LoadFile("does-not-exist.yaml")
	var cfgErr *errs.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}
