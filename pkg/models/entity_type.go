package models

import (
	"sort"
	"strings"
)

// FieldKind selects the normalization applied to a field before comparison.
type FieldKind string

const (
	FieldKindString      FieldKind = "string"
	FieldKindLegalName   FieldKind = "legal_name"
	FieldKindVAT         FieldKind = "vat"
	FieldKindPhone       FieldKind = "phone"
	FieldKindEmail       FieldKind = "email"
	FieldKindEmailDomain FieldKind = "email_domain"
	FieldKindAddress     FieldKind = "address"
	FieldKindDateBucket  FieldKind = "date_bucket"
	FieldKindDecimal     FieldKind = "decimal"
	FieldKindRaw         FieldKind = "raw"
)

// ResolutionPolicy controls what happens when no existing entity matches.
type ResolutionPolicy string

const (
	// PolicyLookupOnly never creates; unmatched records are quarantined as ambiguous_anchor.
	PolicyLookupOnly ResolutionPolicy = "lookup_only"
	// PolicyCreateIfMissing auto-creates unmatched records.
	PolicyCreateIfMissing ResolutionPolicy = "create_if_missing"
	// PolicySuggestOnly never creates; unmatched records are quarantined with their best suggestions.
	PolicySuggestOnly ResolutionPolicy = "suggest_only"
)

// AllowsCreate reports whether the policy may auto-create canonical entities.
func (p ResolutionPolicy) AllowsCreate() bool {
	return p == PolicyCreateIfMissing
}

// EntityTypeSpec is the per-type rule set driving normalization, matching,
// validation and ordering. It is immutable once a run starts.
type EntityTypeSpec struct {
	Name          string               `yaml:"name" json:"name" validate:"required"`
	Policy        ResolutionPolicy     `yaml:"policy" json:"policy" validate:"required,oneof=lookup_only create_if_missing suggest_only"`
	UpdateOnMatch bool                 `yaml:"update_on_match" json:"update_on_match"`
	Fields        map[string]FieldSpec `yaml:"fields" json:"fields" validate:"dive"`
	NaturalKeys   []NaturalKeyStrategy `yaml:"natural_keys" json:"natural_keys" validate:"dive"`
	ForeignKeys   []ForeignKey         `yaml:"foreign_keys" json:"foreign_keys" validate:"dive"`
	Match         MatchSpec            `yaml:"match" json:"match"`
	Rules         []BusinessRule       `yaml:"rules" json:"rules" validate:"dive"`
}

// FieldSpec declares how a field is normalized. Source names another field the
// value is derived from (email_domain from email).
type FieldSpec struct {
	Kind     FieldKind `yaml:"kind" json:"kind" validate:"required,oneof=string legal_name vat phone email email_domain address date_bucket decimal raw"`
	Source   string    `yaml:"source,omitempty" json:"source,omitempty"`
	Required bool      `yaml:"required" json:"required"`
	// Pre is a chain of named normalizers applied before Kind.
	Pre []string `yaml:"pre,omitempty" json:"pre,omitempty"`
	// BucketDays is the window size for date_bucket fields.
	BucketDays int `yaml:"bucket_days,omitempty" json:"bucket_days,omitempty"`
}

// NaturalKeyStrategy is an ordered set of fields that together identify an
// entity. A component may list alternatives separated by "|", tried in order.
type NaturalKeyStrategy struct {
	Name   string   `yaml:"name" json:"name" validate:"required"`
	Fields []string `yaml:"fields" json:"fields" validate:"required,min=1"`
}

// Expand turns alternative components into concrete field lists, in order.
func (s NaturalKeyStrategy) Expand() [][]string {
	variants := [][]string{{}}
	for _, component := range s.Fields {
		alternatives := strings.Split(component, "|")
		next := make([][]string, 0, len(variants)*len(alternatives))
		for _, alt := range alternatives {
			for _, v := range variants {
				fields := append(append([]string(nil), v...), strings.TrimSpace(alt))
				next = append(next, fields)
			}
		}
		variants = next
	}
	return variants
}

// ForeignKey is a reference to other entity types. More than one target makes
// it polymorphic: each record says which type it points at.
type ForeignKey struct {
	Field    string   `yaml:"field" json:"field" validate:"required"`
	Targets  []string `yaml:"targets" json:"targets" validate:"required,min=1"`
	Required bool     `yaml:"required" json:"required"`
}

func (f ForeignKey) Polymorphic() bool {
	return len(f.Targets) > 1
}

// TypeField is the companion field naming the target type of a polymorphic reference.
func (f ForeignKey) TypeField() string {
	return f.Field + "_type"
}

func (f ForeignKey) Allows(entityType string) bool {
	for _, t := range f.Targets {
		if t == entityType {
			return true
		}
	}
	return false
}

// MatchSpec holds the probabilistic matching configuration. A nil AutoMatch
// disables the probabilistic pass (reference data is lookup only).
type MatchSpec struct {
	AutoMatch       *float64     `yaml:"auto_match" json:"auto_match,omitempty" validate:"omitempty,gte=0,lte=1"`
	LowBound        *float64     `yaml:"low_bound" json:"low_bound,omitempty" validate:"omitempty,gte=0,lte=1"`
	CollisionMargin *float64     `yaml:"collision_margin" json:"collision_margin,omitempty" validate:"omitempty,gte=0,lte=1"`
	Blocking        []string     `yaml:"blocking" json:"blocking"`
	Comparators     []Comparator `yaml:"comparators" json:"comparators" validate:"dive"`
	MaxSuggestions  int          `yaml:"max_suggestions" json:"max_suggestions"`
}

// Probabilistic reports whether the probabilistic pass runs for this type.
func (m MatchSpec) Probabilistic() bool {
	return m.AutoMatch != nil && len(m.Comparators) > 0
}

// Thresholds returns auto-match and low bound. Without a low bound there is
// no review band, so the low bound equals the auto-match threshold.
func (m MatchSpec) Thresholds() (autoMatch, lowBound float64) {
	if m.AutoMatch == nil {
		return 1, 1
	}
	autoMatch = *m.AutoMatch
	lowBound = autoMatch
	if m.LowBound != nil {
		lowBound = *m.LowBound
	}
	return autoMatch, lowBound
}

// ComparatorMethod is a field-level similarity function.
type ComparatorMethod string

const (
	MethodLevenshtein ComparatorMethod = "levenshtein"
	MethodJaroWinkler ComparatorMethod = "jaro_winkler"
	MethodExact       ComparatorMethod = "exact"
	MethodTokenSet    ComparatorMethod = "token_set"
	MethodDate        ComparatorMethod = "date"
	MethodNumeric     ComparatorMethod = "numeric"
)

// Comparator scores one logical field. Fields are concatenated in order when
// more than one is listed (an address built from street, city and state).
type Comparator struct {
	Name    string           `yaml:"name" json:"name"`
	Fields  []string         `yaml:"fields" json:"fields" validate:"required,min=1"`
	Weight  float64          `yaml:"weight" json:"weight" validate:"gt=0"`
	Method  ComparatorMethod `yaml:"method" json:"method" validate:"required,oneof=levenshtein jaro_winkler exact token_set date numeric"`
	MaxDays int              `yaml:"max_days,omitempty" json:"max_days,omitempty"`
	MaxDiff float64          `yaml:"max_diff,omitempty" json:"max_diff,omitempty"`
}

func (c Comparator) Label() string {
	if c.Name != "" {
		return c.Name
	}
	return strings.Join(c.Fields, "+")
}

// RuleType is the kind of pre-load business rule.
type RuleType string

const (
	RuleRange        RuleType = "range"
	RuleRequiredWith RuleType = "required_with"
	RuleExpression   RuleType = "expression"
)

// BusinessRule is a declarative pre-load check.
//
//	range:         Field must parse as a decimal within [Min, Max]
//	required_with: when Field is present, every entry of Fields must be present
//	expression:    JMESPath evaluated against the record fields must be truthy
type BusinessRule struct {
	Name       string   `yaml:"name" json:"name" validate:"required"`
	Type       RuleType `yaml:"type" json:"type" validate:"required,oneof=range required_with expression"`
	Field      string   `yaml:"field,omitempty" json:"field,omitempty"`
	Fields     []string `yaml:"fields,omitempty" json:"fields,omitempty"`
	Min        string   `yaml:"min,omitempty" json:"min,omitempty"`
	Max        string   `yaml:"max,omitempty" json:"max,omitempty"`
	Expression string   `yaml:"expression,omitempty" json:"expression,omitempty"`
	Message    string   `yaml:"message,omitempty" json:"message,omitempty"`
}

// SpecSet indexes entity type specs by name.
type SpecSet map[string]EntityTypeSpec

func NewSpecSet(specs []EntityTypeSpec) SpecSet {
	set := make(SpecSet, len(specs))
	for _, s := range specs {
		set[s.Name] = s
	}
	return set
}

// Names returns the type names sorted.
func (s SpecSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
