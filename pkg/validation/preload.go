package validation

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bgross0/data-migrator-sub001/pkg/errs"
	"github.com/bgross0/data-migrator-sub001/pkg/expressions"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
	"github.com/bgross0/data-migrator-sub001/pkg/normalizers"
)

// Rule names reported for the built-in pre-load checks.
const (
	RuleRequiredField = "required_field"
	RuleForeignKey    = "foreign_key"
)

// PreLoad checks a record before it is written: required fields are present,
// every foreign key resolves to an active ledger entry of an allowed type, and
// every business rule holds. The first failure is returned as a
// ValidationError naming the rule. Ledger failures are returned unwrapped.
func (s *Suite) PreLoad(ctx context.Context, rec models.SourceRecord, spec models.EntityTypeSpec) ([]ResolvedRef, error) {
	for _, name := range sortedFieldNames(spec.Fields) {
		field := spec.Fields[name]
		if field.Required && field.Source == "" && !present(rec.Fields[name]) {
			return nil, &errs.ValidationError{Rule: RuleRequiredField, Field: name, Message: "required field is missing"}
		}
	}

	refs, err := s.resolveReferences(ctx, rec, spec)
	if err != nil {
		return nil, err
	}

	for _, rule := range spec.Rules {
		if err := s.checkRule(rec, rule); err != nil {
			return nil, err
		}
	}

	return refs, nil
}

func (s *Suite) resolveReferences(ctx context.Context, rec models.SourceRecord, spec models.EntityTypeSpec) ([]ResolvedRef, error) {
	var resolved []ResolvedRef
	for _, fk := range spec.ForeignKeys {
		ref, ok := ParseReference(rec, fk)
		if !ok {
			if fk.Required {
				return nil, &errs.ValidationError{Rule: RuleForeignKey, Field: fk.Field, Message: "required reference is missing"}
			}
			continue
		}
		if ref.TargetType == "" {
			return nil, &errs.ValidationError{Rule: RuleForeignKey, Field: fk.Field, Message: fmt.Sprintf("polymorphic reference needs a type (set %s)", fk.TypeField())}
		}
		if !fk.Allows(ref.TargetType) {
			return nil, &errs.ValidationError{Rule: RuleForeignKey, Field: fk.Field, Message: fmt.Sprintf("%s is not one of %s", ref.TargetType, strings.Join(fk.Targets, ", "))}
		}

		entry, err := s.ledger.Lookup(ctx, ref.SourceSystem, ref.SourcePK)
		if err != nil {
			return nil, err
		}
		if entry == nil || !entry.Active() {
			return nil, &errs.ValidationError{Rule: RuleForeignKey, Field: fk.Field, Message: fmt.Sprintf("%s %s/%s has not been loaded", ref.TargetType, ref.SourceSystem, ref.SourcePK)}
		}
		if entry.EntityType != ref.TargetType {
			return nil, &errs.ValidationError{Rule: RuleForeignKey, Field: fk.Field, Message: fmt.Sprintf("%s/%s was loaded as %s, not %s", ref.SourceSystem, ref.SourcePK, entry.EntityType, ref.TargetType)}
		}

		resolved = append(resolved, ResolvedRef{Reference: ref, CanonicalID: entry.CanonicalID})
	}
	return resolved, nil
}

func (s *Suite) checkRule(rec models.SourceRecord, rule models.BusinessRule) error {
	fail := func(field, message string) error {
		if rule.Message != "" {
			message = rule.Message
		}
		return &errs.ValidationError{Rule: rule.Name, Field: field, Message: message}
	}

	switch rule.Type {
	case models.RuleRange:
		raw := rec.Fields[rule.Field]
		if !present(raw) {
			return nil
		}
		value, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(normalizers.Stringify(raw)), ",", ""))
		if err != nil {
			return fail(rule.Field, "value is not a number")
		}
		if rule.Min != "" {
			lo, err := decimal.NewFromString(rule.Min)
			if err == nil && value.LessThan(lo) {
				return fail(rule.Field, fmt.Sprintf("%s is below %s", value, lo))
			}
		}
		if rule.Max != "" {
			hi, err := decimal.NewFromString(rule.Max)
			if err == nil && value.GreaterThan(hi) {
				return fail(rule.Field, fmt.Sprintf("%s is above %s", value, hi))
			}
		}

	case models.RuleRequiredWith:
		if !present(rec.Fields[rule.Field]) {
			return nil
		}
		for _, other := range rule.Fields {
			if !present(rec.Fields[other]) {
				return fail(other, fmt.Sprintf("%s requires %s", rule.Field, other))
			}
		}

	case models.RuleExpression:
		data, err := expressions.RecordData(rec.Fields)
		if err != nil {
			return fail("", err.Error())
		}
		ok, err := s.evaluator.EvaluateBool(rule.Expression, data)
		if err != nil {
			return fail("", err.Error())
		}
		if !ok {
			return fail("", fmt.Sprintf("expression %q does not hold", rule.Expression))
		}

	default:
		return errs.Config("unknown rule type %q for rule %s", rule.Type, rule.Name)
	}
	return nil
}

func present(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	default:
		return true
	}
}
