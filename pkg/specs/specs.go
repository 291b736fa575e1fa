// Package specs loads entity type specs from YAML and checks them before a
// run can use them.
package specs

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/bgross0/data-migrator-sub001/pkg/errs"
	"github.com/bgross0/data-migrator-sub001/pkg/expressions"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
	"github.com/bgross0/data-migrator-sub001/pkg/normalizers"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type document struct {
	EntityTypes []models.EntityTypeSpec `yaml:"entity_types"`
}

// LoadFile reads the entity type document at path.
func LoadFile(path string) ([]models.EntityTypeSpec, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.ConfigError{Message: "failed to read entity types " + path, Err: err}
	}
	return Load(bytes.NewReader(b))
}

// Load decodes and checks a spec document. Unknown YAML keys are rejected.
// Foreign key targets and cycles are checked by the planner.
func Load(r io.Reader) ([]models.EntityTypeSpec, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, &errs.ConfigError{Message: "failed to decode entity types", Err: err}
	}
	if len(doc.EntityTypes) == 0 {
		return nil, errs.Config("no entity types declared")
	}

	evaluator := expressions.NewEvaluator()
	for _, spec := range doc.EntityTypes {
		if err := Check(spec, evaluator); err != nil {
			return nil, err
		}
	}
	return doc.EntityTypes, nil
}

// Check validates one spec: struct tags first, then the references between
// its own sections.
func Check(spec models.EntityTypeSpec, evaluator *expressions.Evaluator) error {
	if err := validate.Struct(spec); err != nil {
		return &errs.ConfigError{Message: fmt.Sprintf("entity type %q is invalid", spec.Name), Err: describe(err)}
	}

	fail := func(format string, args ...any) error {
		return errs.Config("entity type %q: %s", spec.Name, fmt.Sprintf(format, args...))
	}
	declared := func(field string) bool {
		_, ok := spec.Fields[field]
		return ok
	}

	for name, field := range spec.Fields {
		if field.Source != "" && !declared(field.Source) {
			return fail("field %q derives from undeclared field %q", name, field.Source)
		}
		for _, pre := range field.Pre {
			if _, ok := normalizers.Get(pre); !ok {
				return fail("field %q uses unknown normalizer %q", name, pre)
			}
		}
	}

	seen := make(map[string]struct{}, len(spec.NaturalKeys))
	for _, key := range spec.NaturalKeys {
		if _, dup := seen[key.Name]; dup {
			return fail("natural key %q is declared twice", key.Name)
		}
		seen[key.Name] = struct{}{}
		for _, variant := range key.Expand() {
			for _, f := range variant {
				if !declared(f) {
					return fail("natural key %q uses undeclared field %q", key.Name, f)
				}
			}
		}
	}

	for _, fk := range spec.ForeignKeys {
		if declared(fk.Field) {
			return fail("foreign key %q is also declared as a matching field", fk.Field)
		}
	}

	for _, c := range spec.Match.Comparators {
		for _, f := range c.Fields {
			if !declared(f) {
				return fail("comparator %q uses undeclared field %q", c.Label(), f)
			}
		}
	}
	for _, f := range spec.Match.Blocking {
		if !declared(f) {
			return fail("blocking uses undeclared field %q", f)
		}
	}
	if spec.Match.AutoMatch != nil && len(spec.Match.Comparators) == 0 {
		return fail("auto_match is set but no comparators are declared")
	}
	if auto, low := spec.Match.Thresholds(); low > auto {
		return fail("low_bound %.2f is above auto_match %.2f", low, auto)
	}

	for _, rule := range spec.Rules {
		switch rule.Type {
		case models.RuleRange:
			if rule.Field == "" || (rule.Min == "" && rule.Max == "") {
				return fail("range rule %q needs a field and a min or max", rule.Name)
			}
			for _, bound := range []string{rule.Min, rule.Max} {
				if bound != "" && normalizers.NormalizeDecimal(bound).Degraded {
					return fail("range rule %q has a non-numeric bound %q", rule.Name, bound)
				}
			}
		case models.RuleRequiredWith:
			if rule.Field == "" || len(rule.Fields) == 0 {
				return fail("required_with rule %q needs field and fields", rule.Name)
			}
		case models.RuleExpression:
			if err := evaluator.Validate(rule.Expression); err != nil {
				return fail("rule %q has an invalid expression: %v", rule.Name, err)
			}
		}
	}
	return nil
}

func describe(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
