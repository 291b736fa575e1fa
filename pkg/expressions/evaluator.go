// Package expressions evaluates JMESPath business rules against record fields.
package expressions

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jmespath/go-jmespath"
)

// Evaluator compiles expressions once and caches them.
type Evaluator struct {
	cache map[string]*jmespath.JMESPath
	mu    sync.RWMutex
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache: make(map[string]*jmespath.JMESPath),
	}
}

// Evaluate evaluates a JMESPath expression against data
func (e *Evaluator) Evaluate(expression string, data any) (any, error) {
	compiled, err := e.getOrCompile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expression, err)
	}

	result, err := compiled.Search(data)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expression, err)
	}

	return result, nil
}

// EvaluateBool evaluates an expression and applies JMESPath truthiness:
// null, false, empty strings, empty arrays and empty objects are false.
func (e *Evaluator) EvaluateBool(expression string, data any) (bool, error) {
	result, err := e.Evaluate(expression, data)
	if err != nil {
		return false, err
	}
	return Truthy(result), nil
}

func Truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}

// Validate checks if an expression compiles.
func (e *Evaluator) Validate(expression string) error {
	_, err := e.getOrCompile(expression)
	return err
}

func (e *Evaluator) getOrCompile(expression string) (*jmespath.JMESPath, error) {
	e.mu.RLock()
	if compiled, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return compiled, nil
	}
	e.mu.RUnlock()

	compiled, err := jmespath.Compile(expression)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = compiled
	e.mu.Unlock()

	return compiled, nil
}

// RecordData converts record fields into the plain JSON shapes JMESPath
// compares: numbers become float64 and nested values become maps and slices.
func RecordData(fields map[string]any) (map[string]any, error) {
	if fields == nil {
		return map[string]any{}, nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record fields: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("failed to decode record fields: %w", err)
	}
	return data, nil
}
