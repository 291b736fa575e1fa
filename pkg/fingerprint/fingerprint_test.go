package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate_KeyOrderIndependent(t *testing.T) {
	a := map[string]any{"name": "acme", "nested": map[string]any{"x": 1, "y": []any{"a", "b"}}}
	b := map[string]any{"nested": map[string]any{"y": []any{"a", "b"}, "x": 1}, "name": "acme"}
	assert.Equal(t, Generate(a), Generate(b))
	assert.Len(t, Generate(a), 64)
}

func TestGenerateWithExclusions(t *testing.T) {
	base := map[string]any{"name": "acme", "meta": map[string]any{"seen": "monday"}}
	changed := map[string]any{"name": "acme", "meta": map[string]any{"seen": "tuesday"}}

	assert.NotEqual(t, Generate(base), Generate(changed))
	exclude := map[string]bool{"meta": true}
	assert.Equal(t, GenerateWithExclusions(base, exclude), GenerateWithExclusions(changed, exclude))
}

func TestStrings_DropsEmpty(t *testing.T) {
	assert.Equal(t,
		Strings(map[string]string{"name": "acme"}),
		Strings(map[string]string{"name": "acme", "vat": ""}))
}

func TestHasChanged(t *testing.T) {
	assert.False(t, HasChanged("abc", "abc"))
	assert.True(t, HasChanged("abc", "abd"))
	assert.True(t, HasChanged("", "abc"))
}
