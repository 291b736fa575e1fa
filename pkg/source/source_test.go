package source

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgross0/data-migrator-sub001/pkg/errs"
)

func TestRead(t *testing.T) {
	input := "\xEF\xBB\xBF" + `{"source_system":"crm","source_pk":"O-1","entity_type":"organization","fields":{"name":"Acme","revenue":1200.50,"id":90071992547409931}}

{"source_system":" crm ","source_pk":"P-1","entity_type":"person"}
`
	records, err := Read(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 2)

	org := records[0]
	assert.Equal(t, "O-1", org.SourcePK)
	assert.Equal(t, "Acme", org.Fields["name"])
	assert.Equal(t, json.Number("1200.50"), org.Fields["revenue"])
	assert.Equal(t, json.Number("90071992547409931"), org.Fields["id"])

	assert.Equal(t, "crm", records[1].SourceSystem)
	assert.NotNil(t, records[1].Fields)
}

func TestReadRejects(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{"not json", `{"source_system":`, "line 2"},
		{"missing source pk", `{"source_system":"crm","entity_type":"person"}`, "source_pk is required"},
		{"missing type", `{"source_system":"crm","source_pk":"1"}`, "entity_type is required"},
		{"unknown key", `{"source_system":"crm","source_pk":"1","entity_type":"person","extra":1}`, "unknown field"},
		{"two values", `{"source_system":"crm","source_pk":"1","entity_type":"person"} {}`, "more than one"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := `{"source_system":"crm","source_pk":"0","entity_type":"person"}` + "\n" + tt.line
			_, err := Read(strings.NewReader(input))
			require.Error(t, err)

			var cfgErr *errs.ConfigError
			require.True(t, errors.As(err, &cfgErr))
			var lineErr *LineError
			require.True(t, errors.As(err, &lineErr))
			assert.Equal(t, 2, lineErr.Line)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "organizations.jsonl")
	b := filepath.Join(dir, "people.jsonl")
	require.NoError(t, os.WriteFile(a, []byte(`{"source_system":"crm","source_pk":"O-1","entity_type":"organization","fields":{}}`+"\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte(`{"source_system":"crm","source_pk":"P-1","entity_type":"person","fields":{}}`+"\n"+`{"bad"`), 0o644))

	records, err := ReadFiles(a)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	_, err = ReadFiles(a, b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "people.jsonl:2")

	_, err = ReadFiles(filepath.Join(dir, "missing.jsonl"))
	var cfgErr *errs.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}
