package normalizers

import (
	"sort"

	"github.com/bgross0/data-migrator-sub001/pkg/fingerprint"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
)

// NormalizedRecord is a source record with every declared field normalized.
type NormalizedRecord struct {
	Record models.SourceRecord
	Values map[string]Value
}

// Text returns the usable normalized text of a field, or "".
func (r NormalizedRecord) Text(field string) string {
	v := r.Values[field]
	if !v.Usable() {
		return ""
	}
	return v.Text
}

// NormalizeRecord normalizes the declared fields of rec and stamps its content
// hash. Derived fields read their Source field. Undeclared fields are hashed
// trimmed but take no part in matching.
func NormalizeRecord(rec models.SourceRecord, spec models.EntityTypeSpec, opts Options) NormalizedRecord {
	values := make(map[string]Value, len(spec.Fields))
	for _, name := range fieldNames(spec.Fields) {
		fs := spec.Fields[name]
		src := name
		if fs.Source != "" {
			src = fs.Source
		}
		values[name] = Normalize(rec.Fields[src], fs, opts)
	}

	hashed := make(map[string]string, len(rec.Fields)+len(values))
	for k, raw := range rec.Fields {
		if _, declared := spec.Fields[k]; declared {
			continue
		}
		hashed[k] = ApplyChain(Stringify(raw), "trim")
	}
	for k, v := range values {
		hashed[k] = v.Text
	}

	rec.ContentHash = fingerprint.Strings(hashed)
	return NormalizedRecord{Record: rec, Values: values}
}

func fieldNames(fields map[string]models.FieldSpec) []string {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
