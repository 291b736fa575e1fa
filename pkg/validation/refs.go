package validation

import (
	"strings"

	"github.com/bgross0/data-migrator-sub001/pkg/models"
	"github.com/bgross0/data-migrator-sub001/pkg/normalizers"
)

// Reference is a foreign key value as it appears in a source record: the
// source identity of the referenced record and the entity type it must be.
type Reference struct {
	Field        string
	TargetType   string
	SourceSystem string
	SourcePK     string
}

// ResolvedRef is a reference translated to the target system's id.
type ResolvedRef struct {
	Reference
	CanonicalID string
}

// ParseReference reads the foreign key fk from rec. A reference is either a
// scalar source pk in the record's own source system, or an object with
// "id", optional "type" and optional "source_system". The type of a
// polymorphic reference comes from the object or from the <field>_type
// companion field. ok is false when the field is absent.
func ParseReference(rec models.SourceRecord, fk models.ForeignKey) (ref Reference, ok bool) {
	raw, present := rec.Fields[fk.Field]
	if !present || raw == nil {
		return Reference{}, false
	}

	ref = Reference{Field: fk.Field, SourceSystem: rec.SourceSystem}
	switch v := raw.(type) {
	case map[string]any:
		ref.SourcePK = strings.TrimSpace(normalizers.Stringify(v["id"]))
		ref.TargetType = strings.TrimSpace(normalizers.Stringify(v["type"]))
		if system := strings.TrimSpace(normalizers.Stringify(v["source_system"])); system != "" {
			ref.SourceSystem = system
		}
	default:
		ref.SourcePK = strings.TrimSpace(normalizers.Stringify(v))
	}
	if ref.SourcePK == "" {
		return Reference{}, false
	}

	if ref.TargetType == "" {
		ref.TargetType = strings.TrimSpace(normalizers.Stringify(rec.Fields[fk.TypeField()]))
	}
	if ref.TargetType == "" && !fk.Polymorphic() {
		ref.TargetType = fk.Targets[0]
	}
	return ref, true
}
