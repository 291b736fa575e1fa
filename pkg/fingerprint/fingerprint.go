// Package fingerprint computes content hashes used for change detection.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// Generate creates a deterministic SHA256 fingerprint of the canonicalized data.
func Generate(data map[string]any) string {
	return GenerateWithExclusions(data, nil)
}

// GenerateWithExclusions fingerprints data without the named top-level or
// dot-notation nested fields.
func GenerateWithExclusions(data map[string]any, excludeFields map[string]bool) string {
	var b strings.Builder
	canonicalize(&b, data, excludeFields, "")
	hash := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(hash[:])
}

// Strings fingerprints a flat map of normalized values. Empty values are
// dropped so an absent field and an empty one hash the same.
func Strings(values map[string]string) string {
	data := make(map[string]any, len(values))
	for k, v := range values {
		if v == "" {
			continue
		}
		data[k] = v
	}
	return Generate(data)
}

func canonicalize(b *strings.Builder, data any, excludeFields map[string]bool, path string) {
	switch v := data.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		first := true
		for _, k := range keys {
			fieldPath := k
			if path != "" {
				fieldPath = path + "." + k
			}
			if excluded(fieldPath, excludeFields) {
				continue
			}
			if !first {
				b.WriteByte(',')
			}
			first = false
			key, _ := json.Marshal(k)
			b.Write(key)
			b.WriteByte(':')
			canonicalize(b, v[k], excludeFields, fieldPath)
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				b.WriteByte(',')
			}
			canonicalize(b, item, excludeFields, path)
		}
		b.WriteByte(']')
	default:
		raw, _ := json.Marshal(v)
		b.Write(raw)
	}
}

func excluded(fieldPath string, excludeFields map[string]bool) bool {
	if excludeFields == nil {
		return false
	}
	if excludeFields[fieldPath] {
		return true
	}
	for ex := range excludeFields {
		if strings.HasPrefix(fieldPath, ex+".") {
			return true
		}
	}
	return false
}

// HasChanged compares two fingerprints. An empty previous fingerprint always
// counts as changed.
func HasChanged(previous, current string) bool {
	return previous == "" || previous != current
}
