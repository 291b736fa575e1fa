package normalizers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bgross0/data-migrator-sub001/pkg/models"
)

func TestApplyChain(t *testing.T) {
	assert.Equal(t, "abc123", ApplyChain("  A-b c 1.2 3 ", "lowercase", "alphanumeric"))
	assert.Equal(t, "value", Apply("value", "does-not-exist"))

	fn, ok := Get("digits_only")
	assert.True(t, ok)
	assert.Equal(t, "4155550100", fn("(415) 555-0100"))
}

func TestNormalizeString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Hello,   World! ", "hello world"},
		{"Société Générale", "societe generale"},
		{"O'Brien & Sons", "obrien sons"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeString(tt.in))
		})
	}
}

func TestNormalizeLegalName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Acme Corp", "acme"},
		{"ACME Corporation", "acme"},
		{"Acme Holdings Co. Ltd", "acme holdings"},
		{"Société Générale S.A.", "societe generale"},
		{"Müller GmbH", "muller"},
		{"Company", "company"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeLegalName(tt.in))
		})
	}
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "123 main st ste 4", NormalizeAddress("123 Main Street, Suite 4"))
	// Abbreviation is per token, so words containing a keyword are untouched.
	assert.Equal(t, "1 streetcar ave", NormalizeAddress("1 Streetcar Avenue"))
}

func TestNormalizeVAT(t *testing.T) {
	assert.Equal(t, Value{Text: "DE123456789"}, NormalizeVAT("de 123.456-789"))
	assert.Equal(t, Value{}, NormalizeVAT(" - "))
	assert.True(t, NormalizeVAT("DE#123").Degraded)
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, Value{Text: "+16502530000"}, NormalizePhone("(650) 253-0000", "US"))
	assert.Equal(t, Value{Text: "+16502530000"}, NormalizePhone("+1 650 253 0000", "DE"))

	bad := NormalizePhone("call me maybe", "US")
	assert.True(t, bad.Degraded)
	assert.Equal(t, "call me maybe", bad.Text)
	assert.False(t, bad.Usable())
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, Value{Text: "jane@acme.com"}, NormalizeEmail("  Jane@ACME.com "))
	assert.True(t, NormalizeEmail("jane.acme.com").Degraded)
	assert.True(t, NormalizeEmail("@acme.com").Degraded)

	assert.Equal(t, Value{Text: "acme.com"}, EmailDomain("Jane@Acme.com"))
	assert.True(t, EmailDomain("nope").Degraded)
}

func TestDateBucket(t *testing.T) {
	assert.Equal(t, Value{Text: "2024-03-15"}, DateBucket("2024-03-15T18:30:00Z", 1))
	assert.Equal(t, Value{Text: "2024-03-14"}, DateBucket("2024-03-15", 7))
	assert.Equal(t, Value{Text: "2024-03-14"}, DateBucket("2024-03-17 09:00:00", 7))
	assert.True(t, DateBucket("yesterday", 1).Degraded)

	ts := time.Date(2024, 3, 15, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-15", BucketTime(ts, 0))
}

func TestNormalizeDecimal(t *testing.T) {
	assert.Equal(t, Value{Text: "1200.5"}, NormalizeDecimal("1,200.50"))
	assert.Equal(t, Value{Text: "-3"}, NormalizeDecimal("-3.000"))
	assert.True(t, NormalizeDecimal("ten").Degraded)
}

func TestNormalize(t *testing.T) {
	opts := DefaultOptions()

	t.Run("EmptyIsEmpty", func(t *testing.T) {
		assert.Equal(t, Value{}, Normalize(nil, models.FieldSpec{Kind: models.FieldKindString}, opts))
		assert.Equal(t, Value{}, Normalize("   ", models.FieldSpec{Kind: models.FieldKindPhone}, opts))
	})

	t.Run("PreChainRunsFirst", func(t *testing.T) {
		spec := models.FieldSpec{Kind: models.FieldKindRaw, Pre: []string{"digits_only"}}
		assert.Equal(t, Value{Text: "12345"}, Normalize("AB-123-45", spec, opts))
	})

	t.Run("NumbersAreStringified", func(t *testing.T) {
		assert.Equal(t, Value{Text: "12.5"}, Normalize(12.50, models.FieldSpec{Kind: models.FieldKindDecimal}, opts))
	})

	t.Run("FieldBucketOverridesDefault", func(t *testing.T) {
		spec := models.FieldSpec{Kind: models.FieldKindDateBucket, BucketDays: 7}
		assert.Equal(t, Value{Text: "2024-03-14"}, Normalize("2024-03-15", spec, opts))
	})

	t.Run("Deterministic", func(t *testing.T) {
		spec := models.FieldSpec{Kind: models.FieldKindLegalName}
		first := Normalize("Acme Holdings, Inc.", spec, opts)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, Normalize("Acme Holdings, Inc.", spec, opts))
		}
	})
}

func TestNormalizeRecord(t *testing.T) {
	spec := models.EntityTypeSpec{
		Name: "organization",
		Fields: map[string]models.FieldSpec{
			"name":         {Kind: models.FieldKindLegalName},
			"email":        {Kind: models.FieldKindEmail},
			"email_domain": {Kind: models.FieldKindEmailDomain, Source: "email"},
		},
	}
	rec := models.SourceRecord{
		SourceSystem: "crm",
		SourcePK:     "1",
		EntityType:   "organization",
		Fields:       map[string]any{"name": "Acme Corp", "email": "Info@Acme.com", "notes": " vip "},
	}

	n := NormalizeRecord(rec, spec, DefaultOptions())
	assert.Equal(t, "acme", n.Text("name"))
	assert.Equal(t, "acme.com", n.Text("email_domain"))
	assert.NotEmpty(t, n.Record.ContentHash)
	assert.Empty(t, rec.ContentHash, "input record is not mutated")

	t.Run("CosmeticChangesKeepHash", func(t *testing.T) {
		other := rec
		other.Fields = map[string]any{"name": "ACME corp.", "email": "info@acme.com ", "notes": "vip"}
		assert.Equal(t, n.Record.ContentHash, NormalizeRecord(other, spec, DefaultOptions()).Record.ContentHash)
	})

	t.Run("RealChangesMoveHash", func(t *testing.T) {
		other := rec
		other.Fields = map[string]any{"name": "Acme Corp", "email": "sales@acme.com", "notes": " vip "}
		assert.NotEqual(t, n.Record.ContentHash, NormalizeRecord(other, spec, DefaultOptions()).Record.ContentHash)
	})
}
