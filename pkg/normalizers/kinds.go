package normalizers

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
	"github.com/shopspring/decimal"

	"github.com/bgross0/data-migrator-sub001/pkg/models"
)

// Value is a normalized field value. Degraded values could not be parsed for
// their kind; scoring gives them zero confidence and they never form keys.
type Value struct {
	Text     string `json:"text"`
	Degraded bool   `json:"degraded,omitempty"`
}

// Usable reports whether the value can take part in matching.
func (v Value) Usable() bool {
	return v.Text != "" && !v.Degraded
}

// Options are run-wide normalization settings.
type Options struct {
	// DefaultRegion is the ISO 3166 region assumed for phones without a country code.
	DefaultRegion string
	// DefaultBucketDays is used by date_bucket fields that do not set their own window.
	DefaultBucketDays int
}

func DefaultOptions() Options {
	return Options{DefaultRegion: "US", DefaultBucketDays: 1}
}

// Normalize canonicalizes raw according to the field spec.
func Normalize(raw any, spec models.FieldSpec, opts Options) Value {
	s := Stringify(raw)
	if len(spec.Pre) > 0 {
		s = ApplyChain(s, spec.Pre...)
	}
	if strings.TrimSpace(s) == "" {
		return Value{}
	}

	switch spec.Kind {
	case models.FieldKindString:
		return Value{Text: NormalizeString(s)}
	case models.FieldKindLegalName:
		return Value{Text: NormalizeLegalName(s)}
	case models.FieldKindAddress:
		return Value{Text: NormalizeAddress(s)}
	case models.FieldKindVAT:
		return NormalizeVAT(s)
	case models.FieldKindPhone:
		return NormalizePhone(s, opts.DefaultRegion)
	case models.FieldKindEmail:
		return NormalizeEmail(s)
	case models.FieldKindEmailDomain:
		return EmailDomain(s)
	case models.FieldKindDateBucket:
		days := spec.BucketDays
		if days <= 0 {
			days = opts.DefaultBucketDays
		}
		if t, ok := raw.(time.Time); ok {
			return Value{Text: BucketTime(t, days)}
		}
		return DateBucket(s, days)
	case models.FieldKindDecimal:
		return NormalizeDecimal(s)
	default:
		return Value{Text: strings.TrimSpace(s)}
	}
}

// NormalizeVAT strips whitespace, dashes and dots and uppercases.
func NormalizeVAT(s string) Value {
	cleaned := strings.ToUpper(strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-', '.', '/':
			return -1
		}
		return r
	}, s))
	if cleaned == "" {
		return Value{}
	}
	if Alphanumeric(cleaned) != cleaned {
		return Value{Text: s, Degraded: true}
	}
	return Value{Text: cleaned}
}

// NormalizePhone formats a phone number as E.164. Numbers that do not parse or
// are not valid for the region pass through unchanged and degraded.
func NormalizePhone(s, region string) Value {
	if region == "" {
		region = "US"
	}
	num, err := phonenumbers.Parse(s, strings.ToUpper(region))
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return Value{Text: s, Degraded: true}
	}
	return Value{Text: phonenumbers.Format(num, phonenumbers.E164)}
}

// NormalizeEmail lowercases and trims. Values without a local part and domain are degraded.
func NormalizeEmail(s string) Value {
	email := strings.ToLower(strings.TrimSpace(s))
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t") {
		return Value{Text: s, Degraded: true}
	}
	return Value{Text: email}
}

// EmailDomain extracts the domain part of an email address.
func EmailDomain(s string) Value {
	email := NormalizeEmail(s)
	if email.Degraded {
		return email
	}
	return Value{Text: email.Text[strings.LastIndex(email.Text, "@")+1:]}
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
}

// ParseTime parses the timestamp layouts accepted for date fields.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DateBucket rounds a timestamp down to the start of its N-day window,
// counted from the Unix epoch in UTC.
func DateBucket(s string, days int) Value {
	t, ok := ParseTime(s)
	if !ok {
		return Value{Text: s, Degraded: true}
	}
	return Value{Text: BucketTime(t, days)}
}

func BucketTime(t time.Time, days int) string {
	if days <= 0 {
		days = 1
	}
	day := t.UTC().Unix() / 86400
	if t.UTC().Unix() < 0 && t.UTC().Unix()%86400 != 0 {
		day--
	}
	start := day - mod(day, int64(days))
	return time.Unix(start*86400, 0).UTC().Format("2006-01-02")
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// NormalizeDecimal renders a number in canonical decimal form ("1,200.50" -> "1200.5").
func NormalizeDecimal(s string) Value {
	d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(s), ",", ""))
	if err != nil {
		return Value{Text: s, Degraded: true}
	}
	return Value{Text: d.String()}
}

// Stringify renders a raw field value as text.
func Stringify(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
