// Package normalizers canonicalizes raw field values before any comparison.
// Every function here is pure and never fails: unparsable input comes back
// verbatim with Degraded set.
package normalizers

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

// registry holds all registered normalizers
var registry = make(map[string]Normalizer)

func init() {
	Register("lowercase", strings.ToLower)
	Register("uppercase", strings.ToUpper)
	Register("trim", strings.TrimSpace)
	Register("fold", FoldAccents)
	Register("digits_only", DigitsOnly)
	Register("alphanumeric", Alphanumeric)
	Register("remove_whitespace", RemoveWhitespace)
	Register("remove_punctuation", RemovePunctuation)
	Register("nstring", NormalizeString)
	Register("nname", NormalizeLegalName)
	Register("naddress", NormalizeAddress)
	Register("nvat", func(s string) string { return NormalizeVAT(s).Text })
	Register("nemail", func(s string) string { return NormalizeEmail(s).Text })
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value. Unknown names are a no-op.
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

// FoldAccents strips combining marks ("Société" -> "Societe").
func FoldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeString lowercases, folds accents, strips punctuation and symbols,
// and collapses whitespace.
func NormalizeString(s string) string {
	s = strings.ToLower(FoldAccents(s))

	var result strings.Builder
	prevSpace := true
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			result.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r):
			if !prevSpace {
				result.WriteRune(' ')
				prevSpace = true
			}
		}
	}

	return strings.TrimSpace(result.String())
}

var legalSuffixes = map[string]struct{}{
	"inc": {}, "incorporated": {}, "corp": {}, "corporation": {}, "co": {}, "company": {},
	"llc": {}, "llp": {}, "lp": {}, "ltd": {}, "limited": {}, "plc": {},
	"gmbh": {}, "ag": {}, "kg": {}, "ug": {}, "sa": {}, "sas": {}, "sarl": {}, "srl": {},
	"spa": {}, "bv": {}, "nv": {}, "oy": {}, "ab": {}, "pty": {}, "pvt": {},
}

// NormalizeLegalName normalizes an organization name and strips trailing legal
// entity suffixes ("Acme Holdings Co. Ltd" -> "acme holdings"). A name made
// only of suffixes is kept as is.
func NormalizeLegalName(s string) string {
	tokens := strings.Fields(NormalizeString(s))
	end := len(tokens)
	for end > 1 {
		if _, ok := legalSuffixes[tokens[end-1]]; !ok {
			break
		}
		end--
	}
	return strings.Join(tokens[:end], " ")
}

var addressAbbreviations = map[string]string{
	"street":    "st",
	"avenue":    "ave",
	"boulevard": "blvd",
	"drive":     "dr",
	"road":      "rd",
	"lane":      "ln",
	"court":     "ct",
	"circle":    "cir",
	"place":     "pl",
	"apartment": "apt",
	"suite":     "ste",
	"north":     "n",
	"south":     "s",
	"east":      "e",
	"west":      "w",
}

// NormalizeAddress normalizes an address string and abbreviates street words
// token by token.
func NormalizeAddress(s string) string {
	tokens := strings.Fields(NormalizeString(s))
	for i, tok := range tokens {
		if abbr, ok := addressAbbreviations[tok]; ok {
			tokens[i] = abbr
		}
	}
	return strings.Join(tokens, " ")
}

// DigitsOnly keeps only digit characters
func DigitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// Alphanumeric keeps only alphanumeric characters
func Alphanumeric(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// RemoveWhitespace removes all whitespace characters
func RemoveWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// RemovePunctuation removes all punctuation characters
func RemovePunctuation(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return r
	}, s)
}
