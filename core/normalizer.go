package dialogrt

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RegisterBuiltinNormalizers seeds r with the normalizers this runtime
// ships out of the box. Flow authors reference these by name from a
// SlotDefinition.Normalizer field.
func RegisterBuiltinNormalizers(r *NormalizerRegistry) {
	r.Register("lower", normalizeLower)
	r.Register("upper", normalizeUpper)
	r.Register("title", normalizeTitle)
	r.Register("trim", normalizeTrim)
	r.Register("strip_diacritics", normalizeStripDiacritics)
}

// normalizeLower case-folds a free-text slot value using
// golang.org/x/text/cases rather than strings.ToLower, for locale-aware
// casing (§11.2).
func normalizeLower(value interface{}) (interface{}, error) {
	s, err := asString(value)
	if err != nil {
		return nil, err
	}
	return cases.Lower(language.Und).String(s), nil
}

func normalizeUpper(value interface{}) (interface{}, error) {
	s, err := asString(value)
	if err != nil {
		return nil, err
	}
	return cases.Upper(language.Und).String(s), nil
}

func normalizeTitle(value interface{}) (interface{}, error) {
	s, err := asString(value)
	if err != nil {
		return nil, err
	}
	return cases.Title(language.Und).String(s), nil
}

func normalizeTrim(value interface{}) (interface{}, error) {
	s, err := asString(value)
	if err != nil {
		return nil, err
	}
	return strings.TrimSpace(s), nil
}

// normalizeStripDiacritics folds a string like "Über" to "uber" via
// Unicode NFD decomposition followed by dropping combining marks, using
// golang.org/x/text/transform and golang.org/x/text/unicode/norm — the
// canonical diacritic-stripping pipeline for that package family, used
// here for free-text slot values such as city names (§11.2).
func normalizeStripDiacritics(value interface{}) (interface{}, error) {
	s, err := asString(value)
	if err != nil {
		return nil, err
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return nil, fmt.Errorf("strip diacritics: %w", err)
	}
	return strings.ToLower(out), nil
}

func asString(value interface{}) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", &ValidationError{Value: value, Reason: "normalizer requires a string value"}
	}
	return s, nil
}
