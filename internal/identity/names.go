package identity

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeLabel normalizes an identity label for comparison (lowercase, no
// diacritics, spaces for dashes). Two labels normalizing to the same value
// refer to the same identity.
func NormalizeLabel(label string) string {
	label = RemoveDiacritics(label)
	label = strings.ToLower(strings.TrimSpace(label))
	label = strings.ReplaceAll(label, "-", " ")
	return label
}
