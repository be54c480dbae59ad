package registry

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var symbolWords = strings.NewReplacer(
	"%", " percent ",
	"&", " and ",
	"#", " number ",
	"+", " plus ",
	"<", " lt ",
	">", " gt ",
)

// SanitizeFieldKey turns a display label into a snake_case field key:
// "Female (%)" becomes "female_percent" and "Año de publicación" becomes
// "ano_de_publicacion". Keys that are already snake_case are unchanged.
func SanitizeFieldKey(label string) string {
	stripped, _, err := transform.String(
		transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		label,
	)
	if err != nil {
		stripped = label
	}
	lowered := cases.Lower(language.Und).String(symbolWords.Replace(stripped))

	var b strings.Builder
	pendingSep := false
	for _, r := range lowered {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}

	key := b.String()
	if key != "" && key[0] >= '0' && key[0] <= '9' {
		key = "field_" + key
	}
	return key
}
