// Package sanitize turns arbitrary titles and filenames into identifiers the
// remote storage service accepts. The transform is deterministic, pure and
// idempotent: markup is stripped, accented characters and entities fold to
// their base letter, anything else collapses to single underscores.
package sanitize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	tagRe          = regexp.MustCompile(`<[^>]*>`)
	accentEntityRe = regexp.MustCompile(`&([A-Za-z])(?:uml|circ|tilde|acute|grave|cedil|ring);`)
	ligEntityRe    = regexp.MustCompile(`&([A-Za-z]{2})lig;`)
	entityRe       = regexp.MustCompile(`&[^;]+;`)
	disallowedRe   = regexp.MustCompile(`[^0-9A-Za-z()\[\]_\-.#~@+:]`)
	underscoreRe   = regexp.MustCompile(`_+`)

	// NFD + drop combining marks folds é→e, ü→u etc.
	unaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

	// Ligatures do not decompose under NFD.
	ligatures = strings.NewReplacer(
		"æ", "ae", "Æ", "AE",
		"œ", "oe", "Œ", "OE",
		"ß", "ss",
	)
)

// String returns a remote-safe identifier for s. Case is preserved; the
// output alphabet is [0-9A-Za-z()[]_-.#~@+:] with no repeated underscores.
func String(s string) string {
	s = strings.TrimSpace(tagRe.ReplaceAllString(s, ""))

	s = accentEntityRe.ReplaceAllString(s, "$1")
	s = ligEntityRe.ReplaceAllString(s, "$1")
	s = entityRe.ReplaceAllString(s, "_")

	s = ligatures.Replace(s)
	if folded, _, err := transform.String(unaccent, s); err == nil {
		s = folded
	}

	s = disallowedRe.ReplaceAllString(s, "_")
	return underscoreRe.ReplaceAllString(s, "_")
}
