// Package cleaner turns provider text into the normalized form that gets
// embedded. Ingestion and query both go through Clean so their vectors live
// in the same space.
package cleaner

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	strict = func() *bluemonday.Policy {
		p := bluemonday.StrictPolicy()
		p.AddSpaceWhenStrippingTag(true)
		return p
	}()

	symbolReplacer = strings.NewReplacer(
		"‘", "'", "’", "'", "‚", "'", "‛", "'",
		"“", "\"", "”", "\"", "„", "\"",
		"‐", " ", "‑", " ", "‒", " ", "–", " ", "—", " ", "―", " ",
		"•", " ", "‣", " ", "⁃", " ", "▪", " ", "●", " ", "·", " ",
		"\u00a0", " ",
	)
)

// Text strips markup and entities and collapses whitespace. Case and
// punctuation are kept; use it for display fields.
func Text(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	s = html.UnescapeString(strict.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

// Clean lowercases, folds accents, drops non-ascii and punctuation and
// collapses whitespace.
func Clean(s string) string {
	s = Text(s)
	if s == "" {
		return ""
	}
	s = symbolReplacer.Replace(s)

	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r > unicode.MaxASCII:
			continue
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			continue
		default:
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Body builds the text that represents an article in the index:
// title followed by the first non-blank description.
func Body(title string, descriptions ...string) string {
	var desc string
	for _, d := range descriptions {
		if strings.TrimSpace(d) != "" {
			desc = d
			break
		}
	}
	switch {
	case strings.TrimSpace(title) == "":
		return Clean(desc)
	case desc == "":
		return Clean(title)
	default:
		return Clean(title + ". " + desc)
	}
}
