package table

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	spaceRe         = regexp.MustCompile(`\s+`)
	parentheticalRe = regexp.MustCompile(`\s*[(\[][^()\[\]]*[)\]]\s*$`)
	slugRe          = regexp.MustCompile(`[^a-z0-9]+`)
)

// NormalizeHeader folds a header cell to a comparable form: NFKC, lower
// case, single spaces, no trailing punctuation or parenthetical suffix.
func NormalizeHeader(s string) string {
	return normalizeHeader(s, true)
}

func normalizeHeader(s string, stripParens bool) string {
	s = strings.ToLower(norm.NFKC.String(s))
	s = strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
	if stripParens {
		for {
			stripped := parentheticalRe.ReplaceAllString(s, "")
			if stripped == s || stripped == "" {
				break
			}
			s = stripped
		}
	}
	return strings.TrimRight(s, " .:;,*")
}

// Slug turns a header into an extra-field key, e.g. "Heat No." -> "heat_no".
func Slug(header string) string {
	s := slugRe.ReplaceAllString(normalizeHeader(header, false), "_")
	return strings.Trim(s, "_")
}
