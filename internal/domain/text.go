package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FoldTitle strips diacritics and collapses whitespace so "Pokémon  Horizons"
// searches and matches as "Pokemon Horizons".
func FoldTitle(title string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, title)
	if err != nil {
		folded = title
	}
	return strings.Join(strings.Fields(folded), " ")
}
