package cardname

import (
	"regexp"
	"strings"
)

// Rarities is the fixed rarity vocabulary, most specific first so that
// alternation-based matching prefers "Quarter Century Secret Rare" over
// "Secret Rare" over "Rare". Matching is always case-insensitive.
var Rarities = []string{
	"Quarter Century Secret Rare",
	"Prismatic Secret Rare",
	"Collector's Rare",
	"Starlight Rare",
	"Ultimate Rare",
	"Ghost Rare",
	"Secret Rare",
	"Ultra Rare",
	"Super Rare",
	"Platinum Rare",
	"Gold Rare",
	"Silver Rare",
	"Rare",
	"Common",
}

// rarityAlternation returns the vocabulary as a regexp alternation with
// flexible whitespace and an optional apostrophe in "Collector's".
func rarityAlternation() string {
	alts := make([]string, len(Rarities))
	for i, r := range Rarities {
		esc := regexp.QuoteMeta(r)
		esc = strings.ReplaceAll(esc, `\ `, `\s+`)
		esc = strings.ReplaceAll(esc, `'`, `'?`)
		alts[i] = esc
	}
	return strings.Join(alts, "|")
}

// IsRarity reports whether s is one of the fixed rarity keywords,
// ignoring case and surrounding whitespace.
func IsRarity(s string) bool {
	s = strings.TrimSpace(s)
	for _, r := range Rarities {
		if strings.EqualFold(s, r) {
			return true
		}
	}
	return false
}

// CanonicalRarity maps s onto the canonical spelling from [Rarities].
// Returns the input unchanged (trimmed) when no keyword matches.
func CanonicalRarity(s string) string {
	s = strings.TrimSpace(s)
	for _, r := range Rarities {
		if strings.EqualFold(s, r) {
			return r
		}
	}
	return s
}
