// Package cardname collapses card display-name variants onto the stable
// base name used as the learning key, and parses the rarity, art-variant,
// and selection phrases that users speak alongside a card name.
package cardname

import (
	"regexp"
	"strings"
)

// maxExtractPasses bounds the qualifier-stripping loop. Display names
// never stack more qualifiers than this in practice.
const maxExtractPasses = 6

var (
	parentheticalRE = regexp.MustCompile(`\s*\([^)]*\)\s*$`)
	bracketTagRE    = regexp.MustCompile(`\s*\[\w+\]$`)
	cardNumberRE    = regexp.MustCompile(`\s*#\d+.*$`)
	editionRE       = regexp.MustCompile(`(?i)\s*\d+(st|nd|rd|th)\s+Edition.*$`)

	// trailingRarityRE matches "- <rarity> ..." suffixes built from the
	// fixed rarity vocabulary.
	trailingRarityRE = regexp.MustCompile(`(?i)\s*-\s*(` + rarityAlternation() + `)\b.*$`)
)

// Extract returns the base name of display: the trailing parenthetical,
// "- <rarity>" suffix, bracketed tag, card number, and edition marker are
// stripped in that order, repeating until the name is stable. Extract is
// idempotent: Extract(Extract(x)) == Extract(x).
func Extract(display string) string {
	s := strings.TrimSpace(display)
	for range maxExtractPasses {
		prev := s
		s = parentheticalRE.ReplaceAllString(s, "")
		s = trailingRarityRE.ReplaceAllString(s, "")
		s = bracketTagRE.ReplaceAllString(s, "")
		s = cardNumberRE.ReplaceAllString(s, "")
		s = editionRE.ReplaceAllString(s, "")
		s = strings.TrimSpace(s)
		if s == prev {
			break
		}
	}
	return s
}
