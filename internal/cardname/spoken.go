package cardname

import (
	"regexp"
	"strconv"
	"strings"
)

// spokenRarityPatterns are tried in order against the lowercased
// utterance. The explicit "rarity X" form comes first since it also
// consumes the "rarity" keyword itself; multi-word rarities precede
// their suffixes so that "quarter century secret rare" is not truncated
// to "secret rare".
var spokenRarityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rarity\s+(.+)$`),
	regexp.MustCompile(`quarter\s+century\s+secret(?:\s+rare)?`),
	regexp.MustCompile(`prismatic\s+secret(?:\s+rare)?`),
	regexp.MustCompile(`starlight\s+rare`),
	regexp.MustCompile(`collector.?s?\s+rare`),
	regexp.MustCompile(`ultimate\s+rare`),
	regexp.MustCompile(`ghost\s+rare`),
	regexp.MustCompile(`secret\s+rare`),
	regexp.MustCompile(`ultra\s+rare`),
	regexp.MustCompile(`super\s+rare`),
	regexp.MustCompile(`platinum\s+rare`),
	regexp.MustCompile(`gold\s+rare`),
	regexp.MustCompile(`silver\s+rare`),
	regexp.MustCompile(`\brare\b`),
	regexp.MustCompile(`\bcommon\b`),
}

// artVariantPatterns capture spoken art-variant qualifiers.
var artVariantPatterns = []*regexp.Regexp{
	regexp.MustCompile(`art\s+variant\s+(\w+)`),
	regexp.MustCompile(`art\s+rarity\s+(\w+)`),
	regexp.MustCompile(`artwork\s+(\w+)`),
	regexp.MustCompile(`art\s+(\w+)`),
	regexp.MustCompile(`variant\s+(\w+)`),
}

// SpokenParts is an utterance split into the card name and the optional
// rarity / art-variant qualifiers spoken with it.
type SpokenParts struct {
	// Name is the utterance with qualifiers removed.
	Name string

	// Rarity is the canonical rarity spelling, empty when none was spoken.
	Rarity string

	// ArtVariant is the spoken art qualifier, empty when none was spoken.
	ArtVariant string
}

// SplitSpoken extracts rarity and art-variant qualifiers from a spoken
// utterance. Qualifier text is removed from the returned name. Extraction
// of either part can be disabled independently, mirroring the auto-rarity
// and auto-art settings of the entry workflow.
func SplitSpoken(utterance string, withRarity, withArt bool) SpokenParts {
	name := strings.ToLower(strings.TrimSpace(utterance))
	parts := SpokenParts{}

	if withArt {
		for _, re := range artVariantPatterns {
			if m := re.FindStringSubmatch(name); m != nil {
				parts.ArtVariant = m[1]
				name = strings.TrimSpace(re.ReplaceAllString(name, ""))
				break
			}
		}
	}

	if withRarity {
		for _, re := range spokenRarityPatterns {
			m := re.FindStringSubmatch(name)
			if m == nil {
				continue
			}
			spoken := m[0]
			if len(m) > 1 && m[1] != "" {
				spoken = m[1]
			}
			parts.Rarity = CanonicalRarity(normalizeSpokenRarity(spoken))
			name = strings.TrimSpace(re.ReplaceAllString(name, ""))
			break
		}
	}

	parts.Name = strings.Join(strings.Fields(name), " ")
	return parts
}

// normalizeSpokenRarity completes shorthand spoken forms ("quarter
// century secret" → "quarter century secret rare").
func normalizeSpokenRarity(s string) string {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	switch s {
	case "quarter century secret":
		return "quarter century secret rare"
	case "prismatic secret":
		return "prismatic secret rare"
	}
	return s
}

// selectionPatterns match spoken numbered selections.
var selectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*(\d+)\s*$`),
	regexp.MustCompile(`option\s+(\d+)`),
	regexp.MustCompile(`select\s+(\d+)`),
	regexp.MustCompile(`choose\s+(\d+)`),
	regexp.MustCompile(`number\s+(\d+)`),
}

// cancelRE matches the words that reject a pending selection.
var cancelRE = regexp.MustCompile(`\b(reject|cancel|no|none|skip)\b`)

// Selection is a parsed spoken response to a numbered prompt.
type Selection struct {
	// Index is the 0-based selection, valid only when Chosen is true.
	Index int

	// Chosen reports that a number was spoken.
	Chosen bool

	// Cancelled reports that a cancel word was spoken.
	Cancelled bool
}

// ParseSelection interprets a spoken response to a numbered option
// prompt. Returns a zero Selection when the utterance is neither a number
// nor a cancel word.
func ParseSelection(utterance string) Selection {
	s := strings.ToLower(strings.TrimSpace(utterance))
	for _, re := range selectionPatterns {
		if m := re.FindStringSubmatch(s); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil || n < 1 {
				continue
			}
			return Selection{Index: n - 1, Chosen: true}
		}
	}
	if cancelRE.MatchString(s) {
		return Selection{Cancelled: true}
	}
	return Selection{}
}
