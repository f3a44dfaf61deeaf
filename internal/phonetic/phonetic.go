// Package phonetic reduces surface variation in spoken card names so that
// two utterances of the same card collide on one canonical form.
//
// Normalization applies, in order: lowercasing and whitespace collapse, an
// ordered pattern table (popular-card full names first, then archetypes,
// monster types, spell/trap vocabulary, rarities, modifiers, and Japanese
// syllable rewrites), article and generic-noun removal, and final cleanup.
// The table is a declarative, versioned data file embedded in the binary
// and compiled once at load; its ordering is part of the contract because
// later entries rely on earlier collapses.
//
// Normalizer is read-only after construction and safe for concurrent use.
package phonetic

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var embeddedPatterns []byte

// MaxVariants bounds the size of the set returned by
// [Normalizer.GenerateVariants].
const MaxVariants = 64

// articleWords are removed from normalized output. These carry no card
// identity and differ between spoken and printed forms.
var articleWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "of": {},
	"monster": {}, "card": {}, "spell": {}, "trap": {}, "effect": {},
}

var (
	nonWordRE    = regexp.MustCompile(`[^\w\s-]`)
	whitespaceRE = regexp.MustCompile(`\s+`)
	hyphenRE     = regexp.MustCompile(`\s*-\s*`)
)

// phoneticSubs are the bidirectional substitutions used for variant
// generation.
var phoneticSubs = [][2]string{
	{"a", "e"},
	{"i", "y"},
	{"o", "u"},
	{"c", "k"},
	{"ph", "f"},
	{"s", "z"},
	{"sh", "ch"},
}

// tableFile is the on-disk schema of the pattern data file.
type tableFile struct {
	Version           string     `yaml:"version"`
	JapaneseCues      []string   `yaml:"japanese_cues"`
	PopularArchetypes []string   `yaml:"popular_archetypes"`
	ObscureArchetypes []string   `yaml:"obscure_archetypes"`
	PopularSets       []string   `yaml:"popular_sets"`
	Categories        []category `yaml:"categories"`
}

type category struct {
	Name     string  `yaml:"name"`
	Patterns []entry `yaml:"patterns"`
}

type entry struct {
	Match   string `yaml:"match"`
	Replace string `yaml:"replace"`
}

// compiledPattern is one table row ready for application.
type compiledPattern struct {
	category string
	re       *regexp.Regexp
	replace  string
}

// Normalizer applies the compiled pattern table. Construct with [New] or
// use the process-wide [Default].
type Normalizer struct {
	version      string
	table        []compiledPattern
	japaneseCues []string

	popularArchetypes []string
	obscureArchetypes []string
	popularSets       map[string]struct{}
}

// New parses and compiles the pattern table from data. The data must be a
// YAML document following the patterns.yaml schema.
func New(data []byte) (*Normalizer, error) {
	var tf tableFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("phonetic: parse pattern table: %w", err)
	}
	if tf.Version == "" {
		return nil, fmt.Errorf("phonetic: pattern table missing version")
	}

	n := &Normalizer{
		version:           tf.Version,
		japaneseCues:      tf.JapaneseCues,
		popularArchetypes: tf.PopularArchetypes,
		obscureArchetypes: tf.ObscureArchetypes,
		popularSets:       make(map[string]struct{}, len(tf.PopularSets)),
	}
	for _, s := range tf.PopularSets {
		n.popularSets[strings.ToUpper(s)] = struct{}{}
	}

	for _, cat := range tf.Categories {
		for _, e := range cat.Patterns {
			re, err := regexp.Compile("(?i)" + e.Match)
			if err != nil {
				return nil, fmt.Errorf("phonetic: category %q: compile %q: %w", cat.Name, e.Match, err)
			}
			n.table = append(n.table, compiledPattern{
				category: cat.Name,
				re:       re,
				replace:  e.Replace,
			})
		}
	}
	return n, nil
}

// Default returns a Normalizer built from the embedded pattern table.
// The embedded table is validated by tests, so a parse failure here is a
// build defect and panics.
func Default() *Normalizer {
	n, err := New(embeddedPatterns)
	if err != nil {
		panic(err)
	}
	return n
}

// Version returns the pattern table version string.
func (n *Normalizer) Version() string { return n.version }

// PopularArchetypes returns the bundled popular-archetype list.
func (n *Normalizer) PopularArchetypes() []string { return n.popularArchetypes }

// ObscureArchetypes returns the bundled obscure-archetype list.
func (n *Normalizer) ObscureArchetypes() []string { return n.obscureArchetypes }

// IsPopularSet reports whether setCode appears in the bundled popular-set
// list. Matching is case-insensitive.
func (n *Normalizer) IsPopularSet(setCode string) bool {
	_, ok := n.popularSets[strings.ToUpper(strings.TrimSpace(setCode))]
	return ok
}

// Normalize returns the canonical form of text: lowercased, pattern table
// applied in order, articles and generic nouns removed, punctuation
// stripped, whitespace and hyphen spacing collapsed. Never fails; empty
// input yields an empty canonical.
func (n *Normalizer) Normalize(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return ""
	}
	s = whitespaceRE.ReplaceAllString(s, " ")

	for _, p := range n.table {
		s = p.re.ReplaceAllString(s, p.replace)
	}

	// Article and generic-noun removal.
	fields := strings.Fields(s)
	kept := fields[:0]
	for _, f := range fields {
		if _, drop := articleWords[f]; drop {
			continue
		}
		kept = append(kept, f)
	}
	s = strings.Join(kept, " ")

	// Cleanup.
	s = nonWordRE.ReplaceAllString(s, "")
	s = hyphenRE.ReplaceAllString(s, "-")
	s = whitespaceRE.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// GenerateVariants returns the canonical form plus a bounded set of
// alternative surface forms: space-removed and hyphen-joined spellings,
// multi-word expansions ("blue eyes" ↔ "blue-eyes" ↔ "blueeyes"),
// single-pass phonetic substitutions, and double-letter toggles. The
// canonical form is always the first element; the set never exceeds
// [MaxVariants] entries.
func (n *Normalizer) GenerateVariants(text string) []string {
	canonical := n.Normalize(text)
	if canonical == "" {
		return nil
	}

	seen := map[string]struct{}{canonical: {}}
	variants := []string{canonical}
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" || len(variants) >= MaxVariants {
			return
		}
		if _, dup := seen[v]; dup {
			return
		}
		seen[v] = struct{}{}
		variants = append(variants, v)
	}

	// The raw surface form, when it differs from the canonical.
	add(whitespaceRE.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), " "))

	// Orthographic re-spacings.
	add(strings.ReplaceAll(canonical, " ", ""))
	add(strings.ReplaceAll(canonical, " ", "-"))
	add(strings.ReplaceAll(canonical, "-", " "))
	add(strings.ReplaceAll(strings.ReplaceAll(canonical, "-", ""), " ", ""))

	// Multi-word expansions: join adjacent word pairs.
	words := strings.Fields(strings.ReplaceAll(canonical, "-", " "))
	for i := 0; i+1 < len(words); i++ {
		joined := make([]string, 0, len(words)-1)
		joined = append(joined, words[:i]...)
		joined = append(joined, words[i]+words[i+1])
		joined = append(joined, words[i+2:]...)
		add(strings.Join(joined, " "))
		hyphened := make([]string, 0, len(words)-1)
		hyphened = append(hyphened, words[:i]...)
		hyphened = append(hyphened, words[i]+"-"+words[i+1])
		hyphened = append(hyphened, words[i+2:]...)
		add(strings.Join(hyphened, " "))
	}

	// Single-pass phonetic substitutions in both directions.
	for _, sub := range phoneticSubs {
		if strings.Contains(canonical, sub[0]) {
			add(strings.ReplaceAll(canonical, sub[0], sub[1]))
		}
		if strings.Contains(canonical, sub[1]) {
			add(strings.ReplaceAll(canonical, sub[1], sub[0]))
		}
	}

	// Double-letter toggles: collapse existing doubles, double single
	// consonants that commonly appear doubled in card names.
	for i := 0; i+1 < len(canonical); i++ {
		c := canonical[i]
		if c == canonical[i+1] && c >= 'a' && c <= 'z' {
			add(canonical[:i] + canonical[i+1:])
		}
	}
	for _, c := range []string{"l", "n", "r", "s", "t"} {
		if strings.Count(canonical, c) == 1 && !strings.Contains(canonical, c+c) {
			add(strings.Replace(canonical, c, c+c, 1))
		}
	}

	return variants
}

// ContainsJapanese reports whether text carries any of the fixed Japanese
// romanization cues from the pattern table.
func (n *Normalizer) ContainsJapanese(text string) bool {
	s := strings.ToLower(text)
	for _, cue := range n.japaneseCues {
		if strings.Contains(s, cue) {
			return true
		}
	}
	return false
}
