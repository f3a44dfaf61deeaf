// Package fuzzy scores the similarity between a normalized utterance and a
// candidate card name. It combines Levenshtein string similarity with a
// consonant-skeleton phonetic code so that misheard vowels ("dragun" vs
// "dragon") cost little while genuinely different names stay apart.
//
// One cost model (insert = delete = substitute = 1) is used for every
// caller; distances come from [matchr.Levenshtein].
package fuzzy

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

// Default scoring parameters.
const (
	DefaultFuzzyWeight        = 0.6
	DefaultPhoneticWeight     = 0.4
	DefaultExactMatchBonus    = 0.2
	DefaultWordBoundaryBonus  = 0.1
	DefaultShortLengthPenalty = 0.8
	DefaultPhoneticCodeLength = 4

	// shortInputLength is the length below which the short-length penalty
	// applies.
	shortInputLength = 3
)

// Options tunes [CombinedScore]. The zero value selects the defaults.
type Options struct {
	// FuzzyWeight weights plain string similarity. Default 0.6.
	FuzzyWeight float64

	// PhoneticWeight weights phonetic-code similarity. Default 0.4.
	PhoneticWeight float64

	// ExactMatchBonus is added on top of 1.0 for exact case-insensitive
	// matches so they outrank near matches even after downstream
	// clamping. Default 0.2.
	ExactMatchBonus float64

	// WordBoundaryBonus scales the bonus for input tokens that appear
	// verbatim among the target tokens. Default 0.1.
	WordBoundaryBonus float64

	// PhoneticCodeLength bounds the phonetic code. Default 4.
	PhoneticCodeLength int
}

func (o Options) withDefaults() Options {
	if o.FuzzyWeight == 0 && o.PhoneticWeight == 0 {
		o.FuzzyWeight = DefaultFuzzyWeight
		o.PhoneticWeight = DefaultPhoneticWeight
	}
	if o.ExactMatchBonus == 0 {
		o.ExactMatchBonus = DefaultExactMatchBonus
	}
	if o.WordBoundaryBonus == 0 {
		o.WordBoundaryBonus = DefaultWordBoundaryBonus
	}
	if o.PhoneticCodeLength == 0 {
		o.PhoneticCodeLength = DefaultPhoneticCodeLength
	}
	return o
}

// Levenshtein returns the edit distance between a and b with unit costs.
func Levenshtein(a, b string) int {
	return matchr.Levenshtein(a, b)
}

// Similarity returns 1 − distance/max(len) in [0,1]. Two empty strings
// are identical and score 1.
func Similarity(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(Levenshtein(a, b))/float64(longest)
}

// PhoneticCode reduces s to a bounded consonant skeleton: lowercase
// letters only, a fixed rewrite set applied left to right, vowels removed
// except in leading position, duplicate consonants collapsed, truncated
// to maxLength runes. maxLength <= 0 selects the default length of 4.
func PhoneticCode(s string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultPhoneticCodeLength
	}

	// Letters only, lowercased.
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	w := b.String()
	if w == "" {
		return ""
	}

	// Fixed rewrite set. "c" is context-sensitive: soft before e/i/y.
	var out []byte
	for i := 0; i < len(w); {
		switch {
		case strings.HasPrefix(w[i:], "ph"):
			out = append(out, 'f')
			i += 2
		case strings.HasPrefix(w[i:], "ck"):
			out = append(out, 'k')
			i += 2
		case strings.HasPrefix(w[i:], "qu"):
			out = append(out, 'k', 'w')
			i += 2
		case strings.HasPrefix(w[i:], "sh"), strings.HasPrefix(w[i:], "ch"):
			out = append(out, 'x')
			i += 2
		case strings.HasPrefix(w[i:], "th"):
			out = append(out, 't')
			i += 2
		case strings.HasPrefix(w[i:], "gh"):
			out = append(out, 'g')
			i += 2
		case w[i] == 'c':
			if i+1 < len(w) && (w[i+1] == 'e' || w[i+1] == 'i' || w[i+1] == 'y') {
				out = append(out, 's')
			} else {
				out = append(out, 'k')
			}
			i++
		case w[i] == 'x':
			out = append(out, 'k', 's')
			i++
		case w[i] == 'z':
			out = append(out, 's')
			i++
		default:
			out = append(out, w[i])
			i++
		}
	}

	// Drop vowels except a leading vowel, collapsing duplicates as we go.
	code := make([]byte, 0, len(out))
	for i, c := range out {
		if i > 0 && isVowel(c) {
			continue
		}
		if len(code) > 0 && code[len(code)-1] == c {
			continue
		}
		code = append(code, c)
	}
	if len(code) > maxLength {
		code = code[:maxLength]
	}
	return string(code)
}

func isVowel(c byte) bool {
	switch c {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

// CombinedScore scores input against target. Exact case-insensitive
// matches return 1 + ExactMatchBonus; everything else is a weighted
// combination of string similarity and phonetic-code similarity plus a
// word-boundary bonus, with a flat 0.8 penalty when either side is
// shorter than three runes. Consumers must clamp to [0,1] before using
// the score as a confidence.
func CombinedScore(input, target string, opts Options) float64 {
	opts = opts.withDefaults()

	in := strings.ToLower(strings.TrimSpace(input))
	tg := strings.ToLower(strings.TrimSpace(target))
	if in == "" || tg == "" {
		return 0
	}
	if in == tg {
		return 1 + opts.ExactMatchBonus
	}

	score := opts.FuzzyWeight*Similarity(in, tg) +
		opts.PhoneticWeight*Similarity(
			PhoneticCode(in, opts.PhoneticCodeLength),
			PhoneticCode(tg, opts.PhoneticCodeLength),
		)

	// Word-boundary bonus: fraction of input tokens present verbatim in
	// the target.
	inTokens := strings.Fields(in)
	if len(inTokens) > 0 {
		tgTokens := make(map[string]struct{})
		for _, t := range strings.Fields(tg) {
			tgTokens[t] = struct{}{}
		}
		hits := 0
		for _, t := range inTokens {
			if _, ok := tgTokens[t]; ok {
				hits++
			}
		}
		score += opts.WordBoundaryBonus * float64(hits) / float64(len(inTokens))
	}

	if min(len([]rune(in)), len([]rune(tg))) < shortInputLength {
		score *= DefaultShortLengthPenalty
	}
	return score
}

// MatchType classifies how a best match was found.
type MatchType string

const (
	MatchExact   MatchType = "exact"
	MatchPartial MatchType = "partial"
	MatchFuzzy   MatchType = "fuzzy"
	MatchNone    MatchType = "none"
)

// Scored pairs a target with its score.
type Scored struct {
	Target string
	Score  float64
}

// MatchResult is the outcome of [FindBestMatch].
type MatchResult struct {
	// Best is the winning target, empty when Type is [MatchNone].
	Best string

	// Score is the winning score before consumer clamping.
	Score float64

	// Type records which pass produced the match.
	Type MatchType

	// All lists every target scoring at or above the minimum, sorted
	// best first.
	All []Scored
}

// FindBestMatch finds the target most similar to input. Passes run in
// order: exact case-insensitive equality, substring containment scored at
// 0.9 × inclusion ratio, then fuzzy [CombinedScore]. Ties break toward
// the higher length ratio, then the lexicographically smaller target.
func FindBestMatch(input string, targets []string, minScore float64) MatchResult {
	in := strings.ToLower(strings.TrimSpace(input))
	res := MatchResult{Type: MatchNone}
	if in == "" || len(targets) == 0 {
		return res
	}

	type row struct {
		target string
		score  float64
		typ    MatchType
		ratio  float64
	}
	rows := make([]row, 0, len(targets))

	for _, target := range targets {
		tg := strings.ToLower(strings.TrimSpace(target))
		if tg == "" {
			continue
		}
		r := row{target: target, ratio: lengthRatio(in, tg)}
		switch {
		case in == tg:
			r.score = 1 + DefaultExactMatchBonus
			r.typ = MatchExact
		case strings.Contains(tg, in) || strings.Contains(in, tg):
			r.score = 0.9 * r.ratio
			r.typ = MatchPartial
		default:
			r.score = CombinedScore(in, tg, Options{})
			r.typ = MatchFuzzy
		}
		if r.score >= minScore {
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		return res
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].score != rows[j].score {
			return rows[i].score > rows[j].score
		}
		if rows[i].ratio != rows[j].ratio {
			return rows[i].ratio > rows[j].ratio
		}
		return rows[i].target < rows[j].target
	})

	res.Best = rows[0].target
	res.Score = rows[0].score
	res.Type = rows[0].typ
	res.All = make([]Scored, len(rows))
	for i, r := range rows {
		res.All[i] = Scored{Target: r.target, Score: r.score}
	}
	return res
}

func lengthRatio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 || lb == 0 {
		return 0
	}
	if la > lb {
		la, lb = lb, la
	}
	return float64(la) / float64(lb)
}
