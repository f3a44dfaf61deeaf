package recognition

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/voxrip/voxrip/internal/adaptive"
	"github.com/voxrip/voxrip/internal/cardname"
	"github.com/voxrip/voxrip/internal/catalog"
	"github.com/voxrip/voxrip/internal/fault"
	"github.com/voxrip/voxrip/internal/fuzzy"
	"github.com/voxrip/voxrip/internal/learning"
	"github.com/voxrip/voxrip/internal/phonetic"
)

// Pipeline tuning defaults.
const (
	DefaultMaxAlternatives = 10
	DefaultRawFloor        = 0.1
	DefaultMaxResults      = 8
	DefaultFetchTimeout    = 10 * time.Second

	// fuzzyMinScore is the minimum combined score a fuzzy match must
	// reach to become a candidate at all.
	fuzzyMinScore = 0.5

	// tieStep separates equal confidences so downstream numbered
	// selection is deterministic.
	tieStep = 0.001

	// Weights for folding a spoken rarity into the score, with separate
	// confidence caps for matching and non-matching printings.
	rarityNameWeight   = 0.75
	rarityWeight       = 0.25
	rarityPenaltyFloor = 0.4
	rarityMatchCap     = 0.95
	rarityMissCap      = 0.85
)

// Learner is the read-only learning-store surface the pipeline needs.
type Learner interface {
	Lookup(normalizedInput string, candidateBaseNames []string) map[string]learning.PersonalBoost
}

// CardSource fetches the card list of a set. The catalog client
// satisfies this.
type CardSource interface {
	ListCardsForSet(ctx context.Context, setCode string) ([]catalog.CardRecord, error)
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithMaxAlternatives bounds how many speech alternatives are
// considered. Default 10.
func WithMaxAlternatives(n int) Option {
	return func(p *Pipeline) { p.maxAlternatives = n }
}

// WithRawFloor sets the raw confidence floor below which alternatives
// are dropped before any boosting. Default 0.1; low-confidence inputs
// above the floor are kept so training can escalate them.
func WithRawFloor(f float64) Option {
	return func(p *Pipeline) { p.rawFloor = f }
}

// WithFetchTimeout sets the set-cards fetch deadline. Default 10 s.
func WithFetchTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.fetchTimeout = d }
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// WithRarityExtraction toggles spoken-rarity extraction. Default on.
func WithRarityExtraction(on bool) Option {
	return func(p *Pipeline) { p.extractRarity = on }
}

// WithArtExtraction toggles spoken art-variant extraction. Default on.
func WithArtExtraction(on bool) Option {
	return func(p *Pipeline) { p.extractArt = on }
}

// cacheSize bounds the per-set card cache. A session rarely touches more
// than a handful of sets.
const cacheSize = 8

// Pipeline is the end-to-end recognizer. Safe for concurrent use; the
// pipeline owns the cards cache and invalidates it when the current set
// changes.
type Pipeline struct {
	normalizer *phonetic.Normalizer
	adjuster   *adaptive.Adjuster
	learner    Learner
	source     CardSource
	log        *slog.Logger

	maxAlternatives int
	rawFloor        float64
	maxResults      int
	fetchTimeout    time.Duration
	extractRarity   bool
	extractArt      bool

	mu         sync.Mutex
	currentSet string
	cache      *lru.Cache[string, []catalog.CardRecord]
}

// New constructs a Pipeline.
func New(
	normalizer *phonetic.Normalizer,
	adjuster *adaptive.Adjuster,
	learner Learner,
	source CardSource,
	opts ...Option,
) *Pipeline {
	cache, _ := lru.New[string, []catalog.CardRecord](cacheSize)
	p := &Pipeline{
		normalizer:      normalizer,
		adjuster:        adjuster,
		learner:         learner,
		source:          source,
		log:             slog.Default(),
		maxAlternatives: DefaultMaxAlternatives,
		rawFloor:        DefaultRawFloor,
		maxResults:      DefaultMaxResults,
		fetchTimeout:    DefaultFetchTimeout,
		extractRarity:   true,
		extractArt:      true,
		cache:           cache,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Retune applies tuning options to a live pipeline. In-flight
// recognitions finish with the settings they started with.
func (p *Pipeline) Retune(opts ...Option) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, o := range opts {
		o(p)
	}
}

// SetCurrentSet switches the active set and warms the cards cache.
// Switching invalidates the previous set's cards for recognition
// purposes; they stay in the LRU for a fast switch back.
func (p *Pipeline) SetCurrentSet(ctx context.Context, setCode string) error {
	p.mu.Lock()
	p.currentSet = strings.ToUpper(strings.TrimSpace(setCode))
	p.mu.Unlock()

	_, err := p.cards(ctx)
	return err
}

// CurrentSet returns the active set code, empty when none is loaded.
func (p *Pipeline) CurrentSet() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentSet
}

// Cards returns the active set's card list, fetching it when the cache
// misses. The training flow searches over this list.
func (p *Pipeline) Cards(ctx context.Context) ([]catalog.CardRecord, error) {
	return p.cards(ctx)
}

// cards returns the active set's card list. The per-set LRU is
// consulted first; a miss fetches from the source under the configured
// deadline and fills the cache.
func (p *Pipeline) cards(ctx context.Context) ([]catalog.CardRecord, error) {
	p.mu.Lock()
	set := p.currentSet
	timeout := p.fetchTimeout
	p.mu.Unlock()
	if set == "" {
		return nil, fault.New(fault.KindNoCardsLoaded, "no current set selected")
	}

	if cached, ok := p.cache.Get(set); ok {
		return cached, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cards, err := p.source.ListCardsForSet(fetchCtx, set)
	if err != nil {
		if errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			err = fault.Wrap(fault.KindTimeout, "fetch set cards", err)
		}
		p.log.Warn("set cards fetch failed", "set", set, "err", err)
		return nil, err
	}
	if len(cards) == 0 {
		return nil, fault.Newf(fault.KindNoCardsLoaded, "set %s has no cards", set)
	}
	p.cache.Add(set, cards)
	return cards, nil
}

// Recognize transforms one utterance into ranked candidates. An empty
// transcript returns an empty result without error. The pipeline is
// idempotent under repeated calls for the same final transcript.
func (p *Pipeline) Recognize(ctx context.Context, utt Utterance, rctx Context) (*Result, error) {
	raw := strings.TrimSpace(utt.RawTranscript)
	if raw == "" && len(utt.Alternatives) == 0 {
		return &Result{Alternatives: []Candidate{}}, nil
	}

	p.mu.Lock()
	maxAlternatives := p.maxAlternatives
	rawFloor := p.rawFloor
	maxResults := p.maxResults
	extractRarity := p.extractRarity
	extractArt := p.extractArt
	p.mu.Unlock()

	// Spoken qualifiers are stripped once from the primary transcript.
	parts := cardname.SplitSpoken(raw, extractRarity, extractArt)
	result := &Result{
		OriginalTranscript: raw,
		Rarity:             parts.Rarity,
		ArtVariant:         parts.ArtVariant,
		Alternatives:       []Candidate{},
	}
	if parts.Name == "" {
		return result, nil
	}

	cards, err := p.cards(ctx)
	if err != nil {
		return nil, err
	}
	index := buildIndex(p.normalizer, cards)

	// 1. Bound and floor the alternatives.
	alts := make([]Alternative, 0, maxAlternatives)
	alts = append(alts, Alternative{Transcript: parts.Name, Confidence: 1.0})
	for _, a := range utt.Alternatives {
		if len(alts) >= maxAlternatives {
			break
		}
		if a.Confidence < rawFloor {
			continue
		}
		ap := cardname.SplitSpoken(a.Transcript, extractRarity, extractArt)
		if ap.Name == "" || ap.Name == parts.Name {
			continue
		}
		alts = append(alts, Alternative{Transcript: ap.Name, Confidence: a.Confidence})
	}

	// 2–3. Normalize each alternative and merge scored candidates by
	// base name, keeping the maximum score.
	merged := map[string]*scoredEntry{}

	for _, alt := range alts {
		normalized := p.normalizer.Normalize(alt.Transcript)
		if normalized == "" {
			continue
		}
		phoneticApplied := normalized != strings.ToLower(strings.TrimSpace(alt.Transcript))

		// Exact variant lookups first.
		for _, v := range p.normalizer.GenerateVariants(alt.Transcript) {
			if rec, ok := index.byNormalized[v]; ok {
				score := (1 + fuzzy.DefaultExactMatchBonus) * alt.Confidence
				upsert(merged, rec, score, phoneticApplied)
			}
		}

		// Fuzzy pass over the whole set.
		match := fuzzy.FindBestMatch(normalized, index.normalizedNames, fuzzyMinScore)
		for _, sc := range match.All {
			rec := index.byNormalized[sc.Target]
			upsert(merged, rec, sc.Score*alt.Confidence, phoneticApplied)
		}
	}

	if len(merged) == 0 {
		return result, nil
	}

	// 4. Personal boosts from the learning store.
	normalizedInput := p.normalizer.Normalize(parts.Name)
	baseNames := make([]string, 0, len(merged))
	for _, s := range merged {
		baseNames = append(baseNames, s.card.BaseName)
	}
	boosts := p.learner.Lookup(normalizedInput, baseNames)

	// 5. Threshold each candidate.
	sctx := adaptive.Input{
		CurrentSet:    p.CurrentSet(),
		SessionLength: rctx.SessionLength,
		CardType:      rctx.CardType,
	}
	candidates := make([]Candidate, 0, len(merged))
	for _, s := range merged {
		boost := boosts[s.card.BaseName]
		nameScore := clamp01(s.score)
		if parts.Rarity != "" {
			nameScore = rarityWeighted(nameScore, parts.Rarity, s.card.Rarity)
		}
		conf := clamp01(nameScore + boost.Score())
		threshold := p.adjuster.Compute(s.card.BaseName, sctx)
		candidates = append(candidates, Candidate{
			Card:              s.card,
			Confidence:        conf,
			AdaptiveThreshold: threshold,
			AboveThreshold:    conf >= threshold,
			PhoneticApplied:   s.phonetic,
			LearningApplied:   boost != (learning.PersonalBoost{}),
			PersonalizedScore: boost.Score(),
		})
	}

	// 6. Rank: confidence, then exact-token overlap, then edit distance.
	inputTokens := tokenSet(normalizedInput)
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		oi := tokenOverlap(inputTokens, p.normalizer.Normalize(candidates[i].Card.BaseName))
		oj := tokenOverlap(inputTokens, p.normalizer.Normalize(candidates[j].Card.BaseName))
		if oi != oj {
			return oi > oj
		}
		di := fuzzy.Levenshtein(normalizedInput, p.normalizer.Normalize(candidates[i].Card.BaseName))
		dj := fuzzy.Levenshtein(normalizedInput, p.normalizer.Normalize(candidates[j].Card.BaseName))
		return di < dj
	})

	if len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}
	// AboveThreshold is fixed before the tie nudge: the nudge changes
	// only the reported confidence, never the threshold outcome.
	uniqueConfidences(candidates)

	// 7. Emit.
	best := candidates[0]
	result.Best = &best
	result.Alternatives = candidates
	result.WasAboveThreshold = best.AboveThreshold
	result.PhoneticApplied = best.PhoneticApplied
	result.LearningApplied = best.LearningApplied
	result.AdaptiveThreshold = best.AdaptiveThreshold

	p.log.Debug("recognized utterance",
		"transcript", raw,
		"best", best.Card.BaseName,
		"confidence", best.Confidence,
		"threshold", best.AdaptiveThreshold,
		"above", best.AboveThreshold,
	)
	return result, nil
}

// index maps normalized base names onto card records for one set.
type setIndex struct {
	normalizedNames []string
	byNormalized    map[string]catalog.CardRecord
}

func buildIndex(n *phonetic.Normalizer, cards []catalog.CardRecord) setIndex {
	idx := setIndex{byNormalized: make(map[string]catalog.CardRecord, len(cards))}
	for _, c := range cards {
		key := n.Normalize(c.BaseName)
		if key == "" {
			continue
		}
		if _, seen := idx.byNormalized[key]; !seen {
			idx.byNormalized[key] = c
			idx.normalizedNames = append(idx.normalizedNames, key)
		}
	}
	sort.Strings(idx.normalizedNames)
	return idx
}

type scoredEntry struct {
	card     catalog.CardRecord
	score    float64
	phonetic bool
}

func upsert(merged map[string]*scoredEntry, rec catalog.CardRecord, score float64, phonetic bool) {
	e, ok := merged[rec.BaseName]
	if !ok {
		merged[rec.BaseName] = &scoredEntry{card: rec, score: score, phonetic: phonetic}
		return
	}
	if score > e.score {
		e.score = score
		e.phonetic = phonetic
	}
}

// uniqueConfidences nudges equal confidences apart by small decrements
// so numbered selection downstream is unambiguous. The nudge is
// presentational: each candidate's AboveThreshold keeps the pre-nudge
// comparison, so a tied confidence may sit fractionally below the
// threshold it passed.
func uniqueConfidences(cs []Candidate) {
	seen := map[float64]struct{}{}
	for i := range cs {
		c := cs[i].Confidence
		for {
			if _, dup := seen[c]; !dup {
				break
			}
			c -= tieStep
			if c < 0 {
				c = 0
				break
			}
		}
		cs[i].Confidence = c
		seen[c] = struct{}{}
	}
}

func tokenSet(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, t := range strings.Fields(strings.ReplaceAll(s, "-", " ")) {
		out[t] = struct{}{}
	}
	return out
}

func tokenOverlap(input map[string]struct{}, target string) int {
	n := 0
	for _, t := range strings.Fields(strings.ReplaceAll(target, "-", " ")) {
		if _, ok := input[t]; ok {
			n++
		}
	}
	return n
}

// rarityWeighted folds a spoken rarity into the name score. A weak name
// score halves the combined result so a lucky rarity match cannot carry
// a bad name hit.
func rarityWeighted(nameScore float64, spoken, cardRarity string) float64 {
	match := cardRarity != "" &&
		cardname.CanonicalRarity(cardRarity) == cardname.CanonicalRarity(spoken)

	var rarityScore float64
	if match {
		rarityScore = 1
	}
	combined := rarityNameWeight*nameScore + rarityWeight*rarityScore
	if nameScore < rarityPenaltyFloor {
		combined /= 2
	}
	limit := rarityMissCap
	if match {
		limit = rarityMatchCap
	}
	if combined > limit {
		combined = limit
	}
	return combined
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
