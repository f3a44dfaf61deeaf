package learning

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/voxrip/voxrip/internal/kvstore"
)

// VariantProvider expands a string into alternative surface forms. The
// phonetic normalizer satisfies this; the default provider only re-spaces.
type VariantProvider interface {
	GenerateVariants(text string) []string
}

// Canonicalizer reduces a voice input to its canonical form. Recording
// and lookup both pass through it, so a raw trained transcript and the
// normalized form the pipeline looks up land on the same pattern key.
// The phonetic normalizer satisfies this.
type Canonicalizer interface {
	Normalize(text string) string
}

// variantFunc adapts a plain function to [VariantProvider].
type variantFunc func(string) []string

func (f variantFunc) GenerateVariants(text string) []string { return f(text) }

// defaultVariants is the fallback provider: the lowercased input plus its
// space-removed and hyphen-normalized spellings.
func defaultVariants(text string) []string {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return nil
	}
	out := []string{s}
	seen := map[string]struct{}{s: {}}
	for _, v := range []string{
		strings.ReplaceAll(s, " ", ""),
		strings.ReplaceAll(s, " ", "-"),
		strings.ReplaceAll(s, "-", " "),
	} {
		if _, dup := seen[v]; !dup && v != "" {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// maxRuleVariants bounds the variant cross product strengthened per
// success so one recording touches at most 64 rules.
const maxRuleVariants = 8

// Option configures a [Store].
type Option func(*Store)

// WithClock injects the time source. Default: time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithPatternCapacity bounds the pattern map. Default 1000.
func WithPatternCapacity(n int) Option {
	return func(s *Store) { s.patternCapacity = n }
}

// WithLearningRate sets the additive rule-strength increment. Default 0.1.
func WithLearningRate(r float64) Option {
	return func(s *Store) { s.learningRate = r }
}

// WithForgettingRate sets the daily rule decay factor. Default 0.01.
func WithForgettingRate(r float64) Option {
	return func(s *Store) { s.forgettingRate = r }
}

// WithRetention sets the pattern retention horizon. Default 30 days.
func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// WithVariantProvider injects the variant expander used when deriving
// pronunciation rules. The phonetic normalizer is the intended provider.
func WithVariantProvider(p VariantProvider) Option {
	return func(s *Store) { s.variants = p }
}

// WithNormalizer injects the canonicalizer applied to voice inputs at
// the store boundary. Without it inputs are only lowercased and trimmed,
// and a trained raw transcript never meets its normalized lookup form.
func WithNormalizer(c Canonicalizer) Option {
	return func(s *Store) { s.canon = c }
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// Store is the learning store. All exported methods are safe for
// concurrent use; the mutex also provides the single-writer ordering the
// persistence layer relies on.
type Store struct {
	mu sync.Mutex

	kv       kvstore.Store
	variants VariantProvider
	canon    Canonicalizer
	clock    func() time.Time
	log      *slog.Logger

	patternCapacity int
	historyCapacity int
	setAccuracyLen  int
	learningRate    float64
	forgettingRate  float64
	retention       time.Duration

	learningEnabled bool

	patterns       map[string]*Pattern
	rules          map[string]*Rule
	rejections     map[string]*Rejection
	archetypePrefs map[string]*ArchetypePref
	setAccuracy    map[string][]int
	history        []InteractionRecord

	// Derived caches, rebuilt by updateAccuracyCaches.
	recentAccuracy   float64
	cardTypeAccuracy map[string]float64
	recentErrors     int

	stats         Stats
	lastForgetDay string

	// Persist coalescing state, guarded by mu.
	persisting     bool
	persistPending bool
}

// New constructs a Store persisting through kv.
func New(kv kvstore.Store, opts ...Option) *Store {
	s := &Store{
		kv:              kv,
		variants:        variantFunc(defaultVariants),
		clock:           time.Now,
		log:             slog.Default(),
		patternCapacity: DefaultPatternCapacity,
		historyCapacity: DefaultHistoryCapacity,
		setAccuracyLen:  DefaultSetAccuracyDepth,
		learningRate:    DefaultLearningRate,
		forgettingRate:  DefaultForgettingRate,
		retention:       DefaultRetention,
		learningEnabled: true,
	}
	s.resetStateLocked()
	for _, o := range opts {
		o(s)
	}
	return s
}

// resetStateLocked reinitializes all in-memory state. Callers hold mu
// (or are the constructor).
func (s *Store) resetStateLocked() {
	s.patterns = make(map[string]*Pattern)
	s.rules = make(map[string]*Rule)
	s.rejections = make(map[string]*Rejection)
	s.archetypePrefs = make(map[string]*ArchetypePref)
	s.setAccuracy = make(map[string][]int)
	s.history = nil
	s.recentAccuracy = 0
	s.cardTypeAccuracy = make(map[string]float64)
	s.recentErrors = 0
	s.stats = Stats{LearningEnabled: s.learningEnabled}
}

// SetLearningEnabled toggles learning. When disabled, record operations
// are no-ops and Lookup returns no boosts.
func (s *Store) SetLearningEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.learningEnabled = enabled
	s.stats.LearningEnabled = enabled
}

// Lookup computes the personal boost for every candidate base name given
// a normalized voice input. Boost components are individually capped; the
// combined score may be negative when corrections dominate.
func (s *Store) Lookup(normalizedInput string, candidateBaseNames []string) map[string]PersonalBoost {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]PersonalBoost, len(candidateBaseNames))
	if !s.learningEnabled {
		return out
	}

	input := s.canonicalInput(normalizedInput)
	inputVariants := s.variants.GenerateVariants(input)
	if len(inputVariants) > maxRuleVariants {
		inputVariants = inputVariants[:maxRuleVariants]
	}

	applied := false
	for _, base := range candidateBaseNames {
		boost := PersonalBoost{}
		target := strings.ToLower(strings.TrimSpace(base))

		// Pronunciation: direct pattern hit first, derived rules second.
		if p, ok := s.patterns[PatternKey(input, target)]; ok {
			boost.PronunciationBoost = capAt(
				(0.04+0.04*float64(p.Reinforcements-1))*p.SuccessRate,
				MaxPronunciationBoost,
			)
		} else {
			best := 0.0
			for _, v := range inputVariants {
				for _, tv := range s.targetVariantsLocked(target) {
					if r, ok := s.rules[ruleKey(v, tv)]; ok && r.Strength > best {
						best = r.Strength
					}
				}
			}
			boost.PronunciationBoost = capAt(0.1*best, MaxPronunciationBoost)
		}

		// Preference: how often this base name has been confirmed.
		confirms := 0
		for _, p := range s.patterns {
			if p.TargetBaseName == target {
				confirms += p.Successes
			}
		}
		boost.PreferenceBoost = capAt(0.005*float64(confirms), MaxPreferenceBoost)

		// Archetype familiarity.
		if arch, strength := s.archetypeForLocked(target); arch != "" {
			boost.ArchetypeBoost = capAt(0.05*strength, MaxArchetypeBoost)
		}

		// Correction penalty from recorded rejections.
		if r, ok := s.rejections[PatternKey(input, target)]; ok {
			boost.CorrectionPenalty = capAt(r.Strength/2, MaxCorrectionPenalty)
		}

		if boost != (PersonalBoost{}) {
			applied = true
		}
		out[base] = boost
	}
	if applied {
		s.stats.AdaptationsApplied++
	}
	return out
}

// canonicalInput reduces a voice input to its pattern-key form. Every
// path that keys patterns or rejections by voice input goes through
// here.
func (s *Store) canonicalInput(text string) string {
	if s.canon != nil {
		if c := strings.TrimSpace(s.canon.Normalize(text)); c != "" {
			return c
		}
	}
	return strings.ToLower(strings.TrimSpace(text))
}

// targetVariantsLocked expands a target base name, bounded like the
// input side.
func (s *Store) targetVariantsLocked(target string) []string {
	vs := s.variants.GenerateVariants(target)
	if len(vs) > maxRuleVariants {
		vs = vs[:maxRuleVariants]
	}
	return vs
}

// archetypeForLocked finds the strongest archetype preference whose name
// occurs in the base name.
func (s *Store) archetypeForLocked(target string) (string, float64) {
	bestName, bestStrength := "", 0.0
	for name, pref := range s.archetypePrefs {
		if strings.Contains(target, name) && pref.Strength > bestStrength {
			bestName, bestStrength = name, pref.Strength
		}
	}
	return bestName, bestStrength
}

// RecordSuccess creates or reinforces the pattern binding voiceInput to
// targetBaseName, strengthens the derived pronunciation rules between
// their variant sets, and updates archetype preferences for any matching
// context tag.
func (s *Store) RecordSuccess(voiceInput, targetBaseName string, confidence float64, ctx Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.learningEnabled {
		return
	}

	now := s.clock()
	input := s.canonicalInput(voiceInput)
	target := strings.TrimSpace(targetBaseName)
	if input == "" || target == "" {
		return
	}
	targetLower := strings.ToLower(target)

	key := PatternKey(input, targetLower)
	p, ok := s.patterns[key]
	if !ok {
		p = &Pattern{
			Key:            key,
			VoiceInput:     input,
			TargetBaseName: targetLower,
			CreatedAt:      now,
		}
		s.patterns[key] = p
		s.stats.PatternsLearned++
	}
	p.Reinforcements++
	p.Successes++
	p.SuccessRate = float64(p.Successes) / float64(p.Successes+p.Rejections)
	if confidence > p.Confidence {
		p.Confidence = clamp01(confidence)
	}
	p.LastSeenAt = now
	p.Context = ctx

	// Strengthen derived rewrite rules between the variant sets.
	inputVariants := s.variants.GenerateVariants(input)
	if len(inputVariants) > maxRuleVariants {
		inputVariants = inputVariants[:maxRuleVariants]
	}
	for _, v := range inputVariants {
		for _, tv := range s.targetVariantsLocked(targetLower) {
			k := ruleKey(v, tv)
			r, ok := s.rules[k]
			if !ok {
				r = &Rule{From: v, To: tv}
				s.rules[k] = r
			}
			r.Strength = capAt(r.Strength+s.learningRate, 1.0)
			r.Occurrences++
			r.LastUsedAt = now
		}
	}

	// Archetype preference from context tags.
	for _, tag := range ctx.ArchetypeTags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || !strings.Contains(targetLower, tag) {
			continue
		}
		pref, ok := s.archetypePrefs[tag]
		if !ok {
			pref = &ArchetypePref{}
			s.archetypePrefs[tag] = pref
		}
		pref.Strength = capAt(pref.Strength+s.learningRate, 1.0)
		pref.Observations++
	}

	s.evictPatternsLocked()
}

// RecordRejection strengthens (or creates) the negative pattern for
// voiceInput → rejectedBaseName. When the correct base name is known, the
// correction is folded back in as a full-confidence success. A rejection
// never deletes a positive pattern; it only degrades its success rate.
func (s *Store) RecordRejection(voiceInput, rejectedBaseName, correctBaseName string, confidence float64) {
	s.mu.Lock()
	if !s.learningEnabled {
		s.mu.Unlock()
		return
	}

	now := s.clock()
	input := s.canonicalInput(voiceInput)
	rejected := strings.ToLower(strings.TrimSpace(rejectedBaseName))
	key := PatternKey(input, rejected)

	r, ok := s.rejections[key]
	if !ok {
		r = &Rejection{
			VoiceInput:       input,
			RejectedBaseName: rejected,
		}
		s.rejections[key] = r
	}
	r.Strength += rejectionStep
	r.Occurrences++
	r.LastSeenAt = now
	if correctBaseName != "" {
		r.CorrectBaseName = strings.ToLower(strings.TrimSpace(correctBaseName))
	}

	if p, ok := s.patterns[key]; ok {
		p.Rejections++
		p.SuccessRate = float64(p.Successes) / float64(p.Successes+p.Rejections)
	}
	s.mu.Unlock()

	if correctBaseName != "" {
		s.RecordSuccess(voiceInput, correctBaseName, 1.0, Context{Corrected: true})
	}
}

// Forget runs the daily decay sweep: rule strengths are multiplied by
// (1 − forgettingRate), rules below the strength floor are evicted, and
// stale low-success patterns are dropped. Idempotent within one day.
func (s *Store) Forget() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	day := now.Format("2006-01-02")
	if s.lastForgetDay == day {
		return
	}
	s.lastForgetDay = day

	for k, r := range s.rules {
		r.Strength *= 1 - s.forgettingRate
		if r.Strength < minRuleStrength {
			delete(s.rules, k)
		}
	}

	horizon := now.Add(-s.retention)
	for k, p := range s.patterns {
		if p.LastSeenAt.Before(horizon) && p.SuccessRate < 0.5 {
			delete(s.patterns, k)
		}
	}
	s.log.Debug("forget sweep complete",
		"rules", len(s.rules),
		"patterns", len(s.patterns),
	)
}

// evictPatternsLocked enforces the pattern capacity by dropping the
// weakest entries (lowest success rate, then oldest last-seen).
func (s *Store) evictPatternsLocked() {
	excess := len(s.patterns) - s.patternCapacity
	if excess <= 0 {
		return
	}
	all := make([]*Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].SuccessRate != all[j].SuccessRate {
			return all[i].SuccessRate < all[j].SuccessRate
		}
		return all[i].LastSeenAt.Before(all[j].LastSeenAt)
	})
	for _, p := range all[:excess] {
		delete(s.patterns, p.Key)
	}
}

// GetStats returns a snapshot of store counters.
func (s *Store) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Patterns = len(s.patterns)
	st.Rules = len(s.rules)
	st.Rejections = len(s.rejections)
	st.HistoryLen = len(s.history)
	st.LearningEnabled = s.learningEnabled
	return st
}

func capAt(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < 0 {
		return 0
	}
	return v
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
