// Package adaptive computes the per-utterance confidence threshold. The
// threshold starts from a fixed base and moves with name complexity, the
// user's recent accuracy, archetype familiarity, set context, and session
// fatigue, clamped to a fixed band. Given identical inputs and store
// state the result is always the same; the clock is injected so tests can
// pin the time-of-day factor.
package adaptive

import (
	"strings"
	"time"
)

// Threshold band.
const (
	BaseThreshold = 0.5
	MinThreshold  = 0.3
	MaxThreshold  = 0.9
)

// Factor magnitudes.
const (
	highComplexityDelta   = -0.12
	mediumComplexityDelta = -0.08
	commonTypeDelta       = -0.03
	unknownNameDelta      = 0.06

	goodAccuracyDelta = -0.1
	poorAccuracyDelta = 0.1

	popularArchetypeDelta = -0.05
	obscureArchetypeDelta = 0.08

	popularSetDelta = -0.03
	goodSetDelta    = -0.05
	poorSetDelta    = 0.05

	longSessionDelta = 0.02
	offHoursDelta    = 0.03
	recentErrorDelta = 0.05

	// minHistoryForAccuracy gates the accuracy factor until enough
	// interactions exist.
	minHistoryForAccuracy = 5
)

// highComplexityTokens flag names that users consistently struggle to
// pronounce: long romanized-Japanese forms.
var highComplexityTokens = []string{
	"mitama", "mitsurugi", "futsu", "susanoo", "tsukuyomi", "amaterasu",
	"izanagi", "izanami", "yamata", "orochi", "onmyo", "shiranui",
	"mayakashi", "yosenju", "gishki",
}

// mediumComplexityTokens flag mechanic vocabulary that trips up casual
// speakers less severely.
var mediumComplexityTokens = []string{
	"spellcaster", "synchro", "xyz", "pendulum", "fusion", "ritual",
	"tuner", "gemini", "flip",
}

// commonTypeTokens are everyday English monster-type words.
var commonTypeTokens = []string{
	"dragon", "warrior", "magician", "beast", "machine", "zombie",
	"fiend", "knight", "hero", "eyes", "dark", "blue", "red",
}

// StoreReader is the read-only learning-store surface the adjuster needs.
type StoreReader interface {
	HistoryLen() int
	RecentAccuracy() float64
	CardTypeAccuracy(cardType string) (float64, bool)
	SetAccuracy(setCode string) (float64, bool)
	RecentErrors() int
}

// Vocabulary supplies the closed archetype/set lists and the Japanese
// detector. The phonetic normalizer satisfies this.
type Vocabulary interface {
	ContainsJapanese(text string) bool
	PopularArchetypes() []string
	ObscureArchetypes() []string
	IsPopularSet(setCode string) bool
}

// Input is the per-utterance context for one threshold computation.
type Input struct {
	// CurrentSet is the active set code, empty when no set is loaded.
	CurrentSet string

	// SessionLength is how long the current entry session has run.
	SessionLength time.Duration

	// CardType is the candidate's card type, when known.
	CardType string
}

// Adjuster computes adaptive thresholds. Read-only after construction.
type Adjuster struct {
	store StoreReader
	vocab Vocabulary
	clock func() time.Time
}

// Option configures an [Adjuster].
type Option func(*Adjuster)

// WithClock injects the time source. Default: time.Now.
func WithClock(clock func() time.Time) Option {
	return func(a *Adjuster) { a.clock = clock }
}

// New returns an Adjuster reading accuracy state from store and
// vocabulary lists from vocab.
func New(store StoreReader, vocab Vocabulary, opts ...Option) *Adjuster {
	a := &Adjuster{store: store, vocab: vocab, clock: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Compute returns the adaptive threshold for one candidate base name.
// The result is always inside [MinThreshold, MaxThreshold].
func (a *Adjuster) Compute(cardBaseName string, in Input) float64 {
	t := BaseThreshold
	name := strings.ToLower(cardBaseName)

	t += a.complexityDelta(name)
	t += a.accuracyDelta(in.CardType)
	t += a.archetypeDelta(name)
	t += a.setDelta(in.CurrentSet)
	t += a.sessionDelta(in)

	if t < MinThreshold {
		return MinThreshold
	}
	if t > MaxThreshold {
		return MaxThreshold
	}
	return t
}

func (a *Adjuster) complexityDelta(name string) float64 {
	if a.vocab.ContainsJapanese(name) || containsAny(name, highComplexityTokens) {
		return highComplexityDelta
	}
	if containsAny(name, mediumComplexityTokens) {
		return mediumComplexityDelta
	}
	if containsAny(name, commonTypeTokens) {
		return commonTypeDelta
	}
	return unknownNameDelta
}

func (a *Adjuster) accuracyDelta(cardType string) float64 {
	if a.store.HistoryLen() < minHistoryForAccuracy {
		return 0
	}
	overall := a.store.RecentAccuracy()
	combined := overall
	if cardType != "" {
		if byType, ok := a.store.CardTypeAccuracy(cardType); ok {
			combined = 0.7*overall + 0.3*byType
		}
	}
	switch {
	case combined > 0.8:
		return goodAccuracyDelta
	case combined < 0.6:
		return poorAccuracyDelta
	}
	return 0
}

func (a *Adjuster) archetypeDelta(name string) float64 {
	for _, arch := range a.vocab.PopularArchetypes() {
		if strings.Contains(name, strings.ToLower(arch)) {
			return popularArchetypeDelta
		}
	}
	for _, arch := range a.vocab.ObscureArchetypes() {
		if strings.Contains(name, strings.ToLower(arch)) {
			return obscureArchetypeDelta
		}
	}
	return 0
}

func (a *Adjuster) setDelta(setCode string) float64 {
	if setCode == "" {
		return 0
	}
	d := 0.0
	if a.vocab.IsPopularSet(setCode) {
		d += popularSetDelta
	}
	if acc, ok := a.store.SetAccuracy(setCode); ok {
		switch {
		case acc > 0.8:
			d += goodSetDelta
		case acc < 0.6:
			d += poorSetDelta
		}
	}
	return d
}

func (a *Adjuster) sessionDelta(in Input) float64 {
	d := 0.0
	if in.SessionLength > 30*time.Minute {
		d += longSessionDelta
	}
	if hour := a.clock().Hour(); hour < 9 || hour > 22 {
		d += offHoursDelta
	}
	if a.store.RecentErrors() > 3 {
		d += recentErrorDelta
	}
	return d
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
