// Package learning implements the durable memory of what a user tends to
// say and which card they mean. It owns the pattern map, rejection map,
// derived pronunciation rules, archetype preferences, per-set rolling
// accuracy, and the interaction history ring buffer; every other
// component reads it only through its API and only the store itself
// writes its persisted blobs.
package learning

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// Persisted blob keys. The learning store is the single writer of both.
const (
	PatternsKey = "voiceLearningPatterns"
	HistoryKey  = "voiceConfidenceHistory"
)

// StateVersion is the version string of the persisted pattern document.
// Readers accept unknown top-level keys but reject unknown versions.
const StateVersion = "1.0"

// Tunable defaults.
const (
	DefaultPatternCapacity  = 1000
	DefaultHistoryCapacity  = 50
	DefaultSetAccuracyDepth = 20
	DefaultLearningRate     = 0.1
	DefaultForgettingRate   = 0.01
	DefaultRetention        = 30 * 24 * time.Hour

	// minRuleStrength is the eviction floor for derived rules.
	minRuleStrength = 0.01

	// rejectionStep is added to a rejection's strength per occurrence.
	rejectionStep = 0.2
)

// Boost caps applied by [Store.Lookup].
const (
	MaxPronunciationBoost = 0.2
	MaxPreferenceBoost    = 0.03
	MaxArchetypeBoost     = 0.05
	MaxCorrectionPenalty  = 0.1
)

// Context carries the situational detail recorded with an interaction.
type Context struct {
	SetCode       string   `json:"setCode,omitempty"`
	CardType      string   `json:"cardType,omitempty"`
	ArchetypeTags []string `json:"archetypeTags,omitempty"`
	TrainingMode  bool     `json:"trainingMode,omitempty"`
	Corrected     bool     `json:"corrected,omitempty"`
}

// Pattern is a learned association between a normalized voice input and a
// card base name.
type Pattern struct {
	Key            string    `json:"key"`
	VoiceInput     string    `json:"voiceInput"`
	TargetBaseName string    `json:"targetBaseName"`
	Reinforcements int       `json:"reinforcements"`
	Successes      int       `json:"successes"`
	Rejections     int       `json:"rejections"`
	SuccessRate    float64   `json:"successRate"`
	Confidence     float64   `json:"confidence"`
	CreatedAt      time.Time `json:"createdAt"`
	LastSeenAt     time.Time `json:"lastSeenAt"`
	Context        Context   `json:"context"`
}

// valid reports whether a loaded pattern record passes schema checks.
// Invalid records are skipped (and counted) during load.
func (p *Pattern) valid() bool {
	return p.VoiceInput != "" &&
		p.TargetBaseName != "" &&
		p.Reinforcements >= 1 &&
		p.SuccessRate >= 0 && p.SuccessRate <= 1 &&
		p.Confidence >= 0 && p.Confidence <= 1
}

// Rejection is a negative pattern: the user said voiceInput and rejected
// rejectedBaseName. It suppresses future candidates without ever deleting
// a positive pattern.
type Rejection struct {
	VoiceInput       string    `json:"voiceInput"`
	RejectedBaseName string    `json:"rejectedBaseName"`
	CorrectBaseName  string    `json:"correctBaseName,omitempty"`
	Strength         float64   `json:"strength"`
	Occurrences      int       `json:"occurrences"`
	LastSeenAt       time.Time `json:"lastSeenAt"`
}

// Rule is a derived pronunciation rewrite with an adaptive strength.
type Rule struct {
	From        string    `json:"from"`
	To          string    `json:"to"`
	Strength    float64   `json:"strength"`
	Occurrences int       `json:"occurrences"`
	LastUsedAt  time.Time `json:"lastUsedAt"`
}

// ArchetypePref tracks how often the user confirms cards of an archetype.
type ArchetypePref struct {
	Strength     float64 `json:"strength"`
	Observations int     `json:"observations"`
}

// InteractionRecord is one entry of the history ring buffer.
type InteractionRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	VoiceInput   string    `json:"voiceInput"`
	CardBaseName string    `json:"cardBaseName"`
	Confidence   float64   `json:"confidence"`
	WasCorrect   bool      `json:"wasCorrect"`
	Context      Context   `json:"context"`
}

// PersonalBoost is the signed adjustment [Store.Lookup] computes for one
// candidate base name.
type PersonalBoost struct {
	PronunciationBoost float64 `json:"pronunciationBoost"`
	PreferenceBoost    float64 `json:"preferenceBoost"`
	ArchetypeBoost     float64 `json:"archetypeBoost"`
	CorrectionPenalty  float64 `json:"correctionPenalty"`
}

// Score combines the components into the signed personalized score added
// to a candidate's confidence.
func (b PersonalBoost) Score() float64 {
	return b.PronunciationBoost + b.PreferenceBoost + b.ArchetypeBoost - b.CorrectionPenalty
}

// Stats summarizes store activity for the stats surface.
type Stats struct {
	PatternsLearned    int  `json:"patternsLearned"`
	AdaptationsApplied int  `json:"adaptationsApplied"`
	Patterns           int  `json:"patterns"`
	Rules              int  `json:"rules"`
	Rejections         int  `json:"rejections"`
	HistoryLen         int  `json:"historyLen"`
	SkippedOnLastLoad  int  `json:"skippedOnLastLoad"`
	CoalescedPersists  int  `json:"coalescedPersists"`
	LearningEnabled    bool `json:"learningEnabled"`
}

// PatternKey derives the stable map key for a (voiceInput, target) pair.
func PatternKey(voiceInput, targetBaseName string) string {
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(voiceInput))))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(targetBaseName))))
	return fmt.Sprintf("%016x", h.Sum64())
}

// ruleKey derives the map key for a from→to rewrite.
func ruleKey(from, to string) string {
	return from + "→" + to
}
