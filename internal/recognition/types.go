// Package recognition turns a speech utterance plus alternatives into a
// ranked list of candidate cards with confidences. It chains the
// phonetic normalizer, the fuzzy matcher against the current set's card
// base names, the learning store's personal boosts, and the adaptive
// confidence threshold, in that fixed order: raw confidence floor first,
// boosts second, adaptive threshold third.
package recognition

import (
	"time"

	"github.com/voxrip/voxrip/internal/catalog"
)

// Alternative is one speech-recognition hypothesis.
type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// Utterance is one spoken input delivered by the speech source. It is
// immutable once created and discarded after a result is emitted.
type Utterance struct {
	RawTranscript string        `json:"transcript"`
	Alternatives  []Alternative `json:"alternatives,omitempty"`
	IsFinal       bool          `json:"isFinal"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Candidate is one scored card hypothesis.
type Candidate struct {
	Card              catalog.CardRecord `json:"card"`
	Confidence        float64            `json:"confidence"`
	AdaptiveThreshold float64            `json:"adaptiveThreshold"`
	AboveThreshold    bool               `json:"aboveThreshold"`
	PhoneticApplied   bool               `json:"phoneticApplied"`
	LearningApplied   bool               `json:"learningApplied"`
	PersonalizedScore float64            `json:"personalizedScore"`
}

// Result is the pipeline output for one utterance. When no candidate
// clears its threshold the top candidates are still returned with
// AboveThreshold false so the training flow can escalate.
type Result struct {
	Best               *Candidate  `json:"best,omitempty"`
	Alternatives       []Candidate `json:"alternatives"`
	WasAboveThreshold  bool        `json:"wasAboveThreshold"`
	OriginalTranscript string      `json:"originalTranscript"`
	PhoneticApplied    bool        `json:"phoneticApplied"`
	LearningApplied    bool        `json:"learningApplied"`
	AdaptiveThreshold  float64     `json:"adaptiveThreshold"`

	// Rarity and ArtVariant are the qualifiers spoken with the name,
	// already stripped from the matched text.
	Rarity     string `json:"rarity,omitempty"`
	ArtVariant string `json:"artVariant,omitempty"`
}

// Context carries per-utterance session state into the threshold
// computation.
type Context struct {
	SessionLength time.Duration
	CardType      string
}
