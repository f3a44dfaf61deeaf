// Package speech defines the speech-source contract the recognition
// loop consumes and a websocket transport for it. Speech recognition
// itself runs in the browser; this package receives the transcripts.
package speech

import (
	"context"
	"fmt"

	"github.com/voxrip/voxrip/internal/fault"
)

// State is a phase of the speech source lifecycle.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateListening
	StateStopping
	StateRecovering
	StateError
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	case StateRecovering:
		return "recovering"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Alternative is one recognizer hypothesis.
type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// Final is a committed recognition result.
type Final struct {
	Transcript   string        `json:"transcript"`
	Confidence   float64       `json:"confidence"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
}

// Interim is a provisional transcript that may still change.
type Interim struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// ErrorEvent is a recognizer-side failure report.
type ErrorEvent struct {
	Kind      fault.Kind `json:"kind"`
	Retryable bool       `json:"retryable"`
	Message   string     `json:"message"`
}

// Source is the contract the recognition loop consumes. Start, Stop,
// Pause and Resume are idempotent. The event channels are closed when
// the source stops for good.
type Source interface {
	Start(ctx context.Context) error
	Stop()
	Pause()
	Resume()

	Finals() <-chan Final
	Interims() <-chan Interim
	Errors() <-chan ErrorEvent

	State() State
}

// kindFromWire maps the browser-side error kind strings onto fault
// kinds.
func kindFromWire(kind string) fault.Kind {
	switch kind {
	case "permission-denied", "not-allowed":
		return fault.KindPermissionDenied
	case "not-supported":
		return fault.KindNotSupported
	case "no-speech":
		return fault.KindNoSpeech
	case "network":
		return fault.KindNetwork
	case "audio-capture", "service-blocked", "service-not-allowed":
		return fault.KindServiceUnavailable
	case "aborted":
		return fault.KindAborted
	default:
		return fault.KindUnknown
	}
}
