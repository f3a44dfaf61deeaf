// Package fault defines the error model shared by every public operation
// of the voxrip core. Recognition and learning paths never panic out of
// the core: internal helpers may return plain errors, but component
// boundaries wrap them into a typed [*Error] carrying a stable [Kind] and
// a retryability flag so callers can branch without string matching.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the stable categories understood
// by the recognition pipeline, the training controller, and the HTTP
// surface.
type Kind string

const (
	// KindPermissionDenied means the microphone is unavailable.
	// Non-retryable without user action.
	KindPermissionDenied Kind = "PermissionDenied"

	// KindNotSupported means the environment lacks a secure context or
	// speech capability. Non-retryable; the shell must offer manual entry.
	KindNotSupported Kind = "NotSupported"

	// KindNoSpeech means the utterance was empty. Retryable.
	KindNoSpeech Kind = "NoSpeech"

	// KindNetwork covers transport-level failures. Retryable with backoff.
	KindNetwork Kind = "Network"

	// KindTimeout means an operation exceeded its deadline. Retryable.
	KindTimeout Kind = "Timeout"

	// KindServiceUnavailable means a collaborator answered but is
	// temporarily unable to serve. Retryable with backoff.
	KindServiceUnavailable Kind = "ServiceUnavailable"

	// KindNotFound means a requested set or card does not exist.
	KindNotFound Kind = "NotFound"

	// KindBadResponse means a collaborator answered with a payload the
	// client could not interpret.
	KindBadResponse Kind = "BadResponse"

	// KindBadFormat means persisted state or an imported pattern document
	// failed validation. Recovered locally by falling back to an empty
	// store; reported to the user.
	KindBadFormat Kind = "BadFormat"

	// KindNoCardsLoaded means the pipeline was invoked with no current
	// set. The training controller must refuse to record in this state.
	KindNoCardsLoaded Kind = "NoCardsLoaded"

	// KindAborted means the user cancelled.
	KindAborted Kind = "Aborted"

	// KindUnknown is the fallback classification.
	KindUnknown Kind = "Unknown"
)

// Error is a classified error. It satisfies the error interface and
// supports errors.Is / errors.As unwrapping.
type Error struct {
	// Kind is the stable category of the failure.
	Kind Kind

	// Retryable reports whether retrying the same operation may succeed
	// without user intervention.
	Retryable bool

	// Message is a human-readable description.
	Message string

	// Context carries optional structured detail (set code, key, ...).
	Context map[string]any

	// Err is the wrapped cause, if any.
	Err error
}

// New constructs an [*Error] with the given kind and message.
// Retryability is derived from the kind via [IsRetryableKind].
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Retryable: IsRetryableKind(kind), Message: message}
}

// Newf is [New] with fmt.Sprintf formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap wraps cause into an [*Error] of the given kind. A nil cause
// returns nil.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{
		Kind:      kind,
		Retryable: IsRetryableKind(kind),
		Message:   message,
		Err:       cause,
	}
}

// WithContext returns e with the key/value pair added to its context map.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any, 1)
	}
	e.Context[key] = value
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so sentinel comparisons like
// errors.Is(err, &Error{Kind: KindTimeout}) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the [Kind] from err. Plain errors map to [KindUnknown];
// context.DeadlineExceeded style causes should be classified by the
// caller before reaching here.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err carries a retryable classification.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsRetryableKind reports the default retryability of a kind.
func IsRetryableKind(k Kind) bool {
	switch k {
	case KindNoSpeech, KindNetwork, KindTimeout, KindServiceUnavailable:
		return true
	}
	return false
}
