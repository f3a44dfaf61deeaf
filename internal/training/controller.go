// Package training runs the correction flow: when recognition cannot
// clear its threshold (or the user asks to retrain an emitted result),
// the controller pauses speech, prompts the user to pick the intended
// card and records the association in the learning store.
package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxrip/voxrip/internal/cardname"
	"github.com/voxrip/voxrip/internal/catalog"
	"github.com/voxrip/voxrip/internal/fault"
	"github.com/voxrip/voxrip/internal/learning"
	"github.com/voxrip/voxrip/internal/recognition"
)

// Default controller timings.
const (
	defaultDebounce   = 2 * time.Second
	defaultAutoCancel = 10 * time.Second
)

// ErrDebounced is returned when a prompt is requested too soon after a
// previous one. The caller should drop the request silently.
var ErrDebounced = errors.New("training: prompt debounced")

// ErrBusy is returned when a training flow is already in progress.
var ErrBusy = errors.New("training: session already in progress")

// State is a phase of the training flow.
type State int

const (
	StateIdle State = iota
	StateShowingPrompt
	StateAwaitingSelection
	StateRecording
	StateDone
	StateCancelled
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateShowingPrompt:
		return "showing_prompt"
	case StateAwaitingSelection:
		return "awaiting_selection"
	case StateRecording:
		return "recording"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Selection is the outcome of a user prompt.
type Selection struct {
	// Card is the record the user picked. Nil when Cancelled.
	Card *catalog.CardRecord

	// Cancelled reports that the user dismissed the prompt.
	Cancelled bool
}

// UserSelector presents the prompt and search UX. Prompt must honour
// ctx cancellation; the controller cancels it on auto-dismiss.
type UserSelector interface {
	Prompt(ctx context.Context, voiceInput string, cards []catalog.CardRecord) (Selection, error)
}

// Learner is the learning-store surface the controller writes to.
type Learner interface {
	RecordSuccess(voiceInput, targetBaseName string, confidence float64, ctx learning.Context)
	RecordRejection(voiceInput, rejectedBaseName, correctBaseName string, confidence float64)
	UpdateAccuracyFromInteraction(rec learning.InteractionRecord)
	Persist(ctx context.Context) error
}

// Pauser is the speech-source control surface. Both methods are
// idempotent.
type Pauser interface {
	Pause()
	Resume()
}

// Request describes one training flow.
type Request struct {
	// VoiceInput is the original (unstripped) transcript being trained.
	VoiceInput string

	// Cards is the current set's card list the selector searches over.
	Cards []catalog.CardRecord

	// OriginalBest is the candidate recognition emitted, if any.
	OriginalBest *recognition.Candidate

	// WasAboveThreshold reports whether OriginalBest cleared its
	// threshold when emitted.
	WasAboveThreshold bool

	// SetCode and CardType are carried into the learning context.
	SetCode  string
	CardType string
}

// Outcome reports how a training flow ended.
type Outcome struct {
	Trained   bool
	Cancelled bool

	// BaseName is the extracted base name of the selected card.
	// Empty unless Trained.
	BaseName string

	// Card is the selected record. Nil unless Trained.
	Card *catalog.CardRecord
}

// Config configures a [Controller].
type Config struct {
	// Selector presents the prompt. Required.
	Selector UserSelector

	// Learner receives the recorded association. Required.
	Learner Learner

	// Speech is paused for the duration of the flow. May be nil.
	Speech Pauser

	// Debounce suppresses prompts arriving within this window of a
	// previous prompt. Defaults to 2s if zero.
	Debounce time.Duration

	// AutoCancel dismisses an unanswered prompt. Defaults to 10s if zero.
	AutoCancel time.Duration

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time

	// OnStateChange is invoked on every transition. May be nil.
	OnStateChange func(State)

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Controller drives the training state machine. One flow runs at a
// time; concurrent requests fail with [ErrBusy]. Safe for concurrent
// use.
type Controller struct {
	selector   UserSelector
	learner    Learner
	speech     Pauser
	debounce   time.Duration
	autoCancel time.Duration
	now        func() time.Time
	onChange   func(State)
	log        *slog.Logger

	mu           sync.Mutex
	state        State
	lastPromptAt time.Time
}

// NewController creates a [Controller] with the given configuration.
func NewController(cfg Config) *Controller {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	autoCancel := cfg.AutoCancel
	if autoCancel <= 0 {
		autoCancel = defaultAutoCancel
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		selector:   cfg.Selector,
		learner:    cfg.Learner,
		speech:     cfg.Speech,
		debounce:   debounce,
		autoCancel: autoCancel,
		now:        now,
		onChange:   cfg.OnStateChange,
		log:        log,
		state:      StateIdle,
	}
}

// Retune adjusts the debounce and auto-cancel windows on a live
// controller. Non-positive values leave the current setting alone.
func (c *Controller) Retune(debounce, autoCancel time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if debounce > 0 {
		c.debounce = debounce
	}
	if autoCancel > 0 {
		c.autoCancel = autoCancel
	}
}

// State returns the current flow state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MaybeEscalate starts a training flow when the result did not clear
// its threshold. Results above threshold are ignored without error.
func (c *Controller) MaybeEscalate(ctx context.Context, res *recognition.Result, req Request) (Outcome, error) {
	if res == nil || res.WasAboveThreshold {
		return Outcome{}, nil
	}
	return c.Train(ctx, req)
}

// Train runs one full training flow and blocks until it resolves.
// A prompt arriving within the debounce window of a previous one
// returns [ErrDebounced]; an empty card list is refused with a
// NoCardsLoaded fault.
func (c *Controller) Train(ctx context.Context, req Request) (Outcome, error) {
	if len(req.Cards) == 0 {
		return Outcome{}, fault.New(fault.KindNoCardsLoaded, "training refused: no cards loaded")
	}

	c.mu.Lock()
	if c.state != StateIdle && c.state != StateDone && c.state != StateCancelled {
		c.mu.Unlock()
		return Outcome{}, ErrBusy
	}
	if since := c.now().Sub(c.lastPromptAt); !c.lastPromptAt.IsZero() && since < c.debounce {
		c.mu.Unlock()
		return Outcome{}, ErrDebounced
	}
	c.lastPromptAt = c.now()
	autoCancel := c.autoCancel
	c.setStateLocked(StateShowingPrompt)
	c.mu.Unlock()

	if c.speech != nil {
		c.speech.Pause()
		defer c.speech.Resume()
	}

	sel, err := c.awaitSelection(ctx, req, autoCancel)
	if err != nil || sel.Cancelled {
		c.setState(StateCancelled)
		if err != nil {
			c.log.Warn("training prompt failed", "voice_input", req.VoiceInput, "error", err)
			return Outcome{Cancelled: true}, err
		}
		c.log.Debug("training cancelled by user", "voice_input", req.VoiceInput)
		return Outcome{Cancelled: true}, nil
	}

	c.setState(StateRecording)
	outcome, err := c.record(ctx, req, sel.Card)
	if err != nil {
		c.setState(StateCancelled)
		return Outcome{Cancelled: true}, err
	}
	c.setState(StateDone)
	return outcome, nil
}

// awaitSelection shows the prompt and waits for the user, auto
// cancelling after the configured timeout.
func (c *Controller) awaitSelection(ctx context.Context, req Request, autoCancel time.Duration) (Selection, error) {
	c.setState(StateAwaitingSelection)

	promptCtx, cancel := context.WithTimeout(ctx, autoCancel)
	defer cancel()

	sel, err := c.selector.Prompt(promptCtx, req.VoiceInput, req.Cards)
	if err != nil {
		if errors.Is(promptCtx.Err(), context.DeadlineExceeded) {
			c.log.Info("training prompt auto-dismissed", "voice_input", req.VoiceInput)
			return Selection{Cancelled: true}, nil
		}
		return Selection{}, fmt.Errorf("training: prompt: %w", err)
	}
	if !sel.Cancelled && sel.Card == nil {
		return Selection{}, fault.New(fault.KindBadResponse, "selector returned neither card nor cancel")
	}
	return sel, nil
}

// record writes the learned association and persists the store.
func (c *Controller) record(ctx context.Context, req Request, card *catalog.CardRecord) (Outcome, error) {
	base := cardname.Extract(card.DisplayName)

	lctx := learning.Context{
		SetCode:       req.SetCode,
		CardType:      req.CardType,
		ArchetypeTags: card.ArchetypeTags,
		TrainingMode:  true,
	}
	c.learner.RecordSuccess(req.VoiceInput, base, 1.0, lctx)

	if req.WasAboveThreshold && req.OriginalBest != nil && req.OriginalBest.Card.BaseName != base {
		c.learner.RecordRejection(req.VoiceInput, req.OriginalBest.Card.BaseName, base, req.OriginalBest.Confidence)
	}

	c.learner.UpdateAccuracyFromInteraction(learning.InteractionRecord{
		Timestamp:    c.now(),
		VoiceInput:   req.VoiceInput,
		CardBaseName: base,
		Confidence:   1.0,
		WasCorrect:   true,
		Context:      lctx,
	})

	if err := c.learner.Persist(ctx); err != nil {
		c.log.Error("training persist failed", "voice_input", req.VoiceInput, "base", base, "error", err)
		return Outcome{}, fmt.Errorf("training: persist: %w", err)
	}

	c.log.Info("training recorded",
		"voice_input", req.VoiceInput,
		"base", base,
		"set", req.SetCode,
	)
	return Outcome{Trained: true, BaseName: base, Card: card}, nil
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.setStateLocked(s)
	c.mu.Unlock()
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.onChange != nil {
		c.onChange(s)
	}
}
