package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/voxrip/voxrip/internal/cardname"
	"github.com/voxrip/voxrip/internal/catalog"
	"github.com/voxrip/voxrip/internal/training"
)

// ErrNoActivePrompt is returned by [PromptSelector.Submit] when no
// training prompt is waiting for an answer.
var ErrNoActivePrompt = errors.New("app: no active training prompt")

// ErrStalePrompt is returned when a submission names a prompt that has
// already been resolved or replaced.
var ErrStalePrompt = errors.New("app: prompt already resolved")

// Prompt is a pending card choice surfaced to the client.
type Prompt struct {
	ID         string               `json:"id"`
	VoiceInput string               `json:"voiceInput"`
	Cards      []catalog.CardRecord `json:"cards"`
}

// SelectionCommand answers a [Prompt]. Either Index (1-based), Cancel,
// or a Spoken phrase ("option 2", "cancel") must be set.
type SelectionCommand struct {
	PromptID string `json:"promptId,omitempty"`
	Index    int    `json:"index,omitempty"`
	Cancel   bool   `json:"cancel,omitempty"`
	Spoken   string `json:"spoken,omitempty"`
}

// PromptSelector bridges the training controller's blocking Prompt call
// and the asynchronous client answering over HTTP. One prompt is active
// at a time, matching the controller's single-flow invariant.
type PromptSelector struct {
	log      *slog.Logger
	onPrompt func(Prompt)

	mu      sync.Mutex
	active  *Prompt
	resolve chan training.Selection
}

var _ training.UserSelector = (*PromptSelector)(nil)

// NewPromptSelector wires a selector. onPrompt, when non-nil, is called
// with every new prompt so the app can push it to the client.
func NewPromptSelector(onPrompt func(Prompt), log *slog.Logger) *PromptSelector {
	if log == nil {
		log = slog.Default()
	}
	return &PromptSelector{log: log, onPrompt: onPrompt}
}

// Active returns the pending prompt, or nil when none is waiting.
func (s *PromptSelector) Active() *Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	p := *s.active
	return &p
}

// Prompt blocks until the client answers via [PromptSelector.Submit] or
// ctx expires.
func (s *PromptSelector) Prompt(ctx context.Context, voiceInput string, cards []catalog.CardRecord) (training.Selection, error) {
	p := Prompt{
		ID:         uuid.NewString(),
		VoiceInput: voiceInput,
		Cards:      cards,
	}
	resolve := make(chan training.Selection, 1)

	s.mu.Lock()
	s.active = &p
	s.resolve = resolve
	s.mu.Unlock()

	s.log.Info("training prompt shown", "prompt_id", p.ID, "voice_input", voiceInput, "options", len(cards))
	if s.onPrompt != nil {
		s.onPrompt(p)
	}

	defer func() {
		s.mu.Lock()
		if s.active != nil && s.active.ID == p.ID {
			s.active = nil
			s.resolve = nil
		}
		s.mu.Unlock()
	}()

	select {
	case sel := <-resolve:
		return sel, nil
	case <-ctx.Done():
		return training.Selection{}, ctx.Err()
	}
}

// Submit resolves the active prompt. A Spoken phrase is parsed with the
// numbered-selection grammar; an unparseable phrase is rejected so the
// prompt stays open.
func (s *PromptSelector) Submit(cmd SelectionCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil || s.resolve == nil {
		return ErrNoActivePrompt
	}
	if cmd.PromptID != "" && cmd.PromptID != s.active.ID {
		return ErrStalePrompt
	}

	sel, err := s.interpret(cmd, s.active.Cards)
	if err != nil {
		return err
	}

	select {
	case s.resolve <- sel:
	default:
		return ErrStalePrompt
	}
	s.active = nil
	s.resolve = nil
	return nil
}

// interpret turns a command into a selection against the prompt's cards.
func (s *PromptSelector) interpret(cmd SelectionCommand, cards []catalog.CardRecord) (training.Selection, error) {
	if cmd.Cancel {
		return training.Selection{Cancelled: true}, nil
	}

	idx := cmd.Index - 1
	if cmd.Index == 0 {
		spoken := cardname.ParseSelection(cmd.Spoken)
		switch {
		case spoken.Cancelled:
			return training.Selection{Cancelled: true}, nil
		case spoken.Chosen:
			idx = spoken.Index
		default:
			return training.Selection{}, errors.New("app: selection is neither a number nor a cancel word")
		}
	}

	if idx < 0 || idx >= len(cards) {
		return training.Selection{}, errors.New("app: selection index out of range")
	}
	card := cards[idx]
	return training.Selection{Card: &card}, nil
}
