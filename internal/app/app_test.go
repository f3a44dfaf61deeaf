package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/voxrip/voxrip/internal/cardname"
	"github.com/voxrip/voxrip/internal/catalog"
	"github.com/voxrip/voxrip/internal/config"
	"github.com/voxrip/voxrip/internal/kvstore"
	"github.com/voxrip/voxrip/internal/learning"
	"github.com/voxrip/voxrip/internal/observe"
	"github.com/voxrip/voxrip/internal/phonetic"
	"github.com/voxrip/voxrip/internal/recognition"
	"github.com/voxrip/voxrip/internal/speech"
)

// fakeSpeech is a scriptable speech source.
type fakeSpeech struct {
	finals   chan speech.Final
	interims chan speech.Interim
	errs     chan speech.ErrorEvent

	mu      sync.Mutex
	started bool
	stopped bool
	paused  int
	resumed int
}

var _ speech.Source = (*fakeSpeech)(nil)

func newFakeSpeech() *fakeSpeech {
	return &fakeSpeech{
		finals:   make(chan speech.Final, 8),
		interims: make(chan speech.Interim, 8),
		errs:     make(chan speech.ErrorEvent, 8),
	}
}

func (f *fakeSpeech) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeSpeech) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	f.stopped = true
	close(f.finals)
	close(f.interims)
	close(f.errs)
}

func (f *fakeSpeech) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused++
}

func (f *fakeSpeech) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed++
}

func (f *fakeSpeech) Finals() <-chan speech.Final      { return f.finals }
func (f *fakeSpeech) Interims() <-chan speech.Interim  { return f.interims }
func (f *fakeSpeech) Errors() <-chan speech.ErrorEvent { return f.errs }
func (f *fakeSpeech) State() speech.State              { return speech.StateListening }

// fakeCards serves a fixed card list for any set.
type fakeCards struct {
	cards []catalog.CardRecord
}

func (f *fakeCards) ListCardsForSet(context.Context, string) ([]catalog.CardRecord, error) {
	return f.cards, nil
}

func testCardList() []catalog.CardRecord {
	names := []string{
		"Blue-Eyes White Dragon - Ultra Rare",
		"Dark Magician - Ultra Rare",
		"Summoned Skull",
		"Celtic Guardian",
	}
	cards := make([]catalog.CardRecord, len(names))
	for i, n := range names {
		cards[i] = catalog.CardRecord{
			DisplayName: n,
			BaseName:    cardname.Extract(n),
			SetCode:     "LOB",
		}
	}
	return cards
}

type appFixture struct {
	app     *App
	speech  *fakeSpeech
	results chan *recognition.Result
	prompts chan Prompt
	cancel  context.CancelFunc
	done    chan error
}

func newAppFixture(t *testing.T) *appFixture {
	t.Helper()

	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := &appFixture{
		speech:  newFakeSpeech(),
		results: make(chan *recognition.Result, 8),
		prompts: make(chan Prompt, 4),
		done:    make(chan error, 1),
	}

	cfg := config.Default()
	a, err := New(context.Background(), cfg,
		WithKV(kvstore.NewMemoryStore()),
		WithCardSource(&fakeCards{cards: testCardList()}),
		WithSpeech(f.speech),
		WithMetrics(metrics),
		WithEvents(Events{
			OnResult: func(res *recognition.Result) { f.results <- res },
			OnPrompt: func(p Prompt) { f.prompts <- p },
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.app = a

	if err := a.Pipeline().SetCurrentSet(context.Background(), "LOB"); err != nil {
		t.Fatalf("SetCurrentSet: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() { f.done <- a.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-f.done:
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after cancel")
		}
		shutdownCtx, sCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer sCancel()
		if err := a.Shutdown(shutdownCtx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return f
}

func (f *appFixture) waitResult(t *testing.T) *recognition.Result {
	t.Helper()
	select {
	case res := <-f.results:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no result emitted")
		return nil
	}
}

func TestAppRecognizesFinal(t *testing.T) {
	f := newAppFixture(t)

	f.speech.finals <- speech.Final{Transcript: "blue eyes white dragon", Confidence: 0.9}

	res := f.waitResult(t)
	if res.Best == nil {
		t.Fatal("expected a best candidate")
	}
	if res.Best.Card.BaseName != "Blue-Eyes White Dragon" {
		t.Fatalf("best = %q, want Blue-Eyes White Dragon", res.Best.Card.BaseName)
	}
	if !res.WasAboveThreshold {
		t.Fatalf("exact name should clear the threshold, got %+v", res.Best)
	}
}

func TestAppEmitsEmptyResultForGibberish(t *testing.T) {
	f := newAppFixture(t)

	f.speech.finals <- speech.Final{Transcript: "xqzv flurble wump", Confidence: 0.9}

	res := f.waitResult(t)
	if res.Best != nil && res.WasAboveThreshold {
		t.Fatalf("gibberish must not auto-confirm, got %+v", res.Best)
	}
}

// The training flow records the raw transcript while the pipeline looks
// up the normalized form; the store wiring must bridge the two.
func TestTrainedPatternAppliesToRecognition(t *testing.T) {
	f := newAppFixture(t)

	// What the training flow records: the unnormalized transcript and
	// the card's display form.
	f.app.LearningStore().RecordSuccess("blue i white dragun", "Blue-Eyes White Dragon", 1.0, learning.Context{})

	f.speech.finals <- speech.Final{Transcript: "blue i white dragun", Confidence: 0.9}

	res := f.waitResult(t)
	if res.Best == nil || res.Best.Card.BaseName != "Blue-Eyes White Dragon" {
		t.Fatalf("best = %+v, want Blue-Eyes White Dragon", res.Best)
	}
	if !res.Best.LearningApplied {
		t.Fatal("trained pattern did not reach the recognition lookup")
	}
	if res.Best.PersonalizedScore <= 0 {
		t.Fatalf("personalized score = %v, want > 0", res.Best.PersonalizedScore)
	}
}

func TestStartTrainingWithoutRecognition(t *testing.T) {
	f := newAppFixture(t)

	if err := f.app.StartTraining(context.Background()); !errors.Is(err, ErrNothingToTrain) {
		t.Fatalf("err = %v, want ErrNothingToTrain", err)
	}
}

// StartTraining retrains an already-emitted result: the correction must
// record both the right association and the rejection of the wrong one.
func TestStartTrainingCorrectsEmittedResult(t *testing.T) {
	f := newAppFixture(t)

	f.speech.finals <- speech.Final{Transcript: "blue eyes white dragon", Confidence: 0.9}
	res := f.waitResult(t)
	if !res.WasAboveThreshold {
		t.Fatalf("fixture utterance should auto-confirm, got %+v", res.Best)
	}

	if err := f.app.StartTraining(context.Background()); err != nil {
		t.Fatalf("StartTraining: %v", err)
	}

	var prompt Prompt
	select {
	case prompt = <-f.prompts:
	case <-time.After(2 * time.Second):
		t.Fatal("no training prompt surfaced")
	}
	if prompt.VoiceInput != "blue eyes white dragon" {
		t.Fatalf("prompt voice input = %q", prompt.VoiceInput)
	}

	// Pick Dark Magician, correcting the emitted Blue-Eyes result.
	idx := 0
	for i, c := range prompt.Cards {
		if c.BaseName == "Dark Magician" {
			idx = i + 1
		}
	}
	if idx == 0 {
		t.Fatalf("Dark Magician missing from prompt cards: %+v", prompt.Cards)
	}
	if err := f.app.SubmitSelection(SelectionCommand{PromptID: prompt.ID, Index: idx}); err != nil {
		t.Fatalf("SubmitSelection: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for f.app.LearningStore().GetStats().Rejections != 1 {
		select {
		case <-deadline:
			t.Fatalf("correction not recorded, stats = %+v", f.app.LearningStore().GetStats())
		case <-time.After(10 * time.Millisecond):
		}
	}

	n := phonetic.Default()
	boosts := f.app.LearningStore().Lookup(
		n.Normalize("blue eyes white dragon"),
		[]string{"Blue-Eyes White Dragon", "Dark Magician"},
	)
	if boosts["Dark Magician"].PronunciationBoost <= 0 {
		t.Errorf("corrected card got no boost: %+v", boosts["Dark Magician"])
	}
	if boosts["Blue-Eyes White Dragon"].CorrectionPenalty <= 0 {
		t.Errorf("rejected card got no penalty: %+v", boosts["Blue-Eyes White Dragon"])
	}
}

func TestAppRunStopsOnCancel(t *testing.T) {
	f := newAppFixture(t)

	f.cancel()
	select {
	case err := <-f.done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run err = %v, want context.Canceled", err)
		}
		f.done <- err // keep cleanup's read satisfied
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestSubmitSelectionWithoutPrompt(t *testing.T) {
	f := newAppFixture(t)

	if err := f.app.SubmitSelection(SelectionCommand{Index: 1}); !errors.Is(err, ErrNoActivePrompt) {
		t.Fatalf("err = %v, want ErrNoActivePrompt", err)
	}
	if f.app.ActivePrompt() != nil {
		t.Fatal("no prompt should be active")
	}
}

func TestApplyConfig(t *testing.T) {
	f := newAppFixture(t)

	lv := new(slog.LevelVar)
	f.app.levelVar = lv

	old := config.Default()
	updated := config.Default()
	updated.Server.LogLevel = config.LogDebug
	updated.Learning.Enabled = false
	updated.Recognition.MaxAlternatives = 5
	updated.Training.Debounce = config.Duration(5 * time.Second)

	f.app.ApplyConfig(old, updated)

	if lv.Level() != slog.LevelDebug {
		t.Fatalf("level = %v, want debug", lv.Level())
	}
	if f.app.LearningStore().GetStats().LearningEnabled {
		t.Fatal("learning should be disabled after reload")
	}
}
