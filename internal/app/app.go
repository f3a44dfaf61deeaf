// Package app wires the voxrip subsystems into a running service: the
// speech source feeds the recognition pipeline, results flow out as
// events, and below-threshold results escalate into the training flow.
//
// Wiring is one-directional. The core emits OnResult / OnNeedsTraining /
// OnPrompt callbacks; nothing in the core calls back into the app. For
// testing, inject doubles via the functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxrip/voxrip/internal/adaptive"
	"github.com/voxrip/voxrip/internal/catalog"
	"github.com/voxrip/voxrip/internal/config"
	"github.com/voxrip/voxrip/internal/kvstore"
	"github.com/voxrip/voxrip/internal/learning"
	"github.com/voxrip/voxrip/internal/observe"
	"github.com/voxrip/voxrip/internal/phonetic"
	"github.com/voxrip/voxrip/internal/recognition"
	"github.com/voxrip/voxrip/internal/speech"
	"github.com/voxrip/voxrip/internal/training"
)

// forgetInterval is how often the decay sweep runs.
const forgetInterval = 24 * time.Hour

// ErrNothingToTrain is returned by [App.StartTraining] before any
// recognition has produced a candidate.
var ErrNothingToTrain = errors.New("app: no recognition to train")

// Events are the callbacks the app invokes as utterances resolve. All
// fields are optional and are called from the app's event loop, so they
// must not block.
type Events struct {
	// OnResult fires for every recognized utterance.
	OnResult func(res *recognition.Result)

	// OnNeedsTraining fires when a result fails its threshold, right
	// before the training flow starts.
	OnNeedsTraining func(res *recognition.Result)

	// OnPrompt fires when the training flow needs a card choice.
	OnPrompt func(p Prompt)
}

// Option is a functional option for [New].
type Option func(*App)

// WithKV injects the key/value store instead of building one from the
// storage config.
func WithKV(kv kvstore.Store) Option {
	return func(a *App) { a.kv = kv }
}

// WithCardSource injects the catalog client used by the pipeline.
func WithCardSource(src recognition.CardSource) Option {
	return func(a *App) { a.cardSource = src }
}

// WithSpeech injects the speech source.
func WithSpeech(src speech.Source) Option {
	return func(a *App) { a.speechSrc = src }
}

// WithEvents registers the result callbacks.
func WithEvents(ev Events) Option {
	return func(a *App) { a.events = ev }
}

// WithMetrics injects a Metrics set; default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevelVar hands the app the level var backing the root logger so
// config reloads can retarget it.
func WithLogLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithClock injects the time source used for session length tracking.
func WithClock(clock func() time.Time) Option {
	return func(a *App) { a.now = clock }
}

// App owns the subsystem lifetimes and the main event loop.
type App struct {
	cfg *config.Config
	log *slog.Logger
	now func() time.Time

	kv        kvstore.Store
	store     *learning.Store
	adjuster  *adaptive.Adjuster
	catalog   *catalog.Client
	pipeline  *recognition.Pipeline
	speechSrc speech.Source
	socket    *speech.Socket
	selector  *PromptSelector
	trainer   *training.Controller
	metrics   *observe.Metrics
	events    Events
	levelVar  *slog.LevelVar

	cardSource recognition.CardSource

	startedAt time.Time

	mu             sync.Mutex
	lastPatterns   int
	lastResult     *recognition.Result
	lastTranscript string

	// closers run in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// New builds the full dependency graph from cfg. Providers not replaced
// by options are real: a kvstore backend from the storage config, the
// catalog HTTP client, and the websocket speech source.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		log:     slog.Default(),
		now:     time.Now,
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}

	if a.kv == nil {
		kv, closeKV, err := config.DefaultRegistry().CreateStore(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("app: create store: %w", err)
		}
		a.kv = kv
		if closeKV != nil {
			a.closers = append(a.closers, closeKV)
		}
	}

	// The store and the pipeline must share one normalizer: patterns are
	// keyed by the canonical voice input on both the record and lookup
	// sides.
	normalizer := phonetic.Default()

	a.store = learning.New(a.kv,
		learning.WithNormalizer(normalizer),
		learning.WithVariantProvider(normalizer),
		learning.WithPatternCapacity(cfg.Learning.PatternCapacity),
		learning.WithLearningRate(cfg.Learning.LearningRate),
		learning.WithForgettingRate(cfg.Learning.ForgettingRate),
		learning.WithRetention(time.Duration(cfg.Learning.RetentionDays)*24*time.Hour),
	)
	a.store.SetLearningEnabled(cfg.Learning.Enabled)
	if err := a.store.Load(ctx); err != nil {
		a.log.Warn("learning state load failed, starting fresh", "error", err)
	}

	a.adjuster = adaptive.New(a.store, normalizer)

	if a.cardSource == nil {
		a.catalog = catalog.New(cfg.Catalog.BaseURL,
			catalog.WithHTTPClient(&http.Client{Timeout: cfg.Catalog.RequestTimeout.Std()}),
		)
		a.cardSource = a.catalog
	}

	a.pipeline = recognition.New(normalizer, a.adjuster, a.store, a.cardSource,
		recognition.WithMaxAlternatives(cfg.Recognition.MaxAlternatives),
		recognition.WithRawFloor(cfg.Recognition.RawFloor),
		recognition.WithFetchTimeout(cfg.Recognition.FetchTimeout.Std()),
		recognition.WithRarityExtraction(cfg.Recognition.ExtractRarity),
		recognition.WithArtExtraction(cfg.Recognition.ExtractArtVariant),
	)

	if a.speechSrc == nil {
		a.socket = speech.NewSocket()
		a.speechSrc = a.socket
	}

	a.selector = NewPromptSelector(func(p Prompt) {
		if a.events.OnPrompt != nil {
			a.events.OnPrompt(p)
		}
	}, a.log)

	a.trainer = training.NewController(training.Config{
		Selector:   a.selector,
		Learner:    a.store,
		Speech:     a.speechSrc,
		Debounce:   cfg.Training.Debounce.Std(),
		AutoCancel: cfg.Training.PromptTimeout.Std(),
		OnStateChange: func(s training.State) {
			a.log.Debug("training state", "state", s.String())
		},
	})

	a.mu.Lock()
	a.lastPatterns = a.store.GetStats().Patterns
	a.mu.Unlock()

	return a, nil
}

// ── Accessors for the HTTP surface ───────────────────────────────────────────

// Pipeline returns the recognition pipeline (set selection surface).
func (a *App) Pipeline() *recognition.Pipeline { return a.pipeline }

// LearningStore returns the learning store (stats/pattern surface).
func (a *App) LearningStore() *learning.Store { return a.store }

// Catalog returns the catalog client; nil when a card source was
// injected.
func (a *App) Catalog() *catalog.Client { return a.catalog }

// Socket returns the websocket speech source; nil when a speech source
// was injected.
func (a *App) Socket() *speech.Socket { return a.socket }

// KV returns the key/value store, for health probing.
func (a *App) KV() kvstore.Store { return a.kv }

// SubmitSelection answers the active training prompt.
func (a *App) SubmitSelection(cmd SelectionCommand) error {
	return a.selector.Submit(cmd)
}

// ActivePrompt returns the pending training prompt, nil when idle.
func (a *App) ActivePrompt() *Prompt { return a.selector.Active() }

// ── Run ──────────────────────────────────────────────────────────────────────

// Run starts the speech source and the event loop, blocking until ctx
// is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.startedAt = a.now()

	if err := a.speechSrc.Start(ctx); err != nil {
		return fmt.Errorf("app: start speech source: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.consumeSpeech(ctx) })
	g.Go(func() error { return a.forgetLoop(ctx) })

	a.log.Info("app running", "set", a.pipeline.CurrentSet(), "learning", a.cfg.Learning.Enabled)
	return g.Wait()
}

// consumeSpeech is the main event loop: finals are recognized, errors
// are logged with their classification.
func (a *App) consumeSpeech(ctx context.Context) error {
	finals := a.speechSrc.Finals()
	errs := a.speechSrc.Errors()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-finals:
			if !ok {
				return nil
			}
			a.handleFinal(ctx, f)
		case e, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			a.log.Warn("speech source error",
				"kind", string(e.Kind),
				"retryable", e.Retryable,
				"message", e.Message,
			)
		}
	}
}

// handleFinal runs one final transcript through the pipeline, emits the
// result, and escalates into training when the threshold was missed.
func (a *App) handleFinal(ctx context.Context, f speech.Final) {
	utt := recognition.Utterance{
		RawTranscript: f.Transcript,
		IsFinal:       true,
		Timestamp:     a.now(),
	}
	for _, alt := range f.Alternatives {
		utt.Alternatives = append(utt.Alternatives, recognition.Alternative{
			Transcript: alt.Transcript,
			Confidence: alt.Confidence,
		})
	}

	rctx := recognition.Context{SessionLength: a.now().Sub(a.startedAt)}

	start := a.now()
	res, err := a.pipeline.Recognize(ctx, utt, rctx)
	a.metrics.RecognitionDuration.Record(ctx, a.now().Sub(start).Seconds())
	if err != nil {
		a.log.Warn("recognition failed", "transcript", f.Transcript, "error", err)
		a.metrics.RecordUtterance(ctx, "error", 0)
		return
	}

	status := "no_candidates"
	switch {
	case res.WasAboveThreshold:
		status = "matched"
	case res.Best != nil:
		status = "below_threshold"
	}
	a.metrics.RecordUtterance(ctx, status, len(res.Alternatives))

	if res.Best != nil {
		a.mu.Lock()
		a.lastResult = res
		a.lastTranscript = f.Transcript
		a.mu.Unlock()
	}

	if a.events.OnResult != nil {
		a.events.OnResult(res)
	}

	if res.Best == nil || res.WasAboveThreshold {
		return
	}
	if a.events.OnNeedsTraining != nil {
		a.events.OnNeedsTraining(res)
	}
	a.escalate(ctx, res, f.Transcript)
}

// escalate runs the training flow for a below-threshold result.
func (a *App) escalate(ctx context.Context, res *recognition.Result, transcript string) {
	cards, err := a.pipeline.Cards(ctx)
	if err != nil {
		a.log.Warn("training skipped, cards unavailable", "error", err)
		return
	}

	outcome, err := a.trainer.MaybeEscalate(ctx, res, training.Request{
		VoiceInput:        transcript,
		Cards:             cards,
		OriginalBest:      res.Best,
		WasAboveThreshold: res.WasAboveThreshold,
		SetCode:           a.pipeline.CurrentSet(),
	})
	a.settleTraining(ctx, outcome, err)
}

// StartTraining opens the training flow for the most recent recognition,
// whether or not it cleared its threshold. A correction of an emitted
// result records both the right association and the rejection of the
// wrong one. The flow itself runs in the background; the prompt surfaces
// through OnPrompt and the training endpoints.
func (a *App) StartTraining(ctx context.Context) error {
	a.mu.Lock()
	res, transcript := a.lastResult, a.lastTranscript
	a.mu.Unlock()
	if res == nil || res.Best == nil {
		return ErrNothingToTrain
	}

	switch a.trainer.State() {
	case training.StateShowingPrompt, training.StateAwaitingSelection, training.StateRecording:
		return training.ErrBusy
	}

	cards, err := a.pipeline.Cards(ctx)
	if err != nil {
		return fmt.Errorf("app: start training: %w", err)
	}

	req := training.Request{
		VoiceInput:        transcript,
		Cards:             cards,
		OriginalBest:      res.Best,
		WasAboveThreshold: res.WasAboveThreshold,
		SetCode:           a.pipeline.CurrentSet(),
	}
	flowCtx := context.WithoutCancel(ctx)
	go func() {
		outcome, err := a.trainer.Train(flowCtx, req)
		a.settleTraining(flowCtx, outcome, err)
	}()
	return nil
}

// settleTraining records the outcome of one training flow.
func (a *App) settleTraining(ctx context.Context, outcome training.Outcome, err error) {
	switch {
	case errors.Is(err, training.ErrDebounced), errors.Is(err, training.ErrBusy):
		a.log.Debug("training prompt suppressed", "reason", err)
	case err != nil:
		a.metrics.RecordTrainingSession(ctx, "error")
		a.log.Warn("training flow failed", "error", err)
	case outcome.Trained:
		a.metrics.RecordTrainingSession(ctx, "trained")
		a.syncPatternsGauge(ctx)
	case outcome.Cancelled:
		a.metrics.RecordTrainingSession(ctx, "cancelled")
	}
}

// syncPatternsGauge moves the patterns-learned gauge to the store's
// current pattern count.
func (a *App) syncPatternsGauge(ctx context.Context) {
	patterns := a.store.GetStats().Patterns

	a.mu.Lock()
	delta := patterns - a.lastPatterns
	a.lastPatterns = patterns
	a.mu.Unlock()

	if delta != 0 {
		a.metrics.PatternsLearned.Add(ctx, int64(delta))
	}
}

// forgetLoop runs the daily decay sweep and persists the shrunk state.
func (a *App) forgetLoop(ctx context.Context) error {
	ticker := time.NewTicker(forgetInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.store.Forget()
			if err := a.store.Persist(ctx); err != nil {
				a.log.Warn("persist after forget sweep failed", "error", err)
			}
			a.syncPatternsGauge(ctx)
			a.log.Info("forget sweep complete", "patterns", a.store.GetStats().Patterns)
		}
	}
}

// ── Config reload ────────────────────────────────────────────────────────────

// ApplyConfig is the watcher callback: it applies hot-reloadable changes
// and logs the ones that need a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Any() {
		return
	}

	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.SlogLevel())
		a.log.Info("log level changed", "level", string(d.NewLogLevel))
	}

	if d.LearningToggled {
		a.store.SetLearningEnabled(d.LearningEnabled)
		a.log.Info("learning toggled", "enabled", d.LearningEnabled)
	}

	if d.RecognitionChanged {
		a.pipeline.Retune(
			recognition.WithMaxAlternatives(new.Recognition.MaxAlternatives),
			recognition.WithRawFloor(new.Recognition.RawFloor),
			recognition.WithFetchTimeout(new.Recognition.FetchTimeout.Std()),
			recognition.WithRarityExtraction(new.Recognition.ExtractRarity),
			recognition.WithArtExtraction(new.Recognition.ExtractArtVariant),
		)
		a.log.Info("recognition tuning reloaded")
	}

	if d.TrainingChanged {
		a.trainer.Retune(new.Training.Debounce.Std(), new.Training.PromptTimeout.Std())
		a.log.Info("training timings reloaded")
	}

	if d.RestartRequired {
		a.log.Warn("config changes require a restart to take effect")
	}

	a.cfg = new
}

// ── Shutdown ─────────────────────────────────────────────────────────────────

// Shutdown stops the speech source, flushes the learning store, and
// closes the storage backend. Honours the ctx deadline for the flush.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.speechSrc.Stop()

		start := time.Now()
		if err := a.store.Persist(ctx); err != nil {
			a.log.Error("final persist failed", "error", err)
			shutdownErr = fmt.Errorf("app: final persist: %w", err)
		}
		a.metrics.PersistDuration.Record(ctx, time.Since(start).Seconds())

		for i, closer := range a.closers {
			if err := closer(); err != nil {
				a.log.Warn("closer failed", "index", i, "error", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
