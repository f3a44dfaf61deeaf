package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/voxrip/voxrip/internal/app"
	"github.com/voxrip/voxrip/internal/catalog"
	"github.com/voxrip/voxrip/internal/fault"
	"github.com/voxrip/voxrip/internal/health"
	"github.com/voxrip/voxrip/internal/learning"
	"github.com/voxrip/voxrip/internal/observe"
	"github.com/voxrip/voxrip/internal/server"
	"github.com/voxrip/voxrip/internal/speech"
	"github.com/voxrip/voxrip/internal/training"
)

type fakeSets struct {
	sets       []catalog.SetInfo
	err        error
	searchTerm string
}

func (f *fakeSets) ListSets(context.Context) ([]catalog.SetInfo, error) {
	return f.sets, f.err
}

func (f *fakeSets) SearchSets(_ context.Context, term string) ([]catalog.SetInfo, error) {
	f.searchTerm = term
	return f.sets, f.err
}

type fakeSelector struct {
	current string
	err     error
}

func (f *fakeSelector) SetCurrentSet(_ context.Context, setCode string) error {
	if f.err != nil {
		return f.err
	}
	f.current = strings.ToUpper(setCode)
	return nil
}

func (f *fakeSelector) CurrentSet() string { return f.current }

type fakeLearning struct {
	stats      learning.Stats
	accuracy   float64
	exported   []byte
	imported   []byte
	mergeUsed  bool
	importErr  error
	persists   int
	persistErr error
}

func (f *fakeLearning) GetStats() learning.Stats { return f.stats }
func (f *fakeLearning) RecentAccuracy() float64  { return f.accuracy }

func (f *fakeLearning) ExportPatterns() ([]byte, error) { return f.exported, nil }

func (f *fakeLearning) ImportPatterns(blob []byte, merge bool) error {
	if f.importErr != nil {
		return f.importErr
	}
	f.imported = blob
	f.mergeUsed = merge
	return nil
}

func (f *fakeLearning) Persist(context.Context) error {
	f.persists++
	return f.persistErr
}

type fakeTraining struct {
	prompt    *app.Prompt
	submitted []app.SelectionCommand
	submitErr error
	started   int
	startErr  error
}

func (f *fakeTraining) ActivePrompt() *app.Prompt { return f.prompt }

func (f *fakeTraining) StartTraining(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started++
	return nil
}

func (f *fakeTraining) SubmitSelection(cmd app.SelectionCommand) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, cmd)
	return nil
}

type fixture struct {
	sets     *fakeSets
	selector *fakeSelector
	learning *fakeLearning
	training *fakeTraining
	handler  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := &fixture{
		sets:     &fakeSets{},
		selector: &fakeSelector{},
		learning: &fakeLearning{},
		training: &fakeTraining{},
	}
	srv := server.New(server.Config{
		Health:   health.New(),
		Metrics:  metrics,
		Sets:     f.sets,
		Pipeline: f.selector,
		Learning: f.learning,
		Training: f.training,
		Speech:   speech.NewSocket(),
		BaseCtx:  context.Background(),
	})
	f.handler = srv.Routes()
	return f
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func doJSON(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal response %q: %v", rec.Body.String(), err)
	}
	return rec, env
}

func TestSets(t *testing.T) {
	t.Parallel()

	t.Run("list", func(t *testing.T) {
		f := newFixture(t)
		f.sets.sets = []catalog.SetInfo{{SetCode: "LOB", DisplayName: "Legend of Blue Eyes"}}

		rec, env := doJSON(t, f.handler, http.MethodGet, "/api/sets", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if !env.Success {
			t.Fatal("expected success envelope")
		}
		if f.sets.searchTerm != "" {
			t.Fatalf("list must not search, got term %q", f.sets.searchTerm)
		}
		var data struct {
			Sets []catalog.SetInfo `json:"sets"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatalf("unmarshal data: %v", err)
		}
		if len(data.Sets) != 1 || data.Sets[0].SetCode != "LOB" {
			t.Fatalf("sets = %+v", data.Sets)
		}
	})

	t.Run("search term routes to SearchSets", func(t *testing.T) {
		f := newFixture(t)
		doJSON(t, f.handler, http.MethodGet, "/api/sets?q=blue", "")
		if f.sets.searchTerm != "blue" {
			t.Fatalf("search term = %q, want blue", f.sets.searchTerm)
		}
	})

	t.Run("catalog failure maps onto status", func(t *testing.T) {
		f := newFixture(t)
		f.sets.err = fault.New(fault.KindTimeout, "catalog slow")

		rec, env := doJSON(t, f.handler, http.MethodGet, "/api/sets", "")
		if rec.Code != http.StatusGatewayTimeout {
			t.Fatalf("status = %d, want 504", rec.Code)
		}
		if env.Error == nil || env.Error.Kind != string(fault.KindTimeout) {
			t.Fatalf("error = %+v", env.Error)
		}
	})
}

func TestSelectSet(t *testing.T) {
	t.Parallel()

	t.Run("valid body switches set", func(t *testing.T) {
		f := newFixture(t)
		rec, _ := doJSON(t, f.handler, http.MethodPut, "/api/sets/current", `{"set_code":"lob"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if f.selector.current != "LOB" {
			t.Fatalf("current = %q, want LOB", f.selector.current)
		}
	})

	t.Run("missing set_code rejected", func(t *testing.T) {
		f := newFixture(t)
		rec, env := doJSON(t, f.handler, http.MethodPut, "/api/sets/current", `{}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		if env.Error == nil || env.Error.Kind != string(fault.KindBadFormat) {
			t.Fatalf("error = %+v", env.Error)
		}
	})

	t.Run("empty set propagates NoCardsLoaded", func(t *testing.T) {
		f := newFixture(t)
		f.selector.err = fault.New(fault.KindNoCardsLoaded, "set XYZ has no cards")
		rec, _ := doJSON(t, f.handler, http.MethodPut, "/api/sets/current", `{"set_code":"XYZ"}`)
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}
	})

	t.Run("current set is readable", func(t *testing.T) {
		f := newFixture(t)
		f.selector.current = "MRD"
		_, env := doJSON(t, f.handler, http.MethodGet, "/api/sets/current", "")
		var data struct {
			SetCode string `json:"set_code"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatalf("unmarshal data: %v", err)
		}
		if data.SetCode != "MRD" {
			t.Fatalf("set_code = %q, want MRD", data.SetCode)
		}
	})
}

func TestStats(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.learning.stats = learning.Stats{PatternsLearned: 12, AdaptationsApplied: 3, LearningEnabled: true}
	f.learning.accuracy = 0.875

	rec, env := doJSON(t, f.handler, http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var data struct {
		Stats          learning.Stats `json:"stats"`
		RecentAccuracy float64        `json:"recent_accuracy"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data.Stats.PatternsLearned != 12 {
		t.Fatalf("patternsLearned = %d, want 12", data.Stats.PatternsLearned)
	}
	if data.RecentAccuracy != 0.875 {
		t.Fatalf("recent_accuracy = %v, want 0.875", data.RecentAccuracy)
	}
}

func TestPatterns(t *testing.T) {
	t.Parallel()

	t.Run("export streams the blob", func(t *testing.T) {
		f := newFixture(t)
		f.learning.exported = []byte(`{"version":"1.0"}`)

		req := httptest.NewRequest(http.MethodGet, "/api/patterns", nil)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if rec.Body.String() != `{"version":"1.0"}` {
			t.Fatalf("body = %q", rec.Body.String())
		}
		if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "voxrip-patterns.json") {
			t.Fatalf("Content-Disposition = %q", cd)
		}
	})

	t.Run("import persists after applying", func(t *testing.T) {
		f := newFixture(t)
		blob := `{"version":"1.0","patterns":{}}`

		rec, _ := doJSON(t, f.handler, http.MethodPost, "/api/patterns", blob)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if string(f.learning.imported) != blob {
			t.Fatalf("imported = %q", f.learning.imported)
		}
		if !f.learning.mergeUsed {
			t.Fatal("merge should default to true")
		}
		if f.learning.persists != 1 {
			t.Fatalf("persists = %d, want 1", f.learning.persists)
		}
	})

	t.Run("merge=false replaces", func(t *testing.T) {
		f := newFixture(t)
		doJSON(t, f.handler, http.MethodPost, "/api/patterns?merge=false", `{"version":"1.0"}`)
		if f.learning.mergeUsed {
			t.Fatal("merge should be false")
		}
	})

	t.Run("bad document rejected", func(t *testing.T) {
		f := newFixture(t)
		f.learning.importErr = fault.New(fault.KindBadFormat, "unsupported version")

		rec, env := doJSON(t, f.handler, http.MethodPost, "/api/patterns", `{"version":"9.9"}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		if env.Error == nil || env.Error.Kind != string(fault.KindBadFormat) {
			t.Fatalf("error = %+v", env.Error)
		}
		if f.learning.persists != 0 {
			t.Fatal("failed import must not persist")
		}
	})
}

func TestTrainingEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("active prompt surfaced", func(t *testing.T) {
		f := newFixture(t)
		f.training.prompt = &app.Prompt{ID: "p1", VoiceInput: "blue eyes"}

		_, env := doJSON(t, f.handler, http.MethodGet, "/api/training/prompt", "")
		var data struct {
			Prompt *app.Prompt `json:"prompt"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatalf("unmarshal data: %v", err)
		}
		if data.Prompt == nil || data.Prompt.ID != "p1" {
			t.Fatalf("prompt = %+v", data.Prompt)
		}
	})

	t.Run("selection forwarded", func(t *testing.T) {
		f := newFixture(t)
		rec, _ := doJSON(t, f.handler, http.MethodPost, "/api/training/select", `{"promptId":"p1","index":2}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if len(f.training.submitted) != 1 || f.training.submitted[0].Index != 2 {
			t.Fatalf("submitted = %+v", f.training.submitted)
		}
	})

	t.Run("no active prompt maps onto 404", func(t *testing.T) {
		f := newFixture(t)
		f.training.submitErr = app.ErrNoActivePrompt

		rec, _ := doJSON(t, f.handler, http.MethodPost, "/api/training/select", `{"index":1}`)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("start accepted", func(t *testing.T) {
		f := newFixture(t)
		rec, env := doJSON(t, f.handler, http.MethodPost, "/api/training/start", "")
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202", rec.Code)
		}
		if !env.Success {
			t.Fatalf("envelope = %+v", env)
		}
		if f.training.started != 1 {
			t.Fatalf("started = %d, want 1", f.training.started)
		}
	})

	t.Run("start without a recognition maps onto 404", func(t *testing.T) {
		f := newFixture(t)
		f.training.startErr = app.ErrNothingToTrain

		rec, env := doJSON(t, f.handler, http.MethodPost, "/api/training/start", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
		if env.Error == nil || env.Error.Kind != string(fault.KindNotFound) {
			t.Fatalf("error = %+v", env.Error)
		}
	})

	t.Run("start while a flow is active maps onto 503", func(t *testing.T) {
		f := newFixture(t)
		f.training.startErr = training.ErrBusy

		rec, _ := doJSON(t, f.handler, http.MethodPost, "/api/training/start", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d, want 200", path, rec.Code)
		}
	}
}
