package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func getReport(t *testing.T, h http.HandlerFunc, path string) (int, report) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Fatalf("Content-Type = %q", ct)
	}
	var body report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return rec.Code, body
}

func passing(_ context.Context) error { return nil }

func failing(err error) func(context.Context) error {
	return func(_ context.Context) error { return err }
}

func TestHealthzAlwaysOK(t *testing.T) {
	code, body := getReport(t, New().Healthz, "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Fatalf("healthz = %d %q", code, body.Status)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no probes",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "patterns", Check: passing},
				{Name: "catalog", Check: passing},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"patterns": "ok", "catalog": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "patterns", Check: failing(errors.New("kv unavailable"))},
				{Name: "catalog", Check: passing},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"patterns": "fail: kv unavailable", "catalog": "ok"},
		},
		{
			name: "all fail",
			checkers: []Checker{
				{Name: "patterns", Check: failing(errors.New("timeout"))},
				{Name: "catalog", Check: failing(errors.New("fetch failed"))},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"patterns": "fail: timeout", "catalog": "fail: fetch failed"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, body := getReport(t, New(tc.checkers...).Readyz, "/readyz")
			if code != tc.wantCode || body.Status != tc.wantStatus {
				t.Fatalf("readyz = %d %q, want %d %q", code, body.Status, tc.wantCode, tc.wantStatus)
			}
			for name, want := range tc.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %q = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyzRunsEveryProbe(t *testing.T) {
	var ran atomic.Int32
	counting := func(_ context.Context) error {
		ran.Add(1)
		return nil
	}
	h := New(
		Checker{Name: "a", Check: failing(errors.New("down"))},
		Checker{Name: "b", Check: counting},
		Checker{Name: "c", Check: counting},
	)

	code, _ := getReport(t, h.Readyz, "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("readyz = %d, want 503", code)
	}
	if ran.Load() != 2 {
		t.Fatalf("probes after the failing one ran %d times, want 2", ran.Load())
	}
}

func TestReadyzHonorsCancelledRequest(t *testing.T) {
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz = %d, want 503", rec.Code)
	}
}
