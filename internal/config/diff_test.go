package config_test

import (
	"testing"
	"time"

	"github.com/voxrip/voxrip/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	d := config.Diff(cfg, cfg)
	if d.Any() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	old := config.Default()
	next := config.Default()
	next.Server.LogLevel = config.LogDebug

	d := config.Diff(old, next)
	if !d.LogLevelChanged {
		t.Fatal("expected LogLevelChanged")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
	if d.RestartRequired {
		t.Error("log level change should not require restart")
	}
}

func TestDiff_LearningToggle(t *testing.T) {
	t.Parallel()
	old := config.Default()
	next := config.Default()
	next.Learning.Enabled = false

	d := config.Diff(old, next)
	if !d.LearningToggled {
		t.Fatal("expected LearningToggled")
	}
	if d.LearningEnabled {
		t.Error("LearningEnabled should report the new value false")
	}
	if d.RestartRequired {
		t.Error("learning toggle should not require restart")
	}
}

func TestDiff_TuningChanges(t *testing.T) {
	t.Parallel()
	old := config.Default()
	next := config.Default()
	next.Recognition.RawFloor = 0.2
	next.Training.Debounce = config.Duration(3 * time.Second)

	d := config.Diff(old, next)
	if !d.RecognitionChanged {
		t.Error("expected RecognitionChanged")
	}
	if !d.TrainingChanged {
		t.Error("expected TrainingChanged")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":9999" }},
		{"storage backend", func(c *config.Config) {
			c.Storage.Backend = config.BackendFile
			c.Storage.Path = "/tmp/patterns.json"
		}},
		{"catalog url", func(c *config.Config) { c.Catalog.BaseURL = "http://other:3000/api" }},
		{"pattern capacity", func(c *config.Config) { c.Learning.PatternCapacity = 2000 }},
		{"tls added", func(c *config.Config) {
			c.Server.TLS = &config.TLSConfig{CertFile: "a", KeyFile: "b"}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old := config.Default()
			next := config.Default()
			tc.mutate(next)
			d := config.Diff(old, next)
			if !d.RestartRequired {
				t.Errorf("expected RestartRequired for %s change", tc.name)
			}
		})
	}
}
