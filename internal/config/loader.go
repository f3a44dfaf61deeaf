package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Useful in tests where configs are constructed
// from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Catalog
	if cfg.Catalog.BaseURL == "" {
		errs = append(errs, errors.New("catalog.base_url is required"))
	} else if u, err := url.Parse(cfg.Catalog.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("catalog.base_url %q is not an absolute URL", cfg.Catalog.BaseURL))
	}
	if cfg.Catalog.RequestTimeout < 0 {
		errs = append(errs, errors.New("catalog.request_timeout must not be negative"))
	}

	// Storage
	switch {
	case !cfg.Storage.Backend.IsValid():
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: memory, file, sqlite, postgres", cfg.Storage.Backend))
	case cfg.Storage.Backend == BackendFile && cfg.Storage.Path == "":
		errs = append(errs, errors.New("storage.path is required when backend is file"))
	case cfg.Storage.Backend == BackendSQLite && cfg.Storage.Path == "":
		errs = append(errs, errors.New("storage.path is required when backend is sqlite"))
	case cfg.Storage.Backend == BackendPostgres && cfg.Storage.PostgresDSN == "":
		errs = append(errs, errors.New("storage.postgres_dsn is required when backend is postgres"))
	case cfg.Storage.Backend == BackendMemory:
		slog.Warn("storage.backend is memory; learned patterns will not survive restarts")
	}

	// Learning
	if cfg.Learning.PatternCapacity < 1 {
		errs = append(errs, fmt.Errorf("learning.pattern_capacity %d must be at least 1", cfg.Learning.PatternCapacity))
	}
	if cfg.Learning.LearningRate <= 0 || cfg.Learning.LearningRate >= 1 {
		errs = append(errs, fmt.Errorf("learning.learning_rate %.3f is out of range (0, 1)", cfg.Learning.LearningRate))
	}
	if cfg.Learning.ForgettingRate <= 0 || cfg.Learning.ForgettingRate >= 1 {
		errs = append(errs, fmt.Errorf("learning.forgetting_rate %.3f is out of range (0, 1)", cfg.Learning.ForgettingRate))
	}
	if cfg.Learning.RetentionDays < 1 {
		errs = append(errs, fmt.Errorf("learning.retention_days %d must be at least 1", cfg.Learning.RetentionDays))
	}
	if !cfg.Learning.Enabled {
		slog.Warn("learning is disabled; recognition will not personalize")
	}

	// Recognition
	if cfg.Recognition.MaxAlternatives < 1 {
		errs = append(errs, fmt.Errorf("recognition.max_alternatives %d must be at least 1", cfg.Recognition.MaxAlternatives))
	}
	if cfg.Recognition.RawFloor < 0 || cfg.Recognition.RawFloor >= 1 {
		errs = append(errs, fmt.Errorf("recognition.raw_floor %.2f is out of range [0, 1)", cfg.Recognition.RawFloor))
	}
	if cfg.Recognition.FetchTimeout <= 0 {
		errs = append(errs, errors.New("recognition.fetch_timeout must be positive"))
	}

	// Training
	if cfg.Training.Debounce <= 0 {
		errs = append(errs, errors.New("training.debounce must be positive"))
	}
	if cfg.Training.PromptTimeout <= 0 {
		errs = append(errs, errors.New("training.prompt_timeout must be positive"))
	}

	return errors.Join(errs...)
}
