package config

// ConfigDiff describes what changed between two configs. Hot-reloadable
// changes (log level, learning toggle, tuning) are tracked individually;
// everything else folds into RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LearningToggled bool
	LearningEnabled bool

	RecognitionChanged bool
	TrainingChanged    bool

	// RestartRequired is set when server, storage, or catalog settings
	// changed; those are fixed at startup.
	RestartRequired bool
}

// Any reports whether the diff contains any change at all.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged ||
		d.LearningToggled ||
		d.RecognitionChanged ||
		d.TrainingChanged ||
		d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Learning.Enabled != new.Learning.Enabled {
		d.LearningToggled = true
		d.LearningEnabled = new.Learning.Enabled
	}

	if old.Recognition != new.Recognition {
		d.RecognitionChanged = true
	}

	if old.Training != new.Training {
		d.TrainingChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) ||
		old.Storage != new.Storage ||
		old.Catalog != new.Catalog ||
		old.Learning.PatternCapacity != new.Learning.PatternCapacity ||
		old.Learning.LearningRate != new.Learning.LearningRate ||
		old.Learning.ForgettingRate != new.Learning.ForgettingRate ||
		old.Learning.RetentionDays != new.Learning.RetentionDays {
		d.RestartRequired = true
	}

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
