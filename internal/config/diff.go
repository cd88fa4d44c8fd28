package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: quality-monitor
// thresholds, analysis tuning, feedback settings, and the log level. Server,
// provider, capture, and storage changes require a restart and are ignored.
type ConfigDiff struct {
	QualityChanged  bool
	NewQuality      QualityConfig
	AnalysisChanged bool
	NewAnalysis     AnalysisConfig
	FeedbackChanged bool
	NewFeedback     FeedbackConfig
	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// HasChanges reports whether any hot-reloadable field changed.
func (d ConfigDiff) HasChanges() bool {
	return d.QualityChanged || d.AnalysisChanged || d.FeedbackChanged || d.LogLevelChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Quality != new.Quality {
		d.QualityChanged = true
		d.NewQuality = new.Quality
	}

	if analysisChanged(&old.Analysis, &new.Analysis) {
		d.AnalysisChanged = true
		d.NewAnalysis = new.Analysis
	}

	if old.Feedback != new.Feedback {
		d.FeedbackChanged = true
		d.NewFeedback = new.Feedback
	}

	return d
}

// analysisChanged compares two analysis configs. AnalysisConfig holds a
// slice, so it is not directly comparable.
func analysisChanged(old, new *AnalysisConfig) bool {
	if old.PauseThresholdSeconds != new.PauseThresholdSeconds ||
		old.RapidRateWPM != new.RapidRateWPM ||
		old.IdealRateMinWPM != new.IdealRateMinWPM ||
		old.IdealRateMaxWPM != new.IdealRateMaxWPM ||
		old.MatchStretchedFillers != new.MatchStretchedFillers ||
		old.Clarity != new.Clarity {
		return true
	}
	return !slices.Equal(old.FillerWords, new.FillerWords)
}
