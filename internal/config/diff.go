package config

import "reflect"

// ConfigDiff describes what changed between two configs.
//
// Detector, exam and log-level changes are safe to apply to sessions started
// after the reload. Everything else (listen address, stream caps, providers,
// database) requires a restart; RestartRequired flags those so the reload
// handler can warn instead of silently ignoring the change.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DetectorChanged is true when any speech detector knob changed.
	// New sessions pick up the new values; running detectors keep theirs.
	DetectorChanged bool

	// ExamChanged is true when question count, per-question time limit,
	// barge-in flag or the question directory changed.
	ExamChanged bool

	// RestartRequired is true when a section that cannot be hot-reloaded
	// changed (server, audio format, stream limits, providers, database).
	RestartRequired bool

	// RestartSections names the non-reloadable sections that changed.
	RestartSections []string
}

// Empty reports whether no tracked change was found.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.DetectorChanged && !d.ExamChanged && !d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Detector != new.Detector {
		d.DetectorChanged = true
	}
	if old.Exam != new.Exam {
		d.ExamChanged = true
	}

	restart := func(section string, changed bool) {
		if changed {
			d.RestartRequired = true
			d.RestartSections = append(d.RestartSections, section)
		}
	}

	serverChanged := old.Server.ListenAddr != new.Server.ListenAddr ||
		!tlsEqual(old.Server.TLS, new.Server.TLS)
	restart("server", serverChanged)
	restart("audio", old.Audio != new.Audio)
	restart("stream", old.Stream != new.Stream)
	restart("providers", !providersEqual(&old.Providers, &new.Providers))
	restart("database", old.Database != new.Database)
	restart("provider_timeout", old.ProviderTimeout != new.ProviderTimeout)

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func providersEqual(a, b *ProvidersConfig) bool {
	return entryEqual(a.STT, b.STT) &&
		entryEqual(a.TTS, b.TTS) &&
		entryEqual(a.LLM, b.LLM) &&
		entryEqual(a.Embeddings, b.Embeddings) &&
		entryEqual(a.VAD, b.VAD)
}

// entryEqual compares provider entries field by field. Options values may be
// nested maps from the YAML decoder, so they are compared structurally.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	return reflect.DeepEqual(a.Options, b.Options)
}
