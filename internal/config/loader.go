package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults] when the corresponding field is zero.
const (
	DefaultListenAddr         = ":8080"
	DefaultSampleRate         = 16000
	DefaultFrameDuration      = 20 * time.Millisecond
	DefaultEnergyThresholdDB  = -40.0
	DefaultSensitivity        = 0.5
	DefaultMinSpeechDuration  = 250 * time.Millisecond
	DefaultMinSilenceDuration = 700 * time.Millisecond
	DefaultNoiseFloorWindow   = 2 * time.Second
	DefaultMaxConnections     = 100
	DefaultHeartbeatInterval  = 30 * time.Second
	DefaultConnectionTimeout  = 90 * time.Second
	DefaultTotalQuestions     = 5
	DefaultMaxTimePerQuestion = 2 * time.Minute
	DefaultProviderTimeout    = 30 * time.Second
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"whisper", "deepgram"},
	"tts":        {"elevenlabs", "coqui"},
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
	"vad":        {"energy"},
}

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

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.FrameDuration == 0 {
		cfg.Audio.FrameDuration = DefaultFrameDuration
	}
	if cfg.Detector.EnergyThresholdDB == 0 {
		cfg.Detector.EnergyThresholdDB = DefaultEnergyThresholdDB
	}
	if cfg.Detector.Sensitivity == 0 {
		cfg.Detector.Sensitivity = DefaultSensitivity
	}
	if cfg.Detector.MinSpeechDuration == 0 {
		cfg.Detector.MinSpeechDuration = DefaultMinSpeechDuration
	}
	if cfg.Detector.MinSilenceDuration == 0 {
		cfg.Detector.MinSilenceDuration = DefaultMinSilenceDuration
	}
	if cfg.Detector.NoiseFloorWindow == 0 {
		cfg.Detector.NoiseFloorWindow = DefaultNoiseFloorWindow
	}
	if cfg.Stream.MaxConnections == 0 {
		cfg.Stream.MaxConnections = DefaultMaxConnections
	}
	if cfg.Stream.HeartbeatInterval == 0 {
		cfg.Stream.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Stream.ConnectionTimeout == 0 {
		cfg.Stream.ConnectionTimeout = DefaultConnectionTimeout
	}
	if cfg.Exam.TotalQuestions == 0 {
		cfg.Exam.TotalQuestions = DefaultTotalQuestions
	}
	if cfg.Exam.MaxTimePerQuestion == 0 {
		cfg.Exam.MaxTimePerQuestion = DefaultMaxTimePerQuestion
	}
	if cfg.ProviderTimeout == 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Soft issues (likely typos, missing optional providers) are logged as
// warnings rather than failing the load.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	switch cfg.Audio.SampleRate {
	case 0, 8000, 16000, 24000, 44100, 48000:
	default:
		slog.Warn("unusual audio sample rate, STT providers may reject it",
			"sample_rate", cfg.Audio.SampleRate)
	}
	if cfg.Audio.FrameDuration < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_duration %v must be positive", cfg.Audio.FrameDuration))
	}

	// Detector
	if cfg.Detector.Sensitivity < 0 || cfg.Detector.Sensitivity > 1 {
		errs = append(errs, fmt.Errorf("detector.sensitivity %.2f is out of range [0, 1]", cfg.Detector.Sensitivity))
	}
	if cfg.Detector.EnergyThresholdDB > 0 {
		errs = append(errs, fmt.Errorf("detector.energy_threshold_db %.1f must be negative (dBFS)", cfg.Detector.EnergyThresholdDB))
	}
	if cfg.Detector.MinSpeechDuration < 0 {
		errs = append(errs, fmt.Errorf("detector.min_speech_duration %v must be positive", cfg.Detector.MinSpeechDuration))
	}
	if cfg.Detector.MinSilenceDuration < 0 {
		errs = append(errs, fmt.Errorf("detector.min_silence_duration %v must be positive", cfg.Detector.MinSilenceDuration))
	}

	// Stream
	if cfg.Stream.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("stream.max_connections %d must be positive", cfg.Stream.MaxConnections))
	}
	if cfg.Stream.ConnectionTimeout > 0 && cfg.Stream.HeartbeatInterval > 0 &&
		cfg.Stream.ConnectionTimeout <= cfg.Stream.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("stream.connection_timeout %v must exceed stream.heartbeat_interval %v",
			cfg.Stream.ConnectionTimeout, cfg.Stream.HeartbeatInterval))
	}

	// Exam
	if cfg.Exam.TotalQuestions < 0 {
		errs = append(errs, fmt.Errorf("exam.total_questions %d must be positive", cfg.Exam.TotalQuestions))
	}
	if cfg.Exam.QuestionsPerScenario < 0 {
		errs = append(errs, fmt.Errorf("exam.questions_per_scenario %d must not be negative", cfg.Exam.QuestionsPerScenario))
	}
	if cfg.Exam.MaxTimePerQuestion < 0 {
		errs = append(errs, fmt.Errorf("exam.max_time_per_question %v must be positive", cfg.Exam.MaxTimePerQuestion))
	}
	if cfg.Exam.QuestionDir == "" && cfg.Database.PostgresDSN == "" {
		slog.Warn("neither exam.question_dir nor database.postgres_dsn is set; sessions will have no questions to ask")
	}

	// Unknown provider names get a warning, not an error.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)

	// Provider availability warnings
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; spoken answers cannot be transcribed (typed answers still work)")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("no TTS provider configured; questions will be delivered as text only")
	}

	// Embeddings ↔ database dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Database.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but database.embedding_dimensions is not set; defaulting to 1536")
	}

	if cfg.ProviderTimeout < 0 {
		errs = append(errs, fmt.Errorf("provider_timeout %v must be positive", cfg.ProviderTimeout))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
