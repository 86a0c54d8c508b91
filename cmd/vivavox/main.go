// Command vivavox runs the voice-based oral examination server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/vivavox/vivavox/internal/app"
	"github.com/vivavox/vivavox/internal/config"
	"github.com/vivavox/vivavox/internal/exam"
	"github.com/vivavox/vivavox/internal/observe"
	"github.com/vivavox/vivavox/internal/resilience"
	"github.com/vivavox/vivavox/internal/store"
	pgstore "github.com/vivavox/vivavox/internal/store/postgres"
	"github.com/vivavox/vivavox/pkg/provider/embeddings"
	ollamaembed "github.com/vivavox/vivavox/pkg/provider/embeddings/ollama"
	oaembed "github.com/vivavox/vivavox/pkg/provider/embeddings/openai"
	"github.com/vivavox/vivavox/pkg/provider/llm"
	"github.com/vivavox/vivavox/pkg/provider/llm/anyllm"
	"github.com/vivavox/vivavox/pkg/provider/stt"
	"github.com/vivavox/vivavox/pkg/provider/stt/deepgram"
	"github.com/vivavox/vivavox/pkg/provider/stt/whisper"
	"github.com/vivavox/vivavox/pkg/provider/tts"
	"github.com/vivavox/vivavox/pkg/provider/tts/coqui"
	"github.com/vivavox/vivavox/pkg/provider/tts/elevenlabs"
	"github.com/vivavox/vivavox/pkg/provider/vad"
	"github.com/vivavox/vivavox/pkg/provider/vad/energy"
)

// version is stamped by the release build via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vivavox: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vivavox: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so a config reload can change it without
	// swapping the handler.
	levelVar := new(slog.LevelVar)
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("vivavox starting",
		"version", version,
		"config_path", *configPath,
		"listen", cfg.Server.ListenAddr,
		"level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetryShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "vivavox",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Capabilities ──────────────────────────────────────────────────────────
	caps, teardown, err := buildCapabilities(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build capabilities", "err", err)
		return 1
	}
	defer teardown()

	printStartupSummary(cfg)

	server, err := app.New(cfg, caps, app.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialise server", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		diff := config.Diff(old, new)
		if diff.Empty() {
			return
		}
		if diff.LogLevelChanged {
			levelVar.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if diff.DetectorChanged || diff.ExamChanged {
			server.UpdateConfig(new)
			slog.Info("detector/exam settings reloaded, applied to new connections")
		}
		if diff.RestartRequired {
			slog.Warn("config sections changed that require a restart", "sections", diff.RestartSections)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("accepting exam connections, Ctrl+C stops the server")

	if err := server.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("serve error", "err", err)
		return 1
	}
	slog.Info("shutdown complete")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmBackends are the hosted and local model APIs reachable through the
// any-llm client. Ollama ignores the API key and uses BaseURL for its server
// address.
var anyllmBackends = []string{
	"openai", "anthropic", "gemini", "deepseek",
	"mistral", "groq", "ollama", "llamacpp", "llamafile",
}

// appendIf grows opts with opt when cond holds. Keeps the option lists in the
// factories below readable.
func appendIf[T any](opts []T, cond bool, opt T) []T {
	if cond {
		return append(opts, opt)
	}
	return opts
}

// registerBuiltinProviders wires every factory that ships with vivavox into
// reg. Factories run lazily, only for the providers the config names.
func registerBuiltinProviders(reg *config.Registry) {
	for _, backend := range anyllmBackends {
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			opts = appendIf(opts, entry.APIKey != "", anyllmlib.WithAPIKey(entry.APIKey))
			opts = appendIf(opts, entry.BaseURL != "", anyllmlib.WithBaseURL(entry.BaseURL))
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		lang := optString(entry.Options, "language")
		var opts []deepgram.Option
		opts = appendIf(opts, entry.Model != "", deepgram.WithModel(entry.Model))
		opts = appendIf(opts, lang != "", deepgram.WithLanguage(lang))
		opts = appendIf(opts, entry.BaseURL != "", deepgram.WithEndpoint(entry.BaseURL))
		return deepgram.New(entry.APIKey, opts...)
	})
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		lang := optString(entry.Options, "language")
		var opts []whisper.Option
		opts = appendIf(opts, entry.Model != "", whisper.WithModel(entry.Model))
		opts = appendIf(opts, lang != "", whisper.WithLanguage(lang))
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		format := optString(entry.Options, "output_format")
		var opts []elevenlabs.Option
		opts = appendIf(opts, entry.Model != "", elevenlabs.WithModel(entry.Model))
		opts = appendIf(opts, format != "", elevenlabs.WithOutputFormat(format))
		return elevenlabs.New(entry.APIKey, opts...)
	})
	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		lang := optString(entry.Options, "language")
		mode := optString(entry.Options, "api_mode")
		var opts []coqui.Option
		opts = appendIf(opts, lang != "", coqui.WithLanguage(lang))
		opts = appendIf(opts, mode != "", coqui.WithAPIMode(coqui.APIMode(mode)))
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		opts = appendIf(opts, entry.BaseURL != "", oaembed.WithBaseURL(entry.BaseURL))
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})
	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})
}

// makeProvider runs a registry factory for the named provider. An
// unregistered name is skipped with a debug log rather than failing startup,
// so a config written for a build with more providers still boots.
func makeProvider[T any](kind string, entry config.ProviderEntry, create func(config.ProviderEntry) (T, error)) (p T, ok bool, err error) {
	p, err = create(entry)
	switch {
	case errors.Is(err, config.ErrProviderNotRegistered):
		slog.Debug("provider not registered, skipping", "kind", kind, "name", entry.Name)
		return p, false, nil
	case err != nil:
		return p, false, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, true, nil
}

// buildCapabilities instantiates the providers named in cfg, selects the
// persistence layer and question source, and assembles the evaluator chain.
// The returned teardown closes whatever was opened (currently the postgres
// pool) and is safe to call once.
func buildCapabilities(ctx context.Context, cfg *config.Config, reg *config.Registry) (app.Capabilities, func(), error) {
	caps := app.Capabilities{}
	teardown := func() {}

	// ── Speech providers ──────────────────────────────────────────────────────
	if entry := cfg.Providers.STT; entry.Name != "" {
		p, ok, err := makeProvider("stt", entry, reg.CreateSTT)
		if err != nil {
			return caps, teardown, err
		}
		if ok {
			caps.STT = resilience.NewSTTFallback(p, entry.Name, resilience.FallbackConfig{})
		}
	}

	if entry := cfg.Providers.TTS; entry.Name != "" {
		p, ok, err := makeProvider("tts", entry, reg.CreateTTS)
		if err != nil {
			return caps, teardown, err
		}
		if ok {
			caps.TTS = resilience.NewTTSFallback(p, entry.Name, resilience.FallbackConfig{})
			caps.Voice = voiceProfile(entry)
		}
	}

	// ── Detector ──────────────────────────────────────────────────────────────
	// The built-in energy detector is the default when none is configured;
	// without a detector the server would accept text answers only.
	vadEntry := cfg.Providers.VAD
	if vadEntry.Name == "" {
		vadEntry.Name = "energy"
	}
	detector, ok, err := makeProvider("vad", vadEntry, reg.CreateVAD)
	if err != nil {
		return caps, teardown, err
	}
	if !ok {
		slog.Warn("unknown detector, speech segmentation disabled", "name", vadEntry.Name)
	} else {
		caps.Detector = detector
	}

	// ── Evaluator chain ───────────────────────────────────────────────────────
	var llmProvider llm.Provider
	if entry := cfg.Providers.LLM; entry.Name != "" {
		p, ok, err := makeProvider("llm", entry, reg.CreateLLM)
		if err != nil {
			return caps, teardown, err
		}
		if ok {
			llmProvider = p
		}
	}

	var embeddingsProvider embeddings.Provider
	if entry := cfg.Providers.Embeddings; entry.Name != "" {
		p, ok, err := makeProvider("embeddings", entry, reg.CreateEmbeddings)
		if err != nil {
			return caps, teardown, err
		}
		if ok {
			embeddingsProvider = p
		}
	}

	caps.Evaluator = buildEvaluator(llmProvider, embeddingsProvider)

	// ── Persistence ───────────────────────────────────────────────────────────
	var pg *pgstore.Store
	if dsn := cfg.Database.PostgresDSN; dsn != "" {
		pg, err = pgstore.NewStore(ctx, dsn, cfg.Database.EmbeddingDimensions)
		if err != nil {
			return caps, teardown, fmt.Errorf("connect to postgres: %w", err)
		}
		caps.Store = pg
		teardown = pg.Close
		slog.Info("persistence", "backend", "postgres")
	} else {
		caps.Store = store.NewMemory()
		slog.Info("persistence", "backend", "memory")
	}

	// ── Question source ───────────────────────────────────────────────────────
	// A YAML question directory wins when configured; otherwise questions are
	// served from the postgres bank.
	switch {
	case cfg.Exam.QuestionDir != "":
		bank := exam.NewBank()
		n, err := bank.LoadDir(cfg.Exam.QuestionDir)
		if err != nil {
			teardown()
			return caps, func() {}, fmt.Errorf("load question bank from %q: %w", cfg.Exam.QuestionDir, err)
		}
		caps.Questions = bank
		slog.Info("question bank loaded", "dir", cfg.Exam.QuestionDir, "questions", n)
	case pg != nil:
		caps.Questions = pg
		slog.Info("question bank served from postgres")
	default:
		teardown()
		return caps, func() {}, errors.New("no question source: set exam.question_dir or database.postgres_dsn")
	}

	return caps, teardown, nil
}

// buildEvaluator assembles the answer evaluation chain. The keyword evaluator
// is deterministic and always present; LLM and semantic evaluators sit in
// front of it behind circuit breakers so a provider outage degrades scoring
// instead of failing turns.
func buildEvaluator(llmProvider llm.Provider, embeddingsProvider embeddings.Provider) exam.Evaluator {
	keyword := exam.NewKeywordEvaluator()

	switch {
	case llmProvider != nil:
		chain := resilience.NewEvaluatorFallback(exam.NewLLMEvaluator(llmProvider), "llm", resilience.FallbackConfig{})
		if embeddingsProvider != nil {
			chain.AddFallback("semantic", exam.NewSemanticEvaluator(embeddingsProvider))
		}
		chain.AddFallback("keyword", keyword)
		slog.Info("evaluator chain", "primary", "llm", "semantic", embeddingsProvider != nil)
		return chain
	case embeddingsProvider != nil:
		chain := resilience.NewEvaluatorFallback(exam.NewSemanticEvaluator(embeddingsProvider), "semantic", resilience.FallbackConfig{})
		chain.AddFallback("keyword", keyword)
		slog.Info("evaluator chain", "primary", "semantic")
		return chain
	default:
		slog.Info("evaluator chain", "primary", "keyword")
		return keyword
	}
}

// voiceProfile derives the examiner voice from the TTS provider entry.
func voiceProfile(entry config.ProviderEntry) tts.VoiceProfile {
	return tts.VoiceProfile{
		ID:          optString(entry.Options, "voice_id"),
		Name:        optString(entry.Options, "voice_name"),
		Provider:    entry.Name,
		PitchShift:  optFloat(entry.Options, "pitch_shift"),
		SpeedFactor: optFloat(entry.Options, "speed_factor"),
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	backend := "memory"
	if cfg.Database.PostgresDSN != "" {
		backend = "postgres"
	}

	rows := []struct{ label, value string }{
		{"STT", providerLabel(cfg.Providers.STT)},
		{"TTS", providerLabel(cfg.Providers.TTS)},
		{"LLM", providerLabel(cfg.Providers.LLM)},
		{"Embeddings", providerLabel(cfg.Providers.Embeddings)},
		{"VAD", orDefault(cfg.Providers.VAD.Name, "energy")},
		{"Database", backend},
		{"Questions/exam", fmt.Sprintf("%d", cfg.Exam.TotalQuestions)},
		{"Barge-in", fmt.Sprintf("%t", cfg.Exam.EnableBargeIn)},
	}
	if cfg.Server.ListenAddr != "" {
		rows = append(rows, struct{ label, value string }{"Listen addr", cfg.Server.ListenAddr})
	}

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         vivavox — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	for _, row := range rows {
		value := row.value
		if len([]rune(value)) > 19 {
			value = string([]rune(value)[:16]) + "…"
		}
		fmt.Printf("║  %-16s: %-19s ║\n", row.label, value)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(entry config.ProviderEntry) string {
	switch {
	case entry.Name == "":
		return "(not configured)"
	case entry.Model != "":
		return entry.Name + " / " + entry.Model
	default:
		return entry.Name
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString reads a string from a provider Options map. Missing keys and
// non-string values yield "".
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat reads a number from a provider Options map. YAML decodes numbers
// as int or float64 depending on the literal.
func optFloat(opts map[string]any, key string) float64 {
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
