// Command copernicus is the main entry point for the copernicus
// compliance-transcription server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/copernicus-go/copernicus/internal/api"
	"github.com/copernicus-go/copernicus/internal/audio"
	"github.com/copernicus-go/copernicus/internal/compliance"
	"github.com/copernicus-go/copernicus/internal/config"
	"github.com/copernicus-go/copernicus/internal/evaluate"
	"github.com/copernicus-go/copernicus/internal/health"
	"github.com/copernicus-go/copernicus/internal/modelmanager"
	"github.com/copernicus-go/copernicus/internal/persistence"
	"github.com/copernicus-go/copernicus/internal/pipeline"
	"github.com/copernicus-go/copernicus/internal/resilience"
	"github.com/copernicus-go/copernicus/internal/taskstore"
	"github.com/copernicus-go/copernicus/internal/transcript"
	"github.com/copernicus-go/copernicus/internal/transcript/llmcorrect"
	"github.com/copernicus-go/copernicus/pkg/asr"
	"github.com/copernicus-go/copernicus/pkg/asr/whisper"
	"github.com/copernicus-go/copernicus/pkg/provider/embeddings"
	embeddingsopenai "github.com/copernicus-go/copernicus/pkg/provider/embeddings/openai"
	"github.com/copernicus-go/copernicus/pkg/provider/llm"
	"github.com/copernicus-go/copernicus/pkg/provider/llm/anyllm"
	llmopenai "github.com/copernicus-go/copernicus/pkg/provider/llm/openai"
)

// textCorrectionConfidenceThreshold is the ASR confidence every segment must
// reach for TextCorrectionStage to skip text correction altogether.
const textCorrectionConfidenceThreshold = 0.95

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
			fmt.Fprintf(os.Stderr, "copernicus: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "copernicus: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("copernicus starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	llmProvider, asrEngine, embeddingsProvider, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Persistence ───────────────────────────────────────────────────────────
	store, err := persistence.New(cfg.Pipeline.UploadDir, logger)
	if err != nil {
		slog.Error("failed to initialise persistence store", "err", err)
		return 1
	}

	// modelmanager enforces single-GPU residency for heavy vision models.
	// No loaders are registered yet: OCR and face-detection have no
	// concrete implementation shipped, only the collaborator interfaces
	// the pipeline stages accept.
	_ = modelmanager.New(logger)

	// ── Transcript correction pipeline ───────────────────────────────────────
	var hotwordRules []transcript.HotwordRule
	if cfg.Compliance.HotwordsFile != "" {
		hotwordRules, err = transcript.LoadHotwords(cfg.Compliance.HotwordsFile)
		if err != nil {
			slog.Error("failed to load hotwords file", "path", cfg.Compliance.HotwordsFile, "err", err)
			return 1
		}
	}

	textCorrectionOpts := []transcript.PipelineOption{
		transcript.WithLogger(logger),
		transcript.WithCSCModel(transcript.NoopCSC{}),
	}
	if len(hotwordRules) > 0 {
		textCorrectionOpts = append(textCorrectionOpts, transcript.WithHotwordReplacer(transcript.NewReplacer(hotwordRules)))
	}
	if llmProvider != nil {
		corrector := llmcorrect.New(llmProvider)
		textCorrectionOpts = append(textCorrectionOpts, transcript.WithLLMCorrector(corrector))
	}
	textPipeline := transcript.NewPipeline(textCorrectionOpts...)

	// ── Audio/video preprocessing ─────────────────────────────────────────────
	audioEnhance := cfg.Pipeline.AudioEnhance
	preprocessor := audio.New(cfg.Pipeline.UploadDir, audio.WithAudioEnhance(audioEnhance))

	videoExts := cfg.Pipeline.VideoExts
	if len(videoExts) == 0 {
		videoExts = []string{".mp4", ".mov", ".avi", ".mkv", ".webm"}
	}

	// ── Orchestrator stages ───────────────────────────────────────────────────
	var stages []pipeline.Stage
	stages = append(stages, pipeline.NewVideoPreprocessStage(preprocessor, store, videoExts))
	stages = append(stages, pipeline.NewAudioPreprocessStage(preprocessor))

	if asrEngine != nil {
		var asrLock sync.Mutex
		stages = append(stages, pipeline.NewASRTranscribeStage(asrEngine, &asrLock, true))
	}

	// OCR and face detection have no concrete collaborator implementation in
	// this deployment; the stages are wired disabled so a future
	// implementation can be dropped in without touching the orchestrator.
	stages = append(stages, pipeline.NewOCRScanStage(nil, store, false))
	stages = append(stages, pipeline.NewFaceDetectStage(nil, store, false, 2000))

	var keyframeOpts []pipeline.KeyframeOption
	if cfg.Pipeline.KeyframeStrategy != "" {
		keyframeOpts = append(keyframeOpts, pipeline.WithKeyframeStrategy(pipeline.KeyframeStrategy(cfg.Pipeline.KeyframeStrategy)))
	}
	stages = append(stages, pipeline.NewKeyframeExtractStage(store, keyframeOpts...))

	stages = append(stages, pipeline.NewSpeakerSmoothStage(1500, 500, logger))
	stages = append(stages, pipeline.NewTextCorrectionStage(textPipeline, textCorrectionConfidenceThreshold))
	stages = append(stages, pipeline.NewTranscriptBuildStage(logger))

	orchestrator := pipeline.New(logger, stages...)

	// ── Evaluation and compliance engines ─────────────────────────────────────
	var evaluator *evaluate.Engine
	var complianceEngine *compliance.Engine
	if llmProvider != nil {
		evaluator = evaluate.NewEngine(llmProvider, evaluate.WithLogger(logger))
		complianceEngine = compliance.NewEngine(llmProvider, compliance.WithLogger(logger))
	} else {
		slog.Warn("no LLM provider configured; evaluation and compliance auditing are disabled")
	}

	// ── Task store ────────────────────────────────────────────────────────────
	taskstoreOpts := []taskstore.Option{taskstore.WithLogger(logger), taskstore.WithVideoExts(videoExts)}
	if cfg.Pipeline.TaskTimeout != "" {
		if d, parseErr := time.ParseDuration(cfg.Pipeline.TaskTimeout); parseErr == nil {
			taskstoreOpts = append(taskstoreOpts, taskstore.WithTaskTimeout(d))
		}
	}
	if cfg.Pipeline.MaxInMemory > 0 {
		taskstoreOpts = append(taskstoreOpts, taskstore.WithMaxInMemory(cfg.Pipeline.MaxInMemory))
	}
	taskStore := taskstore.New(orchestrator, store, evaluator, complianceEngine, taskstoreOpts...)

	// ── HTTP server ───────────────────────────────────────────────────────────
	apiServer := api.New(taskStore, store, nil, logger)

	var checkers []health.Checker
	if llmProvider != nil {
		checkers = append(checkers, health.Checker{
			Name: "llm",
			Check: func(ctx context.Context) error {
				return llmProvider.IsReachable(ctx)
			},
		})
	}
	if embeddingsProvider != nil {
		checkers = append(checkers, health.Checker{
			Name: "embeddings",
			Check: func(ctx context.Context) error {
				_, err := embeddingsProvider.Embed(ctx, "health check")
				return err
			},
		})
	}
	healthHandler := health.New(checkers...)

	mux := http.NewServeMux()
	healthHandler.Register(mux)
	mux.Handle("/", apiServer.Routes())

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	httpServer := &http.Server{Addr: listenAddr, Handler: mux}

	// ── Run ───────────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with copernicus. Used for startup logging.
var builtinProviders = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"asr":        {"whisper"},
	"embeddings": {"openai"},
}

// registerBuiltinProviders registers the concrete constructors for every
// provider name copernicus ships with.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(e.BaseURL))
		}
		return llmopenai.New(e.APIKey, e.Model, opts...)
	})
	for _, name := range []string{"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"} {
		reg.RegisterLLM(name, func(e config.ProviderEntry) (llm.Provider, error) {
			opts := anyllmOptions(e)
			return anyllm.New(name, e.Model, opts...)
		})
	}

	reg.RegisterASR("whisper", func(e config.ProviderEntry) (asr.Engine, error) {
		language := "auto"
		if l, ok := e.Options["language"].(string); ok && l != "" {
			language = l
		}
		return whisper.New(e.Model, language)
	})

	reg.RegisterEmbeddings("openai", func(e config.ProviderEntry) (embeddings.Provider, error) {
		var opts []embeddingsopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, embeddingsopenai.WithBaseURL(e.BaseURL))
		}
		return embeddingsopenai.New(e.APIKey, e.Model, opts...)
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// anyllmOptions translates a [config.ProviderEntry] into any-llm-go options.
func anyllmOptions(e config.ProviderEntry) []anyllmlib.Option {
	var opts []anyllmlib.Option
	if e.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
	}
	if e.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
	}
	return opts
}

// buildProviders instantiates the configured LLM, ASR, and embeddings
// providers. An unset provider name means the corresponding feature is
// disabled for this deployment rather than an error; an unregistered
// provider name (a typo, or a name copernicus hasn't shipped yet) is a
// startup failure.
func buildProviders(cfg *config.Config, reg *config.Registry) (llm.Provider, asr.Engine, embeddings.Provider, error) {
	var llmProvider llm.Provider
	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM.ProviderEntry)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		if cfg.Providers.LLM.MaxConcurrency > 0 || cfg.Providers.LLM.MaxRetries > 0 {
			limiter := llm.NewLimiter(cfg.Providers.LLM.MaxConcurrency, cfg.Providers.LLM.MaxRetries, time.Second)
			p = limiter.Wrap(p)
		}
		llmProvider = p
		slog.Info("provider created", "kind", "llm", "name", name)

		if fbName := cfg.Providers.LLMFallback.Name; fbName != "" {
			fb, err := reg.CreateLLM(cfg.Providers.LLMFallback.ProviderEntry)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("create llm_fallback provider %q: %w", fbName, err)
			}
			group := resilience.NewLLMFallback(llmProvider, name, resilience.FallbackConfig{
				CircuitBreaker: resilience.CircuitBreakerConfig{Name: name, MaxFailures: 5},
			})
			group.AddFallback(fbName, fb)
			llmProvider = group
			slog.Info("provider created", "kind", "llm_fallback", "name", fbName)
		}
	}

	var asrEngine asr.Engine
	if name := cfg.Providers.ASR.Name; name != "" {
		e, err := reg.CreateASR(cfg.Providers.ASR)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create asr provider %q: %w", name, err)
		}
		asrEngine = e
		slog.Info("provider created", "kind", "asr", "name", name)
	}

	var embeddingsProvider embeddings.Provider
	if name := cfg.Providers.Embeddings.Name; name != "" {
		e, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		embeddingsProvider = e
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	return llmProvider, asrEngine, embeddingsProvider, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
