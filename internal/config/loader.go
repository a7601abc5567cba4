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

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"asr":        {"whisper"},
	"embeddings": {"openai"},
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
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
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.LLMFallback.Name)
	validateProviderName("asr", cfg.Providers.ASR.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Provider availability warnings
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no providers.llm configured; evaluation, compliance auditing, and ASR text correction will be unavailable")
	}
	if cfg.Providers.ASR.Name == "" {
		slog.Warn("no providers.asr configured; transcript tasks will be unavailable")
	}

	// Embeddings ↔ memory dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Memory.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but memory.embedding_dimensions is not set; defaulting to 1536")
	}

	// Memory availability
	if cfg.Memory.PostgresDSN != "" && cfg.Providers.Embeddings.Name == "" {
		slog.Warn("memory.postgres_dsn is set but providers.embeddings is not configured; reports will be archived without semantic indexing")
	}

	// LLM concurrency/retry bounds
	if cfg.Providers.LLM.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("providers.llm.max_concurrency must be >= 0, got %d", cfg.Providers.LLM.MaxConcurrency))
	}
	if cfg.Providers.LLM.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("providers.llm.max_retries must be >= 0, got %d", cfg.Providers.LLM.MaxRetries))
	}

	// Pipeline
	if cfg.Pipeline.UploadDir == "" {
		errs = append(errs, errors.New("pipeline.upload_dir is required"))
	}
	if cfg.Pipeline.TaskTimeout != "" {
		if _, err := time.ParseDuration(cfg.Pipeline.TaskTimeout); err != nil {
			errs = append(errs, fmt.Errorf("pipeline.task_timeout %q is not a valid duration: %w", cfg.Pipeline.TaskTimeout, err))
		}
	}
	if cfg.Pipeline.MaxInMemory < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_in_memory must be >= 0, got %d", cfg.Pipeline.MaxInMemory))
	}
	if k := cfg.Pipeline.KeyframeStrategy; k != "" && k != "interval" && k != "scene" {
		errs = append(errs, fmt.Errorf("pipeline.keyframe_strategy %q is invalid; valid values: interval, scene", k))
	}

	// Compliance
	if cfg.Compliance.RulesFile == "" {
		slog.Warn("compliance.rules_file is empty; compliance auditing will run with no rules loaded")
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
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
