// Package app assembles the extraction pipeline from configuration. Both
// the HTTP service and the CLI build through it.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"

	"github.com/dgallion1/quizgest/internal/cache"
	"github.com/dgallion1/quizgest/internal/config"
	"github.com/dgallion1/quizgest/internal/extract"
	"github.com/dgallion1/quizgest/internal/netcheck"
	"github.com/dgallion1/quizgest/internal/ocr"
	"github.com/dgallion1/quizgest/internal/pipeline"
	"github.com/dgallion1/quizgest/internal/render"
)

// App holds the long-lived pieces of one process.
type App struct {
	Config config.Config
	Log    *slog.Logger
	Cache  *cache.Store
	Model  *pipeline.ModelClient
	Worker *pipeline.Worker

	closers []func()
}

// NewLogger returns a JSON or text slog logger at the configured level.
func NewLogger(w io.Writer, json bool, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// New wires every collaborator. cfg must already be validated.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	store, err := cache.New(cfg.CacheDir, cfg.PublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("open image cache: %w", err)
	}

	gen, closeGen, err := NewGenerator(ctx, cfg)
	if err != nil {
		return nil, err
	}

	model := pipeline.NewModelClient(gen, pipeline.RetryPolicy{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.RetryInitialBackoff,
	}, extract.NewLLMStats(0), log)

	worker := pipeline.NewWorker(pipeline.Deps{
		Checker:    NewChecker(cfg),
		Recognizer: NewRecognizer(cfg, log),
		Model:      model,
		Healer:     extract.NewHealer(store, log),
		Render:     render.Options{DPI: cfg.RenderDPI, MaxPages: cfg.MaxPages, Log: log},
		BatchSize:  cfg.BatchSize,
		Log:        log,
	})

	log.Info("pipeline configured",
		"model_provider", cfg.ModelProvider, "model", gen.Model(),
		"ocr_provider", cfg.OCRProvider, "batch_size", cfg.BatchSize,
		"cache_dir", store.Dir())

	return &App{
		Config:  cfg,
		Log:     log,
		Cache:   store,
		Model:   model,
		Worker:  worker,
		closers: []func(){closeGen},
	}, nil
}

// NewOrchestrator builds the job queue for the HTTP service.
func (a *App) NewOrchestrator() *pipeline.Orchestrator {
	return pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		WorkerCount:  a.Config.WorkerCount,
		MaxQueueSize: a.Config.MaxQueueSize,
		JobTTL:       a.Config.JobTTL,
	}, a.Worker, a.Cache, a.Log)
}

// Close releases client resources.
func (a *App) Close() {
	for _, fn := range a.closers {
		fn()
	}
}

// NewGenerator returns the model backend named by cfg.ModelProvider and a
// func releasing it.
func NewGenerator(ctx context.Context, cfg config.Config) (extract.Generator, func(), error) {
	switch cfg.ModelProvider {
	case config.ProviderGemini:
		c, err := extract.NewGeminiClient(ctx, extract.GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			Timeout: cfg.ModelTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return c, func() {}, nil
	case config.ProviderClaude:
		c := extract.NewClaudeClient(cfg.AnthropicAPIKey, cfg.AnthropicModel).WithTimeout(cfg.ModelTimeout)
		return c, c.Close, nil
	case config.ProviderOpenAI:
		c := extract.NewOpenAIClient(extract.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
			Timeout: cfg.ModelTimeout,
		})
		return c, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown model provider %q", cfg.ModelProvider)
	}
}

// NewRecognizer builds the OCR chain: the configured engine wrapped in
// retries, behind the text layer when OCRTextLayerFirst is set.
func NewRecognizer(cfg config.Config, log *slog.Logger) ocr.Recognizer {
	var engine ocr.Recognizer
	switch cfg.OCRProvider {
	case config.OCRTesseract:
		engine = &ocr.Tesseract{Path: cfg.TesseractPath, Language: cfg.TesseractLang}
	case config.OCRMistral:
		engine = ocr.NewMistral(ocr.MistralConfig{
			APIKey: cfg.MistralAPIKey,
			Model:  cfg.MistralOCRModel,
		})
	default:
		return ocr.TextLayer{}
	}

	engine = &ocr.Retrying{
		Next:     engine,
		Attempts: cfg.MaxRetries,
		Delay:    cfg.RetryInitialBackoff,
		Log:      log,
	}
	if cfg.OCRTextLayerFirst {
		return &ocr.Tiered{Fallback: engine, MinChars: 20}
	}
	return engine
}

// NewChecker probes the model endpoint before each run.
func NewChecker(cfg config.Config) netcheck.Checker {
	return netcheck.Dialer{Addr: ConnectivityAddr(cfg), Timeout: cfg.ConnectivityTimeout}
}

// ConnectivityAddr is CONNECTIVITY_ADDR, or the host the model provider
// will be called on.
func ConnectivityAddr(cfg config.Config) string {
	if cfg.ConnectivityAddr != "" {
		return cfg.ConnectivityAddr
	}
	if cfg.ModelProvider == config.ProviderOpenAI && cfg.OpenAIBaseURL != "" {
		if u, err := url.Parse(cfg.OpenAIBaseURL); err == nil && u.Hostname() != "" {
			port := u.Port()
			if port == "" {
				port = "443"
				if u.Scheme == "http" {
					port = "80"
				}
			}
			return net.JoinHostPort(u.Hostname(), port)
		}
	}
	return netcheck.HostFor(cfg.ModelProvider)
}
