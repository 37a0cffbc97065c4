package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dgallion1/quizgest/internal/config"
	"github.com/dgallion1/quizgest/internal/ocr"
)

func testConfig(t *testing.T) config.Config {
	return config.Config{
		ModelProvider:       config.ProviderClaude,
		AnthropicAPIKey:     "sk-test",
		OCRProvider:         config.OCRTextLayer,
		BatchSize:           15,
		MaxRetries:          3,
		RetryInitialBackoff: 2 * time.Second,
		RenderDPI:           144,
		CacheDir:            t.TempDir(),
		WorkerCount:         1,
		MaxQueueSize:        4,
		JobTTL:              time.Hour,
	}
}

func TestNewGenerator(t *testing.T) {
	tests := []struct {
		provider string
		setKey   func(*config.Config)
		model    string
	}{
		{config.ProviderClaude, func(c *config.Config) { c.AnthropicAPIKey = "a"; c.AnthropicModel = "claude-x" }, "claude-x"},
		{config.ProviderOpenAI, func(c *config.Config) { c.OpenAIAPIKey = "o"; c.OpenAIModel = "gpt-x" }, "gpt-x"},
		{config.ProviderGemini, func(c *config.Config) { c.GeminiAPIKey = "g"; c.GeminiModel = "gemini-x" }, "gemini-x"},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.ModelProvider = tt.provider
			tt.setKey(&cfg)
			gen, closeFn, err := NewGenerator(context.Background(), cfg)
			if err != nil {
				t.Fatalf("NewGenerator: %v", err)
			}
			defer closeFn()
			if gen.Model() != tt.model {
				t.Errorf("Model() = %q, want %q", gen.Model(), tt.model)
			}
		})
	}

	cfg := testConfig(t)
	cfg.ModelProvider = "nope"
	if _, _, err := NewGenerator(context.Background(), cfg); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestNewRecognizer(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := testConfig(t)
	if _, ok := NewRecognizer(cfg, log).(ocr.TextLayer); !ok {
		t.Error("textlayer provider should use the text layer only")
	}

	cfg.OCRProvider = config.OCRTesseract
	cfg.OCRTextLayerFirst = true
	tiered, ok := NewRecognizer(cfg, log).(*ocr.Tiered)
	if !ok {
		t.Fatal("expected tiered recognizer")
	}
	if _, ok := tiered.Fallback.(*ocr.Retrying); !ok {
		t.Errorf("expected retrying fallback, got %T", tiered.Fallback)
	}

	cfg.OCRProvider = config.OCRMistral
	cfg.OCRTextLayerFirst = false
	if _, ok := NewRecognizer(cfg, log).(*ocr.Retrying); !ok {
		t.Error("expected retrying mistral recognizer")
	}
}

func TestConnectivityAddr(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{"explicit", config.Config{ConnectivityAddr: "1.1.1.1:53", ModelProvider: config.ProviderGemini}, "1.1.1.1:53"},
		{"gemini", config.Config{ModelProvider: config.ProviderGemini}, "generativelanguage.googleapis.com:443"},
		{"claude", config.Config{ModelProvider: config.ProviderClaude}, "api.anthropic.com:443"},
		{"openai", config.Config{ModelProvider: config.ProviderOpenAI}, "api.openai.com:443"},
		{"openai base url", config.Config{ModelProvider: config.ProviderOpenAI, OpenAIBaseURL: "http://localhost:11434/v1"}, "localhost:11434"},
		{"openai https default port", config.Config{ModelProvider: config.ProviderOpenAI, OpenAIBaseURL: "https://llm.example.com/v1"}, "llm.example.com:443"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConnectivityAddr(tt.cfg); got != tt.want {
				t.Errorf("ConnectivityAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.Model.Model() == "" {
		t.Error("expected a model name")
	}
	orch := a.NewOrchestrator()
	if orch.QueueDepth() != 0 {
		t.Errorf("new queue should be empty, got %d", orch.QueueDepth())
	}
}
