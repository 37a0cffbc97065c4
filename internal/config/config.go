package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port string `mapstructure:"port"`

	// Auth
	QuizgestAPIKey string `mapstructure:"quizgest_api_key"`

	// Model
	ModelProvider   string        `mapstructure:"model_provider"`
	GeminiAPIKey    string        `mapstructure:"gemini_api_key"`
	GeminiModel     string        `mapstructure:"gemini_model"`
	AnthropicAPIKey string        `mapstructure:"anthropic_api_key"`
	AnthropicModel  string        `mapstructure:"anthropic_model"`
	OpenAIAPIKey    string        `mapstructure:"openai_api_key"`
	OpenAIModel     string        `mapstructure:"openai_model"`
	OpenAIBaseURL   string        `mapstructure:"openai_base_url"`
	ModelTimeout    time.Duration `mapstructure:"model_timeout"`

	// OCR
	OCRProvider       string `mapstructure:"ocr_provider"`
	OCRTextLayerFirst bool   `mapstructure:"ocr_text_layer_first"`
	TesseractPath     string `mapstructure:"tesseract_path"`
	TesseractLang     string `mapstructure:"tesseract_lang"`
	MistralAPIKey     string `mapstructure:"mistral_api_key"`
	MistralOCRModel   string `mapstructure:"mistral_ocr_model"`

	// Extraction
	BatchSize           int           `mapstructure:"batch_size"`
	MaxRetries          uint          `mapstructure:"max_retries"`
	RetryInitialBackoff time.Duration `mapstructure:"retry_initial_backoff"`
	RenderDPI           float64       `mapstructure:"render_dpi"`
	MaxPages            int           `mapstructure:"max_pages"`

	// Diagram cache
	CacheDir      string `mapstructure:"cache_dir"`
	PublicBaseURL string `mapstructure:"public_base_url"`

	// Connectivity probe
	ConnectivityAddr    string        `mapstructure:"connectivity_addr"`
	ConnectivityTimeout time.Duration `mapstructure:"connectivity_timeout"`

	// Worker pool
	WorkerCount  int `mapstructure:"worker_count"`
	MaxQueueSize int `mapstructure:"max_queue_size"`

	// Upload limits
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`

	// Job state
	JobTTL time.Duration `mapstructure:"job_ttl"`

	LogLevel string `mapstructure:"log_level"`
}

// Providers accepted by MODEL_PROVIDER and OCR_PROVIDER.
const (
	ProviderGemini = "gemini"
	ProviderClaude = "claude"
	ProviderOpenAI = "openai"

	OCRTextLayer = "textlayer"
	OCRTesseract = "tesseract"
	OCRMistral   = "mistral"
)

func defaults() map[string]any {
	return map[string]any{
		"port":                  "8090",
		"quizgest_api_key":      "",
		"model_provider":        ProviderGemini,
		"gemini_api_key":        "",
		"gemini_model":          "gemini-2.5-flash",
		"anthropic_api_key":     "",
		"anthropic_model":       "claude-sonnet-4-5-20250929",
		"openai_api_key":        "",
		"openai_model":          "gpt-4o",
		"openai_base_url":       "",
		"model_timeout":         180 * time.Second,
		"ocr_provider":          OCRTextLayer,
		"ocr_text_layer_first":  true,
		"tesseract_path":        "tesseract",
		"tesseract_lang":        "eng",
		"mistral_api_key":       "",
		"mistral_ocr_model":     "mistral-ocr-latest",
		"batch_size":            15,
		"max_retries":           3,
		"retry_initial_backoff": 2 * time.Second,
		"render_dpi":            144.0,
		"max_pages":             300,
		"cache_dir":             defaultCacheDir(),
		"public_base_url":       "",
		"connectivity_addr":     "",
		"connectivity_timeout":  5 * time.Second,
		"worker_count":          2,
		"max_queue_size":        50,
		"max_upload_bytes":      int64(52428800), // 50MB
		"job_ttl":               1 * time.Hour,
		"log_level":             "info",
	}
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "quizgest")
}

// Load reads defaults, then file (if non-empty, or ./quizgest.yaml when
// present), then the environment. Environment names are the upper-cased keys.
func Load(file string) (Config, error) {
	v := viper.New()
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("gemini_api_key", "GEMINI_API_KEY", "GOOGLE_API_KEY"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("quizgest")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.quizgest")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.ModelProvider = strings.ToLower(strings.TrimSpace(cfg.ModelProvider))
	cfg.OCRProvider = strings.ToLower(strings.TrimSpace(cfg.OCRProvider))
	return cfg, nil
}

// Validate checks what every entry point needs.
func (c Config) Validate() error {
	switch c.ModelProvider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required")
		}
	case ProviderClaude:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required")
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required")
		}
	default:
		return fmt.Errorf("unknown MODEL_PROVIDER %q", c.ModelProvider)
	}

	switch c.OCRProvider {
	case OCRTextLayer, OCRTesseract:
	case OCRMistral:
		if c.MistralAPIKey == "" {
			return fmt.Errorf("MISTRAL_API_KEY is required for OCR_PROVIDER=mistral")
		}
	default:
		return fmt.Errorf("unknown OCR_PROVIDER %q", c.OCRProvider)
	}

	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive")
	}
	if c.MaxRetries == 0 {
		return fmt.Errorf("MAX_RETRIES must be positive")
	}
	if c.RetryInitialBackoff <= 0 {
		return fmt.Errorf("RETRY_INITIAL_BACKOFF must be positive")
	}
	if c.RenderDPI <= 0 {
		return fmt.Errorf("RENDER_DPI must be positive")
	}
	return nil
}

// ValidateServer adds the HTTP service requirements to Validate.
func (c Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.QuizgestAPIKey == "" {
		return fmt.Errorf("QUIZGEST_API_KEY is required")
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("WORKER_COUNT must be positive")
	}
	if c.MaxQueueSize <= 0 {
		return fmt.Errorf("MAX_QUEUE_SIZE must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto slog, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
