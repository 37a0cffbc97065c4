package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dgallion1/quizgest/internal/exam"
	"github.com/dgallion1/quizgest/internal/extract"
)

const (
	MistralBaseURL = "https://api.mistral.ai/v1"
	MistralModel   = "mistral-ocr-latest"
)

// MistralConfig holds configuration for the Mistral OCR client.
type MistralConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Mistral recognizes page text with the Mistral OCR API.
type Mistral struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func NewMistral(cfg MistralConfig) *Mistral {
	if cfg.BaseURL == "" {
		cfg.BaseURL = MistralBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = MistralModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Mistral{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (m *Mistral) Name() string { return "mistral-ocr" }

type mistralRequest struct {
	Model    string          `json:"model"`
	Document mistralDocument `json:"document"`
}

type mistralDocument struct {
	Type     string `json:"type"`
	ImageURL string `json:"image_url"`
}

type mistralResponse struct {
	Model string `json:"model"`
	Pages []struct {
		Index    int    `json:"index"`
		Markdown string `json:"markdown"`
	} `json:"pages"`
}

func (m *Mistral) Recognize(ctx context.Context, page exam.Page) (string, error) {
	data, err := encodePNG(page.Image)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(mistralRequest{
		Model: m.model,
		Document: mistralDocument{
			Type:     "image_url",
			ImageURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(data),
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/ocr", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("mistral ocr: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", &extract.RetryableError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mistral ocr status %d: %s", resp.StatusCode, string(respBody))
	}

	var out mistralResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Pages) == 0 {
		return "", fmt.Errorf("no pages in OCR response")
	}
	return clean(out.Pages[0].Markdown), nil
}
