package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string // override for tests and proxies
	Timeout time.Duration
}

// GeminiClient calls the Gemini API through the genai SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 180 * time.Second
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: cfg.Model}, nil
}

func (c *GeminiClient) Model() string { return c.model }

func (c *GeminiClient) Generate(ctx context.Context, prompt *Prompt) (string, error) {
	parts := make([]*genai.Part, 0, len(prompt.Parts))
	for _, p := range prompt.Parts {
		if p.IsImage() {
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: p.MIMEType, Data: p.Image}})
			continue
		}
		parts = append(parts, &genai.Part{Text: p.Text})
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", classifyGeminiError(err)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", &StoppedError{Reason: string(resp.PromptFeedback.BlockReason)}
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("empty response from gemini")
	}
	cand := resp.Candidates[0]
	if reason := string(cand.FinishReason); reason != "" && reason != "STOP" {
		return "", &StoppedError{Reason: reason}
	}
	if cand.Content == nil {
		return "", fmt.Errorf("gemini candidate has no content")
	}

	var sb strings.Builder
	for _, p := range cand.Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if overloadStatus(apiErr.Code) {
			return &RetryableError{StatusCode: apiErr.Code, Message: apiErr.Message}
		}
		return fmt.Errorf("gemini api status %d (%s): %s", apiErr.Code, apiErr.Status, apiErr.Message)
	}
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "overloaded") || strings.Contains(lower, "resource exhausted") {
		return &RetryableError{StatusCode: http.StatusServiceUnavailable, Message: err.Error()}
	}
	return transportError("gemini api", err)
}
