package extract

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const DefaultOpenAIModel = "gpt-4o"

// OpenAIConfig holds configuration for any OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OpenAIClient calls the Chat Completions API with image content parts.
type OpenAIClient struct {
	client openai.Client
	model  string
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 180 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIClient{client: openai.NewClient(opts...), model: cfg.Model}
}

func (c *OpenAIClient) Model() string { return c.model }

func (c *OpenAIClient) Generate(ctx context.Context, prompt *Prompt) (string, error) {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(prompt.Parts))
	for _, p := range prompt.Parts {
		if p.IsImage() {
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: "data:" + p.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(p.Image),
			}))
			continue
		}
		parts = append(parts, openai.TextContentPart(p.Text))
	}

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(parts)},
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			if overloadStatus(apiErr.StatusCode) {
				return "", &RetryableError{StatusCode: apiErr.StatusCode, Message: apiErr.Message}
			}
			return "", fmt.Errorf("openai api status %d: %s", apiErr.StatusCode, apiErr.Message)
		}
		return "", transportError("openai api", err)
	}

	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("empty response from openai")
	}
	choice := completion.Choices[0]
	if choice.Message.Refusal != "" {
		return "", &StoppedError{Reason: "REFUSAL"}
	}
	if choice.FinishReason == "content_filter" {
		return "", &StoppedError{Reason: "CONTENT_FILTER"}
	}
	return choice.Message.Content, nil
}
