package extract

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
)

const (
	DefaultClaudeModel = "claude-sonnet-4-5-20250929"
	anthropicBaseURL   = "https://api.anthropic.com"
)

// ClaudeClient calls the Anthropic Messages API.
type ClaudeClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

func NewClaudeClient(apiKey, model string) *ClaudeClient {
	if model == "" {
		model = DefaultClaudeModel
	}
	return &ClaudeClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: anthropicBaseURL,
		httpClient: &http.Client{
			Timeout: 180 * time.Second,
		},
	}
}

// WithBaseURL points the client at a different endpoint.
func (c *ClaudeClient) WithBaseURL(u string) *ClaudeClient {
	c.baseURL = strings.TrimSuffix(u, "/")
	return c
}

// WithTimeout bounds each request.
func (c *ClaudeClient) WithTimeout(d time.Duration) *ClaudeClient {
	if d > 0 {
		c.httpClient.Timeout = d
	}
	return c
}

func (c *ClaudeClient) Model() string { return c.model }

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicBlock struct {
	Type   string                `json:"type"`
	Text   string                `json:"text,omitempty"`
	Source *anthropicImageSource `json:"source,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends the prompt as a single user turn of text and image blocks.
func (c *ClaudeClient) Generate(ctx context.Context, prompt *Prompt) (string, error) {
	blocks := make([]anthropicBlock, 0, len(prompt.Parts))
	for _, p := range prompt.Parts {
		if p.IsImage() {
			blocks = append(blocks, anthropicBlock{
				Type: "image",
				Source: &anthropicImageSource{
					Type:      "base64",
					MediaType: p.MIMEType,
					Data:      base64.StdEncoding.EncodeToString(p.Image),
				},
			})
			continue
		}
		blocks = append(blocks, anthropicBlock{Type: "text", Text: p.Text})
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     c.model,
		MaxTokens: 16384,
		Messages:  []anthropicMessage{{Role: "user", Content: blocks}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", transportError("claude api", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if overloadStatus(resp.StatusCode) {
		return "", &RetryableError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("claude api status %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil {
		if apiResp.Error.Type == "overloaded_error" {
			return "", &RetryableError{StatusCode: 529, Message: apiResp.Error.Message}
		}
		return "", fmt.Errorf("claude error: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	if apiResp.StopReason == "refusal" {
		return "", &StoppedError{Reason: "REFUSAL"}
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty response from claude")
	}
	return sb.String(), nil
}

// Close releases resources.
func (c *ClaudeClient) Close() {
	c.httpClient.CloseIdleConnections()
}
