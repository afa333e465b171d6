package chat

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/k3a/html2text"

	"github.com/cropscan/cropscan/internal/conf"
	"github.com/cropscan/cropscan/internal/errors"
)

const (
	defaultModel        = "gpt-4o-mini"
	defaultMaxTokens    = 300
	defaultSystemPrompt = "You are an expert agronomist. Give short, actionable advice."
	defaultBaseURL      = "https://api.openai.com"
	defaultTimeout      = 25 * time.Second
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type completionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// OpenAIClient calls an OpenAI compatible chat completions endpoint.
type OpenAIClient struct {
	client       *resty.Client
	model        string
	maxTokens    int
	systemPrompt string
}

// NewOpenAIClient returns nil when no API key is configured.
func NewOpenAIClient(settings *conf.ChatSettings) *OpenAIClient {
	if settings.APIKey == "" {
		return nil
	}

	base := strings.TrimRight(settings.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &OpenAIClient{
		client: resty.New().
			SetBaseURL(base).
			SetTimeout(timeout).
			SetAuthToken(settings.APIKey).
			SetHeader("Content-Type", "application/json"),
		model:        settings.Model,
		maxTokens:    settings.MaxTokens,
		systemPrompt: settings.SystemPrompt,
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	if c.systemPrompt == "" {
		c.systemPrompt = defaultSystemPrompt
	}
	return c
}

// Complete sends one question with the agronomist system prompt and returns
// the first choice as plain text.
func (c *OpenAIClient) Complete(ctx context.Context, question string) (string, error) {
	start := time.Now()

	var result completionResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(completionRequest{
			Model: c.model,
			Messages: []chatMessage{
				{Role: "system", Content: c.systemPrompt},
				{Role: "user", Content: question},
			},
			MaxTokens: c.maxTokens,
		}).
		SetResult(&result).
		SetError(&result).
		Post("/v1/chat/completions")
	if err != nil {
		return "", errors.New(err).
			Component("chat").
			Category(errors.CategoryNetwork).
			Timing("chat-completion", time.Since(start)).
			Build()
	}

	if resp.StatusCode() != http.StatusOK {
		msg := fmt.Sprintf("status %d", resp.StatusCode())
		if result.Error != nil && result.Error.Message != "" {
			msg += ": " + result.Error.Message
		}
		return "", errors.Newf("%s", msg).
			Component("chat").
			Category(errors.CategoryUpstream).
			Context("status_code", resp.StatusCode()).
			Build()
	}

	if len(result.Choices) == 0 {
		return "", errors.Newf("completion returned no choices").
			Component("chat").
			Category(errors.CategoryUpstream).
			Build()
	}

	return strings.TrimSpace(html2text.HTML2Text(result.Choices[0].Message.Content)), nil
}
