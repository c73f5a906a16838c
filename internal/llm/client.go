package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"majordomo/internal/config"
	"majordomo/internal/pipeline"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 60 * time.Second
)

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	api         *openai.Client
	temperature float32
}

func New(cfg config.LLMConfig) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = baseURL
	apiCfg.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{
		api:         openai.NewClientWithConfig(apiCfg),
		temperature: float32(cfg.Temperature),
	}
}

// Complete runs one chat completion. A 429 wraps pipeline.ErrRateLimited;
// an unusable body wraps pipeline.ErrMalformedResponse.
func (c *Client) Complete(ctx context.Context, p pipeline.Prompt) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if p.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: p.User})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.Model,
		Messages:    messages,
		MaxTokens:   p.MaxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", classify(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response: %w", pipeline.ErrMalformedResponse)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty completion: %w", pipeline.ErrMalformedResponse)
	}
	return text, nil
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("API error (%d): %s: %w", apiErr.HTTPStatusCode, apiErr.Message, pipeline.ErrRateLimited)
		}
		return fmt.Errorf("API error (%d): %s", apiErr.HTTPStatusCode, apiErr.Message)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("API error (%d): %w", reqErr.HTTPStatusCode, pipeline.ErrRateLimited)
		}
		return fmt.Errorf("API error (%d): %v", reqErr.HTTPStatusCode, reqErr.Err)
	}

	// A 2xx answer that does not decode as a completion.
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("decoding response: %v: %w", err, pipeline.ErrMalformedResponse)
	}

	return fmt.Errorf("calling model API: %w", err)
}
