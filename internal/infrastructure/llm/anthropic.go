package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"AirQualityNews/internal/config"
	"AirQualityNews/internal/ports"
)

// AnthropicClient implements ports.Invoker on top of the Messages API.
type AnthropicClient struct {
	client      anthropic.Client
	model       string
	temperature float64
}

var _ ports.Invoker = (*AnthropicClient)(nil)

// NewAnthropicClient builds a client from configuration. SDK-level retries are disabled
// so the caller's retry policy is the only one in effect.
func NewAnthropicClient(cfg config.AIConfig) *AnthropicClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeoutOrDefault(cfg.Timeout)),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}

	return &AnthropicClient{
		client:      anthropic.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
}

// Invoke sends a single-turn message and concatenates the text blocks of the reply.
func (c *AnthropicClient) Invoke(ctx context.Context, prompt ports.Prompt) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens(prompt.MaxTokens)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.User)),
		},
		Temperature: anthropic.Float(c.temperature),
	}
	if system := strings.TrimSpace(prompt.System); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &StatusError{StatusCode: apiErr.StatusCode, Body: apiErr.Error()}
		}
		return "", fmt.Errorf("invoke anthropic: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyReply
	}

	return sb.String(), nil
}
