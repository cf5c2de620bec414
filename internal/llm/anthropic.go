package llm

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// MessagesClient captures the subset of the Anthropic SDK the adapter uses,
// so tests can substitute a fake without reaching the network — the same
// seam goa-ai's anthropic adapter cuts at (features/model/anthropic.MessagesClient
// in the example pack).
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicClient implements Client on top of the Anthropic Messages API.
type AnthropicClient struct {
	msg       MessagesClient
	model     string
	maxTokens int64
}

// AnthropicOptions configures an AnthropicClient.
type AnthropicOptions struct {
	Model     string
	MaxTokens int64
}

// NewAnthropicClient builds an AnthropicClient from a raw API key, using the
// SDK's default HTTP client configuration.
func NewAnthropicClient(apiKey string, opts AnthropicOptions) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("llm: anthropic api key is required")
	}
	if opts.Model == "" {
		return nil, errors.New("llm: anthropic model identifier is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{msg: &ac.Messages, model: opts.Model, maxTokens: maxTokens}, nil
}

// NewAnthropicClientWithMessages builds an AnthropicClient around a caller-
// supplied MessagesClient, for tests.
func NewAnthropicClientWithMessages(msg MessagesClient, opts AnthropicOptions) (*AnthropicClient, error) {
	if msg == nil {
		return nil, errors.New("llm: messages client is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicClient{msg: msg, model: opts.Model, maxTokens: maxTokens}, nil
}

// Complete sends prompt as a single user message and returns the
// concatenated text of every text content block in the reply.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("llm: anthropic messages.new: %w", err)
	}
	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out, nil
}
