// Package openai provides a model.Client implementation backed by the OpenAI
// Chat Completions API. It translates planner requests into ChatCompletion
// calls using github.com/openai/openai-go and maps responses back to the
// generic model structures.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/treatyline/subpack/internal/model"
)

// ChatClient captures the subset of the openai-go client used by the adapter.
// It is satisfied by *openai.ChatCompletionService.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams,
		opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	Client       ChatClient
	DefaultModel string
}

// Client implements model.Client via the OpenAI Chat Completions API.
type Client struct {
	chat  ChatClient
	model string
}

// New builds an OpenAI-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model is required")
	}
	return &Client{chat: opts.Client, model: opts.DefaultModel}, nil
}

// NewFromAPIKey constructs a client using the default openai-go HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return New(Options{Client: &c.Chat.Completions, DefaultModel: defaultModel})
}

// Complete renders a chat completion using the configured OpenAI client.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if len(req.Messages) == 0 {
		return model.Response{}, errors.New("messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case model.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(modelID),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		var apierr *openai.Error
		if errors.As(err, &apierr) && apierr.StatusCode == 429 {
			return model.Response{}, fmt.Errorf("openai chat completion: %w: %v", model.ErrRateLimited, err)
		}
		return model.Response{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.Response{}, errors.New("openai chat completion: no choices returned")
	}
	return model.Response{
		Content: resp.Choices[0].Message.Content,
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
		StopReason: string(resp.Choices[0].FinishReason),
	}, nil
}
