// Package anthropic provides a model.Client implementation backed by the
// Anthropic Claude Messages API using github.com/anthropics/anthropic-sdk-go.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/treatyline/subpack/internal/model"
)

// defaultMaxTokens is used when neither the request nor the options cap
// completion tokens. The Messages API requires an explicit value.
const defaultMaxTokens = 4096

// MessagesClient captures the subset of the Anthropic SDK client used by the
// adapter. It is satisfied by *sdk.MessageService so callers can pass either a
// real client or a mock in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the Anthropic adapter.
type Options struct {
	// DefaultModel is the Claude model identifier used when Request.Model is
	// empty.
	DefaultModel string

	// MaxTokens sets the default completion cap when a request does not
	// specify MaxTokens.
	MaxTokens int
}

// Client implements model.Client on top of Anthropic Claude Messages.
type Client struct {
	msg          MessagesClient
	defaultModel string
	maxTok       int
}

// New builds an Anthropic-backed model client from the provided Messages
// client and options.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = defaultMaxTokens
	}
	return &Client{msg: msg, defaultModel: opts.DefaultModel, maxTok: maxTok}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

// Complete issues a non-streaming Messages.New request and translates the
// response into the generic model structures.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if len(req.Messages) == 0 {
		return model.Response{}, errors.New("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}

	var system []sdk.TextBlockParam
	conversation := make([]sdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case model.RoleSystem:
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case model.RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	if len(conversation) == 0 {
		return model.Response{}, errors.New("anthropic: at least one user/assistant message is required")
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  conversation,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		var apierr *sdk.Error
		if errors.As(err, &apierr) && apierr.StatusCode == http.StatusTooManyRequests {
			return model.Response{}, fmt.Errorf("anthropic messages.new: %w: %v", model.ErrRateLimited, err)
		}
		return model.Response{}, fmt.Errorf("anthropic messages.new: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return model.Response{
		Content: text,
		Usage: model.TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		StopReason: string(msg.StopReason),
	}, nil
}
