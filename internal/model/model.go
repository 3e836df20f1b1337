// Package model defines a provider-agnostic abstraction over chat completion
// APIs so the planner can invoke models without coupling to specific SDKs.
// Implementations translate these normalized types into provider-specific
// formats.
package model

import (
	"context"
	"errors"
)

type (
	// Client is the contract the planner uses to invoke LLM calls.
	// Implementations wrap provider SDKs and must be safe for concurrent use.
	Client interface {
		// Complete sends a chat completion request to the provider and returns
		// the generated response. Returns an error if the model is unavailable,
		// quota is exceeded or the request is malformed.
		Complete(ctx context.Context, req Request) (Response, error)
	}

	// Request captures the normalized parameters of a model invocation.
	Request struct {
		// Model is the provider-specific model identifier. Empty means use the
		// client's configured default.
		Model string

		// Messages is the ordered chat transcript, system prompt included.
		Messages []Message

		// Temperature controls sampling. Zero means greedy decoding.
		Temperature float64

		// MaxTokens caps completion tokens. Zero uses the provider default.
		MaxTokens int
	}

	// Message is one chat message with role and text content.
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	// Response wraps the generated text along with usage accounting.
	Response struct {
		// Content is the assistant's text answer.
		Content string

		// Usage reports token counts when the provider supplies them.
		Usage TokenUsage

		// StopReason explains why generation stopped. Values are
		// provider-specific and may be empty.
		StopReason string
	}

	// TokenUsage records prompt/completion token counts when reported.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}
)

// Chat roles shared by the supported providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrRateLimited indicates the provider rejected the call for quota reasons.
// Adapters wrap provider 429 responses with this sentinel so middleware can
// back off.
var ErrRateLimited = errors.New("model: rate limited")
