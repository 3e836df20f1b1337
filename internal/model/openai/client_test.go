package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treatyline/subpack/internal/model"
)

type fakeChat struct {
	got  openai.ChatCompletionNewParams
	resp *openai.ChatCompletion
	err  error
}

func (f *fakeChat) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.got = body
	return f.resp, f.err
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{DefaultModel: "gpt-4o"})
	require.Error(t, err)
	_, err = New(Options{Client: &fakeChat{}})
	require.Error(t, err)
	_, err = New(Options{Client: &fakeChat{}, DefaultModel: "gpt-4o"})
	require.NoError(t, err)
}

func TestCompleteTranslatesRequestAndResponse(t *testing.T) {
	fake := &fakeChat{
		resp: &openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{{
				Message:      openai.ChatCompletionMessage{Content: `{"next":"question"}`},
				FinishReason: "stop",
			}},
			Usage: openai.CompletionUsage{PromptTokens: 120, CompletionTokens: 8, TotalTokens: 128},
		},
	}
	c, err := New(Options{Client: fake, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), model.Request{
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: "you are a planner"},
			{Role: model.RoleUser, Content: "what next?"},
		},
		Temperature: 0.2,
		MaxTokens:   512,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"next":"question"}`, resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, 120, resp.Usage.InputTokens)
	assert.Equal(t, 128, resp.Usage.TotalTokens)

	assert.Equal(t, openai.ChatModel("gpt-4o"), fake.got.Model)
	require.Len(t, fake.got.Messages, 2)
}

func TestCompleteRequiresMessages(t *testing.T) {
	c, err := New(Options{Client: &fakeChat{}, DefaultModel: "gpt-4o"})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), model.Request{})
	require.Error(t, err)
}

func TestCompletePropagatesProviderError(t *testing.T) {
	fake := &fakeChat{err: errors.New("boom")}
	c, err := New(Options{Client: fake, DefaultModel: "gpt-4o"})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	require.ErrorContains(t, err, "boom")
	assert.False(t, errors.Is(err, model.ErrRateLimited))
}
