package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treatyline/subpack/internal/agent"
	"github.com/treatyline/subpack/internal/model"
)

type fakeModel struct {
	content string
	err     error
	got     model.Request
}

func (f *fakeModel) Complete(_ context.Context, req model.Request) (model.Response, error) {
	f.got = req
	return model.Response{Content: f.content}, f.err
}

func newPlanner(t *testing.T, m model.Client) *Planner {
	t.Helper()
	p, err := New(Options{Client: m, Temperature: 0.1})
	require.NoError(t, err)
	return p
}

func decide(t *testing.T, p *Planner) agent.ToolDecision {
	t.Helper()
	d, err := p.DecideNextStep(context.Background(), agent.PlannerInput{
		Prompt:              "what next?",
		ContextInstructions: "plan carefully",
	})
	require.NoError(t, err)
	return d
}

func TestDecideNextStepParsesCleanJSON(t *testing.T) {
	fake := &fakeModel{content: `{"next":"confirm","tool":"HistoricalMatcher","args":{"program_id":"153300"}}`}
	d := decide(t, newPlanner(t, fake))

	assert.Equal(t, agent.NextConfirm, d.Next)
	assert.Equal(t, "HistoricalMatcher", d.Tool)
	assert.Equal(t, "153300", d.Args["program_id"])

	require.Len(t, fake.got.Messages, 2)
	assert.Equal(t, model.RoleSystem, fake.got.Messages[0].Role)
	assert.Equal(t, "plan carefully", fake.got.Messages[0].Content)
}

func TestDecideNextStepStripsMarkdownFences(t *testing.T) {
	fake := &fakeModel{content: "```json\n{\"next\": \"done\", \"response\": \"all set\"}\n```"}
	d := decide(t, newPlanner(t, fake))

	assert.Equal(t, agent.NextDone, d.Next)
	assert.Equal(t, "all set", d.Response)
}

func TestDecideNextStepIgnoresSurroundingProse(t *testing.T) {
	fake := &fakeModel{content: "Sure, here is my decision:\n{\"next\":\"question\",\"response\":\"which program?\"}\nLet me know."}
	d := decide(t, newPlanner(t, fake))

	assert.Equal(t, agent.NextQuestion, d.Next)
	assert.Equal(t, "which program?", d.Response)
}

func TestDecideNextStepDowngradesUnparseableOutput(t *testing.T) {
	fake := &fakeModel{content: "I think you should probably confirm the matcher."}
	d := decide(t, newPlanner(t, fake))

	assert.Equal(t, agent.NextQuestion, d.Next)
	assert.Equal(t, "I think you should probably confirm the matcher.", d.Response)
	assert.Empty(t, d.Tool)
	assert.NotNil(t, d.Args)
}

func TestDecideNextStepDowngradesSchemaViolations(t *testing.T) {
	fake := &fakeModel{content: `{"next":"launch_rockets","tool":42}`}
	d := decide(t, newPlanner(t, fake))

	assert.Equal(t, agent.NextQuestion, d.Next)
	assert.Empty(t, d.Tool)
}

func TestDecideNextStepPropagatesModelErrors(t *testing.T) {
	fake := &fakeModel{err: errors.New("provider down")}
	p := newPlanner(t, fake)

	_, err := p.DecideNextStep(context.Background(), agent.PlannerInput{Prompt: "hi"})
	require.ErrorContains(t, err, "provider down")
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}
