package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/treatyline/subpack/internal/agent"
	"github.com/treatyline/subpack/internal/agent/goals"
)

// scriptedPlanner returns canned decisions in order, recording the prompts it
// was asked to plan for.
type scriptedPlanner struct {
	decisions []agent.ToolDecision
	prompts   []string
	calls     int
}

func (p *scriptedPlanner) plan(_ context.Context, in agent.PlannerInput) (agent.ToolDecision, error) {
	p.prompts = append(p.prompts, in.Prompt)
	i := p.calls
	if i >= len(p.decisions) {
		i = len(p.decisions) - 1
	}
	p.calls++
	return p.decisions[i], nil
}

func registerPlanner(env *testsuite.TestWorkflowEnvironment, p *scriptedPlanner) {
	env.RegisterActivityWithOptions(p.plan, activity.RegisterOptions{Name: ActivityPlanner})
}

func question(text string) agent.ToolDecision {
	return agent.ToolDecision{Next: agent.NextQuestion, Response: text, Args: map[string]any{}}
}

func TestGoalWorkflowProcessesPromptsInOrder(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	planner := &scriptedPlanner{decisions: []agent.ToolDecision{question("noted")}}
	registerPlanner(env, planner)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalUserPrompt, "first")
		env.SignalWorkflow(SignalUserPrompt, "second")
		env.SignalWorkflow(SignalUserPrompt, "third")
	}, time.Second)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalEndChat, nil)
	}, time.Minute)

	env.ExecuteWorkflow(GoalWorkflow, agent.GoalInput{Goal: goals.Supervisor()})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	assert.Equal(t, []string{"first", "second", "third"}, planner.prompts)

	var result agent.GoalResult
	require.NoError(t, env.GetWorkflowResult(&result))
	var userMsgs []string
	for _, m := range result.ConversationHistory.Messages {
		if m.Actor == agent.ActorUser {
			userMsgs = append(userMsgs, m.Response.(string))
		}
	}
	assert.Equal(t, []string{"first", "second", "third"}, userMsgs)
}

func TestGoalWorkflowToolConfirmAndCompletion(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	planner := &scriptedPlanner{decisions: []agent.ToolDecision{
		{Next: agent.NextConfirm, Tool: "HistoricalMatcher", Response: "Let's proceed with HistoricalMatcher.",
			Args: map[string]any{"program_id": "153300"}},
		{Next: agent.NextDone, Response: map[string]any{"summary": "all matched"}},
	}}
	registerPlanner(env, planner)

	toolCalls := 0
	env.RegisterActivityWithOptions(func(_ context.Context, args map[string]any) (map[string]any, error) {
		toolCalls++
		assert.Equal(t, "153300", args["program_id"])
		assert.NotEmpty(t, args[agent.BridgeWorkflowIDArg], "bridge ID must be injected")
		return map[string]any{"success": true, "successful_matches": 2.0}, nil
	}, activity.RegisterOptions{Name: goals.ActivityRunMatchBatch})

	env.OnSignalExternalWorkflow(mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	env.RegisterDelayedCallback(func() { env.SignalWorkflow(SignalUserPrompt, "match the events") }, time.Second)
	// Duplicate confirms must not run the tool twice.
	env.RegisterDelayedCallback(func() { env.SignalWorkflow(SignalConfirmTool, nil) }, 10*time.Second)
	env.RegisterDelayedCallback(func() { env.SignalWorkflow(SignalConfirmTool, nil) }, 11*time.Second)
	env.RegisterDelayedCallback(func() { env.SignalWorkflow(SignalConfirmCompletion, nil) }, time.Minute)

	env.ExecuteWorkflow(GoalWorkflow, agent.GoalInput{
		Goal:   goals.Supervisor(),
		Params: agent.GoalParams{BridgeWorkflowID: "bridge-1"},
	})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	assert.Equal(t, 1, toolCalls, "confirm_tool must be idempotent")

	var result agent.GoalResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.NotNil(t, result.AgentResult)
	require.NotNil(t, result.LastToolResult)
	assert.Equal(t, true, result.LastToolResult["success"])

	// The confirmation is recorded against the proposal.
	var confirmed bool
	for _, m := range result.ConversationHistory.Messages {
		if m.Actor == agent.ActorConfirmedToolRun {
			resp := m.Response.(map[string]any)
			assert.Equal(t, agent.NextConfirmed, resp["next"])
			assert.Equal(t, "user_confirmed", resp["status"])
			confirmed = true
		}
	}
	assert.True(t, confirmed, "confirmation message missing from transcript")
}

func TestGoalWorkflowCancelToolClearsProposal(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	planner := &scriptedPlanner{decisions: []agent.ToolDecision{
		{Next: agent.NextConfirm, Tool: "HistoricalMatcher", Args: map[string]any{"program_id": "1"}},
	}}
	registerPlanner(env, planner)

	toolCalls := 0
	env.RegisterActivityWithOptions(func(_ context.Context, _ map[string]any) (map[string]any, error) {
		toolCalls++
		return map[string]any{"success": true}, nil
	}, activity.RegisterOptions{Name: goals.ActivityRunMatchBatch})

	env.RegisterDelayedCallback(func() { env.SignalWorkflow(SignalUserPrompt, "run it") }, time.Second)
	env.RegisterDelayedCallback(func() { env.SignalWorkflow(SignalCancelTool, nil) }, 10*time.Second)
	// A confirm after cancellation has nothing to approve.
	env.RegisterDelayedCallback(func() { env.SignalWorkflow(SignalConfirmTool, nil) }, 20*time.Second)
	env.RegisterDelayedCallback(func() { env.SignalWorkflow(SignalEndChat, nil) }, time.Minute)

	env.ExecuteWorkflow(GoalWorkflow, agent.GoalInput{Goal: goals.Supervisor()})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	assert.Zero(t, toolCalls, "cancelled tool must not execute")

	var result agent.GoalResult
	require.NoError(t, env.GetWorkflowResult(&result))
	var cancelled bool
	for _, m := range result.ConversationHistory.Messages {
		if m.Actor == agent.ActorCancelledToolRun {
			cancelled = true
		}
	}
	assert.True(t, cancelled)
}

func TestGoalWorkflowResolvesPreviousResult(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	planner := &scriptedPlanner{decisions: []agent.ToolDecision{
		{Next: agent.NextConfirm, Tool: "PopulateCedantData", Args: map[string]any{"program_id": "9"}},
		{Next: agent.NextConfirm, Tool: "CompareToExistingCedantData", Args: map[string]any{
			"loss_data_id": "534129",
			"new_records":  agent.UsePreviousResult,
		}},
		{Next: agent.NextDone, Response: "done"},
	}}
	registerPlanner(env, planner)

	env.RegisterActivityWithOptions(func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return map[string]any{
			"success":      true,
			"loss_data_id": "534129",
			"all_records":  []any{map[string]any{"index": 1.0}},
		}, nil
	}, activity.RegisterOptions{Name: goals.ActivityPopulateCedantData})

	var gotRecords any
	env.RegisterActivityWithOptions(func(_ context.Context, args map[string]any) (map[string]any, error) {
		gotRecords = args["new_records"]
		return map[string]any{"success": true}, nil
	}, activity.RegisterOptions{Name: goals.ActivityCompareCedantData})

	env.RegisterDelayedCallback(func() { env.SignalWorkflow(SignalUserPrompt, "populate") }, time.Second)
	env.RegisterDelayedCallback(func() { env.SignalWorkflow(SignalConfirmTool, nil) }, 10*time.Second)
	env.RegisterDelayedCallback(func() { env.SignalWorkflow(SignalConfirmTool, nil) }, 30*time.Second)
	env.RegisterDelayedCallback(func() { env.SignalWorkflow(SignalConfirmCompletion, nil) }, 2*time.Minute)

	env.ExecuteWorkflow(GoalWorkflow, agent.GoalInput{Goal: goals.Supervisor()})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	records, ok := gotRecords.([]any)
	require.True(t, ok, "new_records should be substituted from all_records, got %T", gotRecords)
	require.Len(t, records, 1)
}

func TestGoalWorkflowConvertsToolFailure(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	planner := &scriptedPlanner{decisions: []agent.ToolDecision{
		{Next: agent.NextConfirm, Tool: "HistoricalMatcher", Args: map[string]any{"program_id": "1"}},
		question("the tool failed, want to retry?"),
	}}
	registerPlanner(env, planner)

	env.RegisterActivityWithOptions(func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return nil, temporal.NewNonRetryableApplicationError("historical DB unavailable", "validation_error", nil)
	}, activity.RegisterOptions{Name: goals.ActivityRunMatchBatch})

	env.RegisterDelayedCallback(func() { env.SignalWorkflow(SignalUserPrompt, "match") }, time.Second)
	env.RegisterDelayedCallback(func() { env.SignalWorkflow(SignalConfirmTool, nil) }, 10*time.Second)
	env.RegisterDelayedCallback(func() { env.SignalWorkflow(SignalEndChat, nil) }, 2*time.Minute)

	env.ExecuteWorkflow(GoalWorkflow, agent.GoalInput{Goal: goals.Supervisor()})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError(), "tool failure must not fail the workflow")

	var result agent.GoalResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.NotNil(t, result.LastToolResult)
	assert.Equal(t, false, result.LastToolResult["success"])
	assert.Equal(t, "execution_failure", result.LastToolResult["error_type"])
	assert.Equal(t, "HistoricalMatcher", result.LastToolResult["tool"])
	assert.Contains(t, result.LastToolResult["error"], "historical DB unavailable")
}
