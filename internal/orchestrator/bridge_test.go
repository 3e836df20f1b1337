package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/treatyline/subpack/internal/agent"
	"github.com/treatyline/subpack/internal/agent/goals"
)

// runBridge executes BridgeWorkflow and cancels it at the given offset; the
// bridge runs until the session is torn down, so the test drives it entirely
// through delayed callbacks.
func runBridge(t *testing.T, env *testsuite.TestWorkflowEnvironment, cancelAt time.Duration) {
	t.Helper()
	env.RegisterDelayedCallback(func() { env.CancelWorkflow() }, cancelAt)
	env.ExecuteWorkflow(BridgeWorkflow, agent.GoalInput{Goal: goals.Supervisor()})
	require.True(t, env.IsWorkflowCompleted())
}

func TestBridgeGreetsAndProjectsPrompts(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.OnSignalExternalWorkflow(mock.Anything, "child-A", "", SignalUserPrompt, mock.Anything).Return(nil)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalChildMessageAdded, ChildMessage{
			ChildWorkflowID: "child-A",
			AgentType:       goals.SupervisorAgentName,
			Actor:           agent.ActorAgent,
			Response:        "Working on it.",
			MessageID:       "child-A-1",
		})
	}, time.Second)
	env.RegisterDelayedCallback(func() { env.SignalWorkflow(SignalUserPrompt, systemReadyPrompt) }, 2*time.Second)
	env.RegisterDelayedCallback(func() { env.SignalWorkflow(SignalUserPrompt, "hello") }, 3*time.Second)

	var transcript []agent.FrontendMessage
	env.RegisterDelayedCallback(func() {
		v, err := env.QueryWorkflow(QueryFrontendMessages)
		require.NoError(t, err)
		require.NoError(t, v.Get(&transcript))
	}, 10*time.Second)

	runBridge(t, env, 20*time.Second)

	require.NotEmpty(t, transcript)
	assert.Equal(t, agent.ActorAgent, transcript[0].Actor)
	assert.Contains(t, transcript[0].Response, "Hello! I'm Supervisor Agent")

	var prompts []string
	for _, m := range transcript {
		if m.Actor == agent.ActorUser {
			prompts = append(prompts, m.Response.(string))
		}
	}
	assert.Equal(t, []string{"hello"}, prompts, "system_ready is forwarded but never shown")

	env.AssertCalled(t, "workflow.SignalExternalWorkflow",mock.Anything, "child-A", "", SignalUserPrompt, mock.Anything)
}

func TestBridgeToolDecisionRouting(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	// Cancellation keeps child-A as routing target, so the retry prompt and
	// the eventual confirmation still reach it. Confirmation then clears the
	// pointer, so the duplicate confirm has nowhere to go and is dropped.
	env.OnSignalExternalWorkflow(mock.Anything, "child-A", "", SignalCancelTool, mock.Anything).Return(nil).Once()
	env.OnSignalExternalWorkflow(mock.Anything, "child-A", "", SignalUserPrompt, mock.Anything).Return(nil).Once()
	env.OnSignalExternalWorkflow(mock.Anything, "child-A", "", SignalConfirmTool, mock.Anything).Return(nil).Once()

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalChildMessageAdded, ChildMessage{
			ChildWorkflowID: "child-A",
			Actor:           agent.ActorAgent,
			Response:        "Shall I run the matcher?",
			MessageID:       "child-A-1",
		})
	}, time.Second)
	env.RegisterDelayedCallback(func() { env.SignalWorkflow(SignalCancelTool, nil) }, 2*time.Second)
	env.RegisterDelayedCallback(func() { env.SignalWorkflow(SignalUserPrompt, "actually, run it") }, 3*time.Second)
	env.RegisterDelayedCallback(func() { env.SignalWorkflow(SignalConfirmTool, nil) }, 40*time.Second)
	env.RegisterDelayedCallback(func() { env.SignalWorkflow(SignalConfirmTool, nil) }, 41*time.Second)

	runBridge(t, env, time.Minute)
	env.AssertExpectations(t)
}

func TestBridgeCompletionRoutesPendingFirst(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.OnSignalExternalWorkflow(mock.Anything, "nested-B", "", SignalConfirmCompletion, mock.Anything).Return(nil).Twice()

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalChildMessageAdded, ChildMessage{
			ChildWorkflowID: "nested-B",
			AgentType:       goals.ParserAgentName,
			Actor:           agent.ActorAgent,
			Response: map[string]any{
				"next":   agent.NextConfirmCompletion,
				"type":   agent.MessageTypeWorkflowCompletion,
				"status": "pending_confirmation",
			},
			MessageID: "nested-B-9",
		})
	}, time.Second)
	// First confirm consumes the pending pointer, second falls back to the
	// active child, which is the same workflow here.
	env.RegisterDelayedCallback(func() { env.SignalWorkflow(SignalConfirmCompletion, nil) }, 2*time.Second)
	env.RegisterDelayedCallback(func() { env.SignalWorkflow(SignalConfirmCompletion, nil) }, 3*time.Second)

	runBridge(t, env, 20*time.Second)
	env.AssertExpectations(t)
}

func TestBridgeCompletionHonorsOriginalWorkflowID(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.OnSignalExternalWorkflow(mock.Anything, "deep-C", "", SignalConfirmCompletion, mock.Anything).Return(nil).Once()

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalChildMessageAdded, ChildMessage{
			ChildWorkflowID: "nested-B",
			Actor:           agent.ActorAgent,
			Response: map[string]any{
				"next":                 agent.NextConfirmCompletion,
				"type":                 agent.MessageTypeWorkflowCompletion,
				"original_workflow_id": "deep-C",
			},
			MessageID: "nested-B-3",
		})
	}, time.Second)
	env.RegisterDelayedCallback(func() { env.SignalWorkflow(SignalConfirmCompletion, nil) }, 2*time.Second)

	runBridge(t, env, 20*time.Second)
	env.AssertExpectations(t)
}

func TestBridgeWrapsToolResults(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalChildMessageAdded, ChildMessage{
			ChildWorkflowID: "child-A",
			AgentType:       goals.SupervisorAgentName,
			Actor:           agent.ActorToolResult,
			Response:        map[string]any{"tool": "HistoricalMatcher", "success": true},
			MessageID:       "child-A-4",
		})
	}, time.Second)

	var transcript []agent.FrontendMessage
	env.RegisterDelayedCallback(func() {
		v, err := env.QueryWorkflow(QueryFrontendMessages)
		require.NoError(t, err)
		require.NoError(t, v.Get(&transcript))
	}, 5*time.Second)

	runBridge(t, env, 20*time.Second)

	require.Len(t, transcript, 2)
	tr := transcript[1]
	assert.Equal(t, agent.MessageTypeToolResult, tr.Type)
	assert.Equal(t, "HistoricalMatcher", tr.ToolName)
	wrapped, ok := tr.Response.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "HistoricalMatcher", wrapped["tool"])
	assert.NotNil(t, wrapped["result"])
}

func TestBridgeExtractionStore(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalStoreExtractionData, ExtractionData{Type: ExtractionAsOfYear, Value: "2024"})
		env.SignalWorkflow(SignalStoreExtractionData, ExtractionData{
			Type: ExtractionEvents,
			Value: []any{
				map[string]any{"loss_description": "Hurricane Ian", "loss_year": 2022.0},
				map[string]any{"loss_description": "Winter Storm Uri", "loss_year": 2021.0},
			},
		})
		// Malformed writes must not clobber existing slots.
		env.SignalWorkflow(SignalStoreExtractionData, ExtractionData{Type: ExtractionEvents, Value: "not a list"})
		env.SignalWorkflow(SignalStoreExtractionData, ExtractionData{Type: "unknown_slot", Value: []any{}})
		env.SignalWorkflow(SignalStoreExtractionData, ExtractionData{
			Type:  ExtractionCedantRecords,
			Value: []any{map[string]any{"index": 1.0}},
		})
	}, time.Second)

	var snap ExtractionSnapshot
	env.RegisterDelayedCallback(func() {
		v, err := env.QueryWorkflow(QueryExtractionData)
		require.NoError(t, err)
		require.NoError(t, v.Get(&snap))
	}, 5*time.Second)

	runBridge(t, env, 20*time.Second)

	require.NotNil(t, snap.AsOfYear)
	assert.Equal(t, "2024", *snap.AsOfYear)
	assert.Equal(t, 2, snap.EventsCount)
	require.Len(t, snap.Events, 2)
	assert.Equal(t, 1, snap.CedantRecordsCount)
	assert.Zero(t, snap.HistoricalMatchesCount)
}
