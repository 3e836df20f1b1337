package orchestrator

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/treatyline/subpack/internal/agent"
)

// bridgeAwaitTimeout bounds each pass of the bridge loop. Sessions sit idle
// for long stretches, so this is much longer than the goal loop timeout.
const bridgeAwaitTimeout = 30 * time.Second

// systemReadyPrompt is sent by the gateway right after session start to kick
// the pipeline; it is forwarded to the agent but never shown to the user.
const systemReadyPrompt = "system_ready"

// bridgeRun is the per-session state of one BridgeWorkflow.
type bridgeRun struct {
	goal       agent.AgentGoal
	workflowID string

	promptQueue []string
	frontend    []agent.FrontendMessage
	msgSeq      int

	// confirmed pulses when a confirm_tool signal arrives so the main loop
	// wakes up; actual execution lives in the goal workflows.
	confirmed bool

	// directChildID is the lazily started agent workflow under this bridge.
	directChildID string

	// activeChildID is the last descendant that produced a non-cancellation
	// message; user prompts and tool confirmations route to it.
	activeChildID string

	// pendingCompletionID is the workflow whose completion proposal is
	// awaiting the user, which may be a nested child rather than the active
	// one.
	pendingCompletionID string

	// Shared extraction store owned by the bridge. Activities write slots
	// via store_extraction_data and read them back via get_extraction_data,
	// so large payloads never ride through planner prompts.
	asOfYear          *string
	events            []any
	historicalMatches []any
	cedantRecords     []any
}

// BridgeWorkflow is the root workflow of one user session. It owns the
// frontend transcript and the shared extraction store, lazily starts the
// agent goal workflow underneath itself and routes user signals to whichever
// descendant should receive them.
func BridgeWorkflow(ctx workflow.Context, input agent.GoalInput) error {
	logger := workflow.GetLogger(ctx)
	b := &bridgeRun{
		goal:       input.Goal,
		workflowID: workflow.GetInfo(ctx).WorkflowExecution.ID,
	}
	b.promptQueue = append(b.promptQueue, input.Params.PromptQueue...)

	logger.Info("Bridge starting", "agent", b.goal.AgentName, "tools", len(b.goal.Tools))
	b.addFrontendMessage(ctx, agent.ActorAgent,
		fmt.Sprintf("Hello! I'm %s. How can I help you today?", b.goal.AgentName),
		b.goal.AgentName, agent.MessageTypeAgent, "")

	if err := workflow.SetQueryHandler(ctx, QueryFrontendMessages, b.frontendMessages); err != nil {
		return fmt.Errorf("register %s query: %w", QueryFrontendMessages, err)
	}
	if err := workflow.SetQueryHandler(ctx, QueryExtractionData, b.extractionData); err != nil {
		return fmt.Errorf("register %s query: %w", QueryExtractionData, err)
	}
	b.handleSignals(ctx)

	for {
		_, _ = workflow.AwaitWithTimeout(ctx, bridgeAwaitTimeout, func() bool {
			return len(b.promptQueue) > 0 || b.confirmed
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if b.confirmed {
			b.confirmed = false
		}

		if len(b.promptQueue) > 0 {
			prompt := b.promptQueue[0]
			b.promptQueue = b.promptQueue[1:]
			if prompt != systemReadyPrompt {
				b.addFrontendMessage(ctx, agent.ActorUser, prompt, b.goal.AgentName, agent.MessageTypeAgent, "")
			}
			b.routePrompt(ctx, prompt)
		}
	}
}

// routePrompt forwards a user prompt to the active child when one exists,
// falling back to the direct agent workflow (started on first use). A dead
// active child is dropped so the session keeps working.
func (b *bridgeRun) routePrompt(ctx workflow.Context, prompt string) {
	logger := workflow.GetLogger(ctx)

	if b.activeChildID != "" {
		err := workflow.SignalExternalWorkflow(ctx, b.activeChildID, "", SignalUserPrompt, prompt).Get(ctx, nil)
		if err == nil {
			logger.Info("Forwarded prompt to active child", "child", b.activeChildID)
			return
		}
		logger.Error("Failed to forward prompt to active child, falling back",
			"child", b.activeChildID, "error", err)
		b.activeChildID = ""
	}

	if b.directChildID == "" {
		if err := b.startAgentWorkflow(ctx); err != nil {
			logger.Error("Failed to start agent workflow", "error", err)
			b.addFrontendMessage(ctx, agent.ActorAgent,
				map[string]any{"error": fmt.Sprintf("Error processing request: %v", err)},
				b.goal.AgentName, agent.MessageTypeError, "")
			return
		}
	}
	err := workflow.SignalExternalWorkflow(ctx, b.directChildID, "", SignalUserPrompt, prompt).Get(ctx, nil)
	if err != nil {
		logger.Error("Failed to forward prompt to agent workflow", "error", err)
		b.addFrontendMessage(ctx, agent.ActorAgent,
			map[string]any{"error": fmt.Sprintf("Error processing request: %v", err)},
			b.goal.AgentName, agent.MessageTypeError, "")
	}
}

// startAgentWorkflow starts the direct agent goal workflow under this bridge
// and waits for it to be running so signals can be delivered immediately.
func (b *bridgeRun) startAgentWorkflow(ctx workflow.Context) error {
	b.directChildID = b.workflowID + "-agent"
	input := agent.GoalInput{
		Goal: b.goal,
		Params: agent.GoalParams{
			ParentWorkflowID: b.workflowID,
			BridgeWorkflowID: b.workflowID,
		},
	}
	cctx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
		WorkflowID:          b.directChildID,
		TaskQueue:           TaskQueue,
		WorkflowTaskTimeout: time.Minute,
	})
	future := workflow.ExecuteChildWorkflow(cctx, GoalWorkflow, input)

	var exec workflow.Execution
	if err := future.GetChildWorkflowExecution().Get(ctx, &exec); err != nil {
		b.directChildID = ""
		return fmt.Errorf("start agent workflow: %w", err)
	}
	workflow.GetLogger(ctx).Info("Started agent workflow", "child", b.directChildID)
	return nil
}

func (b *bridgeRun) handleSignals(ctx workflow.Context) {
	workflow.Go(ctx, func(ctx workflow.Context) {
		ch := workflow.GetSignalChannel(ctx, SignalUserPrompt)
		for {
			var prompt string
			ch.Receive(ctx, &prompt)
			b.promptQueue = append(b.promptQueue, prompt)
		}
	})

	workflow.Go(ctx, func(ctx workflow.Context) {
		ch := workflow.GetSignalChannel(ctx, SignalConfirmTool)
		for {
			ch.Receive(ctx, nil)
			b.forwardToolDecision(ctx, SignalConfirmTool)
			b.confirmed = true
		}
	})

	workflow.Go(ctx, func(ctx workflow.Context) {
		ch := workflow.GetSignalChannel(ctx, SignalCancelTool)
		for {
			ch.Receive(ctx, nil)
			b.forwardToolDecision(ctx, SignalCancelTool)
		}
	})

	workflow.Go(ctx, func(ctx workflow.Context) {
		ch := workflow.GetSignalChannel(ctx, SignalConfirmCompletion)
		for {
			ch.Receive(ctx, nil)
			b.forwardCompletionDecision(ctx, SignalConfirmCompletion)
		}
	})

	workflow.Go(ctx, func(ctx workflow.Context) {
		ch := workflow.GetSignalChannel(ctx, SignalCancelCompletion)
		for {
			ch.Receive(ctx, nil)
			b.forwardCompletionDecision(ctx, SignalCancelCompletion)
		}
	})

	workflow.Go(ctx, func(ctx workflow.Context) {
		ch := workflow.GetSignalChannel(ctx, SignalStoreExtractionData)
		for {
			var data ExtractionData
			ch.Receive(ctx, &data)
			b.storeExtractionData(ctx, data)
		}
	})

	workflow.Go(ctx, func(ctx workflow.Context) {
		ch := workflow.GetSignalChannel(ctx, SignalChildMessageAdded)
		for {
			var msg ChildMessage
			ch.Receive(ctx, &msg)
			b.onChildMessage(ctx, msg)
		}
	})
}

// forwardToolDecision routes confirm_tool/cancel_tool to the child awaiting
// it. Confirmation clears the active-child pointer so the next exchange
// re-establishes routing; cancellation keeps it so a follow-up "try again"
// lands on the workflow that was cancelled.
func (b *bridgeRun) forwardToolDecision(ctx workflow.Context, signalName string) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Signal received", "signal", signalName, "active_child", b.activeChildID)

	target := b.activeChildID
	if target == "" {
		target = b.directChildID
	}
	if target == "" {
		logger.Warn("No child workflow to forward to", "signal", signalName)
		return
	}
	if signalName == SignalConfirmTool && b.activeChildID != "" {
		b.activeChildID = ""
	}
	b.signalChild(ctx, target, signalName)
}

// forwardCompletionDecision routes confirm/cancel_completion with the
// pending-completion workflow taking precedence over the active child, which
// matters when a nested child asked to finish.
func (b *bridgeRun) forwardCompletionDecision(ctx workflow.Context, signalName string) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Signal received", "signal", signalName,
		"pending_completion", b.pendingCompletionID, "active_child", b.activeChildID)

	if b.pendingCompletionID != "" {
		target := b.pendingCompletionID
		b.pendingCompletionID = ""
		b.signalChild(ctx, target, signalName)
		return
	}
	if b.activeChildID != "" {
		b.signalChild(ctx, b.activeChildID, signalName)
		return
	}
	if b.directChildID != "" {
		b.signalChild(ctx, b.directChildID, signalName)
		return
	}
	logger.Warn("No child workflow to forward to", "signal", signalName)
}

// signalChild sends fire-and-forget; delivery failures are logged per item
// and never cascade.
func (b *bridgeRun) signalChild(ctx workflow.Context, target, signalName string) {
	f := workflow.SignalExternalWorkflow(ctx, target, "", signalName, nil)
	workflow.Go(ctx, func(gctx workflow.Context) {
		if err := f.Get(gctx, nil); err != nil {
			workflow.GetLogger(gctx).Error("Failed to forward signal",
				"signal", signalName, "target", target, "error", err)
		}
	})
}

// storeExtractionData writes one slot of the shared store. Writers replace
// the slot wholesale; unknown types and malformed values are rejected.
func (b *bridgeRun) storeExtractionData(ctx workflow.Context, data ExtractionData) {
	logger := workflow.GetLogger(ctx)
	if data.Type == "" {
		logger.Error("Missing data type in store_extraction_data signal")
		return
	}
	if data.Value == nil {
		logger.Error("Missing value in store_extraction_data signal", "type", data.Type)
		return
	}
	switch data.Type {
	case ExtractionAsOfYear:
		year := fmt.Sprintf("%v", data.Value)
		b.asOfYear = &year
		logger.Info("Stored AsOfYear", "value", year)
	case ExtractionEvents:
		list, ok := data.Value.([]any)
		if !ok {
			logger.Error("Events data must be a list", "type", fmt.Sprintf("%T", data.Value))
			return
		}
		b.events = list
		logger.Info("Stored events", "count", len(list))
	case ExtractionHistoricalMatches:
		list, ok := data.Value.([]any)
		if !ok {
			logger.Error("historical_matches data must be a list", "type", fmt.Sprintf("%T", data.Value))
			return
		}
		b.historicalMatches = list
		logger.Info("Stored historical matches", "count", len(list))
	case ExtractionCedantRecords:
		list, ok := data.Value.([]any)
		if !ok {
			logger.Error("cedant_records data must be a list", "type", fmt.Sprintf("%T", data.Value))
			return
		}
		b.cedantRecords = list
		logger.Info("Stored cedant records", "count", len(list))
	default:
		logger.Error("Unknown extraction data type", "type", data.Type)
	}
}

// onChildMessage ingests a transcript message from a descendant: it updates
// prompt routing, tracks pending completion proposals and projects the
// message into the frontend transcript.
func (b *bridgeRun) onChildMessage(ctx workflow.Context, msg ChildMessage) {
	logger := workflow.GetLogger(ctx)
	logger.Debug("Child message received", "child", msg.ChildWorkflowID, "actor", msg.Actor)

	// A child that speaks becomes the routing target, except when it is
	// reporting a cancellation: cancelled workflows must not swallow the
	// user's next prompt.
	if msg.Actor != agent.ActorCancelledToolRun && msg.Actor != agent.ActorCancelledCompletion {
		b.activeChildID = msg.ChildWorkflowID
	}

	resp, respIsMap := msg.Response.(map[string]any)

	if msg.Actor == agent.ActorAgent && respIsMap {
		if resp["next"] == agent.NextConfirmCompletion && resp["type"] == agent.MessageTypeWorkflowCompletion {
			target := msg.ChildWorkflowID
			if original, ok := resp["original_workflow_id"].(string); ok && original != "" {
				target = original
			}
			b.pendingCompletionID = target
			logger.Info("Tracking pending completion", "workflow", target, "agent_type", msg.AgentType)
		}
	}

	switch msg.Actor {
	case agent.ActorAgent:
		b.addFrontendMessage(ctx, agent.ActorAgent, msg.Response, msg.AgentType, agent.MessageTypeAgent, "")
	case agent.ActorToolResult:
		toolName := "unknown_tool"
		if respIsMap {
			if name, ok := resp["tool"].(string); ok && name != "" {
				toolName = name
			}
		}
		b.addFrontendMessage(ctx, agent.ActorToolResult,
			map[string]any{"tool": toolName, "result": msg.Response},
			msg.AgentType, agent.MessageTypeToolResult, toolName)
	case agent.ActorCancelledToolRun:
		b.addFrontendMessage(ctx, agent.ActorCancelledToolRun, msg.Response,
			b.goal.AgentName, agent.MessageTypeCancelledToolRun, "")
	case agent.ActorConfirmedToolRun:
		b.addFrontendMessage(ctx, agent.ActorConfirmedToolRun, msg.Response,
			b.goal.AgentName, agent.MessageTypeConfirmedToolRun, "")
	case agent.ActorConfirmedCompletion:
		b.addFrontendMessage(ctx, agent.ActorConfirmedCompletion, msg.Response,
			msg.AgentType, agent.MessageTypeConfirmedCompletion, "")
	case agent.ActorCancelledCompletion:
		b.addFrontendMessage(ctx, agent.ActorCancelledCompletion, msg.Response,
			msg.AgentType, agent.MessageTypeCancelledCompletion, "")
	default:
		b.addFrontendMessage(ctx, msg.Actor, msg.Response, b.goal.AgentName, agent.MessageTypeAgent, "")
	}
}

func (b *bridgeRun) addFrontendMessage(ctx workflow.Context, actor string, content any, agentType, messageType, toolName string) {
	if agentType == "" {
		agentType = b.goal.AgentName
	}
	b.msgSeq++
	b.frontend = append(b.frontend, agent.FrontendMessage{
		MessageID: fmt.Sprintf("%s-%d", b.workflowID, b.msgSeq),
		Actor:     actor,
		Response:  content,
		Timestamp: workflow.Now(ctx).UTC().Format(time.RFC3339),
		Type:      messageType,
		AgentType: agentType,
		ToolName:  toolName,
	})
}

func (b *bridgeRun) frontendMessages() ([]agent.FrontendMessage, error) {
	return b.frontend, nil
}

func (b *bridgeRun) extractionData() (ExtractionSnapshot, error) {
	return ExtractionSnapshot{
		AsOfYear:               b.asOfYear,
		Events:                 append([]any{}, b.events...),
		EventsCount:            len(b.events),
		HistoricalMatches:      append([]any{}, b.historicalMatches...),
		HistoricalMatchesCount: len(b.historicalMatches),
		CedantRecords:          append([]any{}, b.cedantRecords...),
		CedantRecordsCount:     len(b.cedantRecords),
	}, nil
}
