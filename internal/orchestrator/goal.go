package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/treatyline/subpack/internal/agent"
	"github.com/treatyline/subpack/internal/agent/goals"
	"github.com/treatyline/subpack/internal/agent/prompts"
)

// ActivityPlanner is the registered name of the planning activity invoked
// once per processed prompt.
const ActivityPlanner = "plan_next_step"

// Planner activity timeouts. Model calls routinely take minutes on large
// histories.
const (
	plannerStartToClose    = 15 * time.Minute
	plannerScheduleToClose = 30 * time.Minute
)

// Tool activity timeouts and retry tuning.
const (
	toolStartToClose    = 15 * time.Minute
	toolScheduleToClose = 30 * time.Minute
	toolMaxAttempts     = 3
)

// awaitTimeout bounds each pass of the main loop so the workflow keeps
// making progress checks even when no signal arrives.
const awaitTimeout = 5 * time.Second

// goalRun is the per-execution state of one GoalWorkflow. All mutation
// happens on workflow goroutines, so no locking is needed.
type goalRun struct {
	goal     agent.AgentGoal
	parentID string
	bridgeID string

	promptQueue []string
	history     []agent.Message
	times       []string
	startedAt   string

	phase          phase
	toolData       *agent.ToolDecision
	lastToolResult map[string]any
	agentResult    any

	msgSeq   int
	childSeq int
}

// GoalWorkflow runs one agent: it feeds user prompts to the planner, asks
// the user to confirm proposed tools, executes confirmed tools as activities
// or child agent workflows and loops until the user approves completion or
// ends the chat.
func GoalWorkflow(ctx workflow.Context, input agent.GoalInput) (*agent.GoalResult, error) {
	logger := workflow.GetLogger(ctx)
	r := &goalRun{
		goal:      input.Goal,
		parentID:  input.Params.ParentWorkflowID,
		bridgeID:  input.Params.BridgeWorkflowID,
		startedAt: workflow.Now(ctx).UTC().Format(time.RFC3339),
	}
	r.promptQueue = append(r.promptQueue, input.Params.PromptQueue...)

	logger.Info("Starting goal workflow",
		"agent", r.goal.AgentName, "tools", len(r.goal.Tools), "bridge", r.bridgeID)

	if err := workflow.SetQueryHandler(ctx, QueryFrontendMessages, r.frontendMessages); err != nil {
		return nil, fmt.Errorf("register %s query: %w", QueryFrontendMessages, err)
	}
	r.handleSignals(ctx)

	for {
		_, _ = workflow.AwaitWithTimeout(ctx, awaitTimeout, func() bool {
			return len(r.promptQueue) > 0 ||
				r.phase == phaseEnded ||
				r.phase == phaseToolApproved ||
				r.phase == phaseCompletionApproved
		})
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		switch r.phase {
		case phaseCompletionApproved:
			logger.Info("Workflow completion confirmed", "agent", r.goal.AgentName)
			r.addMessage(ctx, agent.ActorConfirmedCompletion, map[string]any{
				"status":    "workflow_completion_confirmed",
				"timestamp": workflow.Now(ctx).UTC().Format(time.RFC3339),
			})
			r.addMessage(ctx, agent.ActorAgent, map[string]any{
				"response": "Workflow completed successfully!",
				"status":   "completed",
			})
			return &agent.GoalResult{
				ConversationHistory: agent.ConversationHistory{Messages: r.history},
				LastToolResult:      r.lastToolResult,
				AgentResult:         r.agentResult,
			}, nil

		case phaseEnded:
			logger.Info("Chat ended", "agent", r.goal.AgentName)
			return &agent.GoalResult{
				ConversationHistory: agent.ConversationHistory{Messages: r.history},
				LastToolResult:      r.lastToolResult,
			}, nil

		case phaseToolApproved:
			if r.toolData != nil && r.toolData.Tool != "" {
				r.executeTool(ctx)
			} else {
				logger.Warn("Tool approved but no proposal recorded")
				r.phase, _ = transition(r.phase, eventToolExecuted)
			}
			continue
		}

		if len(r.promptQueue) > 0 {
			r.processPrompt(ctx)
		}
	}
}

// processPrompt pops one prompt, asks the planner for the next decision and
// applies it: propose a tool, propose completion or just answer.
func (r *goalRun) processPrompt(ctx workflow.Context) {
	logger := workflow.GetLogger(ctx)
	prompt := r.promptQueue[0]
	r.promptQueue = r.promptQueue[1:]
	r.addMessage(ctx, agent.ActorUser, prompt)

	instructions := prompts.ContextInstructions(r.goal,
		agent.ConversationHistory{Messages: r.history}, r.toolData)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout:    plannerStartToClose,
		ScheduleToCloseTimeout: plannerScheduleToClose,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 1,
		},
	}
	var decision agent.ToolDecision
	err := workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, ao),
		ActivityPlanner, agent.PlannerInput{Prompt: prompt, ContextInstructions: instructions}).
		Get(ctx, &decision)
	if err != nil {
		logger.Error("Planner activity failed", "error", err)
		decision = agent.ToolDecision{
			Next:     agent.NextQuestion,
			Response: fmt.Sprintf("I hit a problem planning the next step: %v. Could you rephrase or try again?", err),
			Args:     map[string]any{},
		}
	}
	decision.ForceConfirm = true
	r.toolData = &decision

	switch {
	case decision.Next == agent.NextConfirm && decision.Tool != "":
		logger.Info("Tool selected", "tool", decision.Tool)
		r.applyEvent(ctx, eventProposeTool)

	case decision.Next == agent.NextDone:
		logger.Info("Workflow completion requested", "agent", r.goal.AgentName)
		r.agentResult = decision.Response
		if r.agentResult != nil {
			r.addMessage(ctx, agent.ActorAgent, map[string]any{
				"response": "Analysis complete! Here are my findings:",
				"result":   r.agentResult,
				"type":     agent.MessageTypeWorkflowResult,
			})
		}
		r.applyEvent(ctx, eventProposeCompletion)
		r.addMessage(ctx, agent.ActorAgent, map[string]any{
			"response":     "Do you want to finish the workflow and proceed with these results?",
			"agent_result": r.agentResult,
			"next":         agent.NextConfirmCompletion,
			"type":         agent.MessageTypeWorkflowCompletion,
			"status":       "pending_confirmation",
		})
	}

	if decision.Next != agent.NextDone {
		r.addMessage(ctx, agent.ActorAgent, decisionMap(decision))
	}
}

// executeTool runs the approved tool. Approval is consumed before execution
// so a re-delivered confirm cannot run the tool twice, and every failure is
// converted into a structured result the planner can analyze on the next
// turn.
func (r *goalRun) executeTool(ctx workflow.Context) {
	logger := workflow.GetLogger(ctx)
	d := r.toolData
	tool := d.Tool
	logger.Info("Executing tool", "tool", tool)
	r.applyEvent(ctx, eventToolExecuted)

	var result map[string]any
	td, ok := r.goal.Tool(tool)
	if !ok {
		logger.Error("No tool definition found", "tool", tool)
		result = executionFailure(tool, d.Args, fmt.Errorf("tool %q is not part of goal %q", tool, r.goal.AgentName))
	} else {
		switch td.Execution {
		case agent.ExecuteAgent:
			r.addMessage(ctx, agent.ActorAgent, fmt.Sprintf(
				"I'm executing the %s tool. Starting the %s workflow...",
				tool, strings.ReplaceAll(tool, "Agent", " Agent")))
			result = r.runChildAgent(ctx, tool, d.Args)

		case agent.ExecuteActivity:
			r.addMessage(ctx, agent.ActorAgent, fmt.Sprintf("I'm executing the %s tool...", tool))
			args, unresolved := agent.ResolveArgs(d.Args, r.bridgeID, r.lastToolResult)
			for _, key := range unresolved {
				logger.Warn("Could not resolve argument from previous result", "arg", key, "tool", tool)
			}
			ao := workflow.ActivityOptions{
				StartToCloseTimeout:    toolStartToClose,
				ScheduleToCloseTimeout: toolScheduleToClose,
				RetryPolicy: &temporal.RetryPolicy{
					InitialInterval:    time.Second,
					BackoffCoefficient: 2,
					MaximumAttempts:    toolMaxAttempts,
					NonRetryableErrorTypes: []string{"validation_error"},
				},
			}
			err := workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, ao),
				td.ActivityName, args).Get(ctx, &result)
			if err != nil {
				logger.Error("Tool execution failed", "tool", tool, "error", err)
				result = executionFailure(tool, args, err)
			}
		}
	}

	r.addMessage(ctx, agent.ActorAgent, result)
	r.lastToolResult = result
	r.toolData = nil
	r.promptQueue = append(r.promptQueue, prompts.ToolCompletionPrompt(r.goal, tool, result))
}

// runChildAgent executes an agent tool as a child goal workflow built from
// the goal registry, propagating the bridge ID so the child shares the same
// extraction store and frontend transcript.
func (r *goalRun) runChildAgent(ctx workflow.Context, tool string, args map[string]any) map[string]any {
	logger := workflow.GetLogger(ctx)
	childGoal, err := goals.ForChildTool(tool, args)
	if err != nil {
		return map[string]any{
			"success": false,
			"error":   fmt.Sprintf("Child workflow execution failed: %v", err),
			"tool":    tool,
		}
	}

	r.childSeq++
	info := workflow.GetInfo(ctx)
	childID := fmt.Sprintf("%s-%s-%d", strings.ToLower(tool), info.WorkflowExecution.ID, r.childSeq)

	var starter []string
	if childGoal.StarterPrompt != "" {
		starter = []string{childGoal.StarterPrompt}
	}
	input := agent.GoalInput{
		Goal: childGoal,
		Params: agent.GoalParams{
			ParentWorkflowID: info.WorkflowExecution.ID,
			BridgeWorkflowID: r.bridgeID,
			PromptQueue:      starter,
		},
	}

	cctx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
		WorkflowID:               childID,
		TaskQueue:                TaskQueue,
		WorkflowExecutionTimeout: time.Hour,
		WorkflowTaskTimeout:      time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    2,
		},
	})
	logger.Info("Starting child workflow", "tool", tool, "child_id", childID)

	var out agent.GoalResult
	if err := workflow.ExecuteChildWorkflow(cctx, GoalWorkflow, input).Get(ctx, &out); err != nil {
		logger.Error("Child workflow execution failed", "tool", tool, "error", err)
		return map[string]any{
			"success": false,
			"error":   fmt.Sprintf("Child workflow execution failed: %v", err),
			"tool":    tool,
		}
	}
	logger.Info("Child workflow completed", "tool", tool, "child_id", childID)

	if out.AgentResult != nil {
		if m, ok := out.AgentResult.(map[string]any); ok {
			return m
		}
		return map[string]any{"result": out.AgentResult}
	}
	if out.LastToolResult != nil {
		return out.LastToolResult
	}
	return map[string]any{"success": true, "tool": tool}
}

// handleSignals drains every signal channel on its own workflow goroutine.
func (r *goalRun) handleSignals(ctx workflow.Context) {
	logger := workflow.GetLogger(ctx)

	workflow.Go(ctx, func(ctx workflow.Context) {
		ch := workflow.GetSignalChannel(ctx, SignalUserPrompt)
		for {
			var prompt string
			ch.Receive(ctx, &prompt)
			if r.phase == phaseEnded {
				continue
			}
			r.promptQueue = append(r.promptQueue, prompt)
		}
	})

	workflow.Go(ctx, func(ctx workflow.Context) {
		ch := workflow.GetSignalChannel(ctx, SignalConfirmTool)
		for {
			ch.Receive(ctx, nil)
			r.onConfirmTool(ctx)
		}
	})

	workflow.Go(ctx, func(ctx workflow.Context) {
		ch := workflow.GetSignalChannel(ctx, SignalCancelTool)
		for {
			ch.Receive(ctx, nil)
			r.onCancelTool(ctx)
		}
	})

	workflow.Go(ctx, func(ctx workflow.Context) {
		ch := workflow.GetSignalChannel(ctx, SignalConfirmCompletion)
		for {
			ch.Receive(ctx, nil)
			r.onConfirmCompletion(ctx)
		}
	})

	workflow.Go(ctx, func(ctx workflow.Context) {
		ch := workflow.GetSignalChannel(ctx, SignalCancelCompletion)
		for {
			ch.Receive(ctx, nil)
			r.onCancelCompletion(ctx)
		}
	})

	workflow.Go(ctx, func(ctx workflow.Context) {
		ch := workflow.GetSignalChannel(ctx, SignalEndChat)
		for {
			ch.Receive(ctx, nil)
			logger.Info("Chat session ending", "agent", r.goal.AgentName)
			r.applyEvent(ctx, eventEndChat)
		}
	})
}

// onConfirmTool approves the outstanding proposal, records the confirmation
// against the proposing message and forwards it to the bridge. Duplicate
// confirms are no-ops.
func (r *goalRun) onConfirmTool(ctx workflow.Context) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Tool confirmation received", "phase", r.phase.String())

	next, ok := transition(r.phase, eventConfirm)
	if !ok {
		return
	}

	// Record the confirmation against the most recent proposal so the
	// frontend can match them up.
	for i := len(r.history) - 1; i >= 0; i-- {
		msg := r.history[i]
		resp, isMap := msg.Response.(map[string]any)
		if msg.Actor != agent.ActorAgent || !isMap || resp["next"] != agent.NextConfirm {
			continue
		}
		confirmed := make(map[string]any, len(resp)+2)
		for k, v := range resp {
			confirmed[k] = v
		}
		confirmed["next"] = agent.NextConfirmed
		confirmed["status"] = "user_confirmed"
		r.addMessage(ctx, agent.ActorConfirmedToolRun, confirmed)
		if r.bridgeID != "" {
			r.signalBridge(ctx, ChildMessage{
				ChildWorkflowID: workflow.GetInfo(ctx).WorkflowExecution.ID,
				AgentType:       r.goal.AgentName,
				Actor:           agent.ActorConfirmedToolRun,
				Response:        confirmed,
				MessageID:       r.messageID(ctx),
			}, false)
		}
		break
	}

	r.phase = next
	r.promptQueue = nil
}

func (r *goalRun) onCancelTool(ctx workflow.Context) {
	logger := workflow.GetLogger(ctx)
	tool := "unknown"
	if r.toolData != nil && r.toolData.Tool != "" {
		tool = r.toolData.Tool
	}
	logger.Info("Tool cancelled", "tool", tool)

	data := map[string]any{
		"tool":      tool,
		"status":    "user_cancelled",
		"timestamp": workflow.Now(ctx).UTC().Format(time.RFC3339),
		"message":   fmt.Sprintf("Tool execution cancelled by user: %s", tool),
	}
	r.addMessage(ctx, agent.ActorCancelledToolRun, data)
	if r.bridgeID != "" {
		r.signalBridge(ctx, ChildMessage{
			ChildWorkflowID: workflow.GetInfo(ctx).WorkflowExecution.ID,
			AgentType:       r.goal.AgentName,
			Actor:           agent.ActorCancelledToolRun,
			Response:        data,
			MessageID:       r.messageID(ctx),
		}, false)
	}

	r.applyEvent(ctx, eventCancelTool)
	r.toolData = nil
	r.promptQueue = nil
}

// onConfirmCompletion approves finishing. The bridge notification is awaited
// so it cannot be lost when the workflow returns right after.
func (r *goalRun) onConfirmCompletion(ctx workflow.Context) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Workflow completion confirmation received", "agent", r.goal.AgentName)

	now := workflow.Now(ctx).UTC().Format(time.RFC3339)
	r.addMessage(ctx, agent.ActorConfirmedCompletion, map[string]any{
		"status":     "workflow_completion_confirmed",
		"timestamp":  now,
		"message":    "User confirmed workflow completion",
		"agent_type": r.goal.AgentName,
	})
	if r.bridgeID != "" {
		r.signalBridge(ctx, ChildMessage{
			ChildWorkflowID: workflow.GetInfo(ctx).WorkflowExecution.ID,
			AgentType:       r.goal.AgentName,
			Actor:           agent.ActorConfirmedCompletion,
			Response: map[string]any{
				"status":     "workflow_completion_confirmed",
				"timestamp":  now,
				"agent_type": r.goal.AgentName,
			},
			MessageID: r.messageID(ctx),
		}, true)
	}
	r.applyEvent(ctx, eventConfirmCompletion)
}

func (r *goalRun) onCancelCompletion(ctx workflow.Context) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Workflow completion cancelled", "agent", r.goal.AgentName)

	data := map[string]any{
		"status":        "workflow_completion_cancelled",
		"timestamp":     workflow.Now(ctx).UTC().Format(time.RFC3339),
		"message":       "User cancelled workflow completion",
		"workflow_type": r.goal.AgentName,
	}
	r.addMessage(ctx, agent.ActorCancelledCompletion, data)
	if r.bridgeID != "" {
		r.signalBridge(ctx, ChildMessage{
			ChildWorkflowID: workflow.GetInfo(ctx).WorkflowExecution.ID,
			AgentType:       r.goal.AgentName,
			Actor:           agent.ActorCancelledCompletion,
			Response:        data,
			MessageID:       r.messageID(ctx),
		}, false)
	}

	r.applyEvent(ctx, eventCancelCompletion)
	r.promptQueue = nil
}

// applyEvent runs the transition function and logs ignored events.
func (r *goalRun) applyEvent(ctx workflow.Context, event phaseEvent) {
	next, ok := transition(r.phase, event)
	if !ok {
		workflow.GetLogger(ctx).Debug("Ignoring phase event",
			"event", event.String(), "phase", r.phase.String())
		return
	}
	r.phase = next
}

// addMessage appends to the transcript, stamping agent messages with the
// agent's identity, and mirrors agent and tool messages to the bridge.
func (r *goalRun) addMessage(ctx workflow.Context, actor string, response any) {
	msg := agent.Message{Actor: actor, Response: response, MessageID: r.messageID(ctx)}
	if actor == agent.ActorAgent {
		msg.AgentType = r.goal.AgentName
		switch resp := response.(type) {
		case map[string]any:
			if _, ok := resp["agent_type"]; !ok {
				tagged := make(map[string]any, len(resp)+1)
				for k, v := range resp {
					tagged[k] = v
				}
				tagged["agent_type"] = r.goal.AgentName
				msg.Response = tagged
			}
		case string:
			msg.Response = fmt.Sprintf("**%s:** %s", r.goal.AgentName, resp)
		}
	}
	r.history = append(r.history, msg)
	r.times = append(r.times, workflow.Now(ctx).UTC().Format(time.RFC3339))

	if (actor == agent.ActorAgent || actor == agent.ActorToolResult) && r.bridgeID != "" {
		childID := workflow.GetInfo(ctx).WorkflowExecution.ID
		if resp, ok := msg.Response.(map[string]any); ok {
			if original, ok := resp["child_workflow_id"].(string); ok && original != "" {
				childID = original
			}
		}
		r.signalBridge(ctx, ChildMessage{
			ChildWorkflowID: childID,
			AgentType:       msg.AgentType,
			Actor:           msg.Actor,
			Response:        msg.Response,
			MessageID:       msg.MessageID,
		}, false)
	}
}

func (r *goalRun) messageID(ctx workflow.Context) string {
	r.msgSeq++
	return fmt.Sprintf("%s-%d", workflow.GetInfo(ctx).WorkflowExecution.ID, r.msgSeq)
}

// signalBridge notifies the bridge workflow of a transcript change. A failed
/// send never fails the goal workflow: when not awaited the error is only
// logged, and when awaited (completion confirmation) the caller still
// proceeds.
func (r *goalRun) signalBridge(ctx workflow.Context, msg ChildMessage, await bool) {
	f := workflow.SignalExternalWorkflow(ctx, r.bridgeID, "", SignalChildMessageAdded, msg)
	if await {
		if err := f.Get(ctx, nil); err != nil {
			workflow.GetLogger(ctx).Warn("Failed to signal bridge workflow", "error", err)
		}
		return
	}
	workflow.Go(ctx, func(gctx workflow.Context) {
		if err := f.Get(gctx, nil); err != nil {
			workflow.GetLogger(gctx).Warn("Failed to signal bridge workflow", "error", err)
		}
	})
}

// frontendMessages serves the transcript query. Child workflows redirect the
// caller to the bridge instead of exposing a partial view.
func (r *goalRun) frontendMessages() ([]agent.FrontendMessage, error) {
	if r.parentID != "" {
		return []agent.FrontendMessage{{
			MessageID: "child-redirect",
			Actor:     "system",
			Response:  fmt.Sprintf("This is a child workflow. Please query the parent workflow: %s", r.parentID),
			Timestamp: r.startedAt,
			Type:      agent.MessageTypeError,
			AgentType: "System",
		}}, nil
	}
	out := make([]agent.FrontendMessage, len(r.history))
	for i, msg := range r.history {
		agentType := msg.AgentType
		if agentType == "" {
			agentType = r.goal.AgentName
		}
		out[i] = agent.FrontendMessage{
			MessageID: msg.MessageID,
			Actor:     msg.Actor,
			Response:  msg.Response,
			Timestamp: r.times[i],
			Type:      agent.MessageTypeAgent,
			AgentType: agentType,
		}
	}
	return out, nil
}

// decisionMap renders a planner decision the way it is stored in transcripts
// and matched by the confirmation handler.
func decisionMap(d agent.ToolDecision) map[string]any {
	m := map[string]any{
		"next":          d.Next,
		"response":      d.Response,
		"args":          d.Args,
		"force_confirm": d.ForceConfirm,
	}
	if d.Tool != "" {
		m["tool"] = d.Tool
	} else {
		m["tool"] = nil
	}
	return m
}

// executionFailure converts a tool failure into the structured in-band
// result the planner analyzes on the following turn.
func executionFailure(tool string, args map[string]any, err error) map[string]any {
	return map[string]any{
		"success":    false,
		"error":      err.Error(),
		"tool":       tool,
		"args":       args,
		"error_type": "execution_failure",
	}
}
