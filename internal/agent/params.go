package agent

// GoalParams carries the per-run wiring of a goal workflow: where it sits in
// the workflow tree and any prompts queued before it starts.
type GoalParams struct {
	// ConversationSummary primes the transcript when resuming a session.
	ConversationSummary string `json:"conversation_summary,omitempty"`
	// PromptQueue seeds the workflow's prompt queue.
	PromptQueue []string `json:"prompt_queue,omitempty"`
	// ParentWorkflowID is the direct parent, set for child workflows.
	ParentWorkflowID string `json:"parent_workflow_id,omitempty"`
	// BridgeWorkflowID is the root bridge workflow that owns the shared
	// extraction store and the frontend transcript.
	BridgeWorkflowID string `json:"bridge_workflow_id,omitempty"`
}

// GoalInput is the single workflow argument for goal and bridge workflows.
type GoalInput struct {
	Goal   AgentGoal  `json:"agent_goal"`
	Params GoalParams `json:"tool_params"`
}

// GoalResult is returned when a goal workflow finishes, whether by confirmed
// completion or by an end-of-chat signal.
type GoalResult struct {
	ConversationHistory ConversationHistory `json:"conversation_history"`
	LastToolResult      map[string]any      `json:"last_tool_result,omitempty"`
	AgentResult         any                 `json:"agent_result,omitempty"`
}

// PlannerInput carries one planning request to the decision activity.
type PlannerInput struct {
	Prompt              string `json:"prompt"`
	ContextInstructions string `json:"context_instructions"`
}
