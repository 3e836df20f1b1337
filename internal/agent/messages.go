package agent

// Actors recorded in conversation transcripts. User-driven actors carry the
// action they confirmed or cancelled so frontend polling can react to them.
const (
	ActorUser                 = "user"
	ActorAgent                = "agent"
	ActorToolResult           = "tool_result"
	ActorConfirmedToolRun     = "user_confirmed_tool_run"
	ActorCancelledToolRun     = "user_cancelled_tool_run"
	ActorConfirmedCompletion  = "user_confirmed_completion"
	ActorCancelledCompletion  = "user_cancelled_completion"
)

// Planner decision steps. The planner emits exactly one per turn.
const (
	NextConfirm  = "confirm"
	NextDone     = "done"
	NextQuestion = "question"
	// NextConfirmed marks an already-confirmed proposal in transcripts.
	NextConfirmed = "confirmed"
	// NextConfirmCompletion asks the user to approve finishing the workflow.
	NextConfirmCompletion = "confirm_completion"
)

// Message is one entry in an agent workflow's conversation history. Response
// is either a plain string or a JSON object (planner decisions, tool results,
// confirmation records).
type Message struct {
	Actor     string `json:"actor"`
	Response  any    `json:"response"`
	MessageID string `json:"message_id"`
	AgentType string `json:"agent_type,omitempty"`
}

// ConversationHistory is the full transcript of one agent workflow.
type ConversationHistory struct {
	Messages []Message `json:"messages"`
}

// ToolDecision is the planner's structured answer: what to do next and, when
// a tool is proposed, which tool with which arguments.
type ToolDecision struct {
	Next         string         `json:"next"`
	Tool         string         `json:"tool,omitempty"`
	Response     any            `json:"response,omitempty"`
	Args         map[string]any `json:"args,omitempty"`
	ForceConfirm bool           `json:"force_confirm,omitempty"`
}

// FrontendMessage is the shape served to API clients by the bridge transcript
// query. Field names are part of the external contract.
type FrontendMessage struct {
	MessageID            string `json:"message_id"`
	Actor                string `json:"actor"`
	Response             any    `json:"response"`
	Timestamp            string `json:"timestamp"`
	Type                 string `json:"type"`
	AgentType            string `json:"agent_type"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
	ToolName             string `json:"tool_name,omitempty"`
}

// Frontend message types beyond the default "agent_message".
const (
	MessageTypeAgent               = "agent_message"
	MessageTypeError               = "error"
	MessageTypeToolResult          = "tool_result"
	MessageTypeConfirmedToolRun    = "user_confirmed_tool_run"
	MessageTypeCancelledToolRun    = "user_cancelled_tool_run"
	MessageTypeConfirmedCompletion = "user_confirmed_completion"
	MessageTypeCancelledCompletion = "user_cancelled_completion"
	MessageTypeWorkflowCompletion  = "workflow_completion"
	MessageTypeWorkflowResult      = "workflow_result"
)
