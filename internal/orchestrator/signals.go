// Package orchestrator implements the durable workflows that drive the
// submission pack pipeline: the bridge workflow that fronts a session, the
// goal workflow that runs one agent's plan/confirm/execute loop and the
// two-level fan-out that matches catastrophe events against the historical
// database. Signal and query names here are the external contract shared
// with the HTTP gateway and with activities.
package orchestrator

// Task queue all workflows and activities run on.
const TaskQueue = "subpack-agents"

// Signal names.
const (
	SignalUserPrompt          = "user_prompt"
	SignalConfirmTool         = "confirm_tool"
	SignalCancelTool          = "cancel_tool"
	SignalConfirmCompletion   = "confirm_completion"
	SignalCancelCompletion    = "cancel_completion"
	SignalEndChat             = "end_chat"
	SignalStoreExtractionData = "store_extraction_data"
	SignalChildMessageAdded   = "child_message_added"
)

// Query names.
const (
	QueryFrontendMessages = "get_frontend_messages"
	QueryExtractionData   = "get_extraction_data"
)

// Extraction store slots accepted by the store_extraction_data signal.
const (
	ExtractionAsOfYear          = "as_of_year"
	ExtractionEvents            = "events"
	ExtractionHistoricalMatches = "historical_matches"
	ExtractionCedantRecords     = "cedant_records"
)

// ExtractionData is the store_extraction_data payload: one typed slot write.
type ExtractionData struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// ExtractionSnapshot is the get_extraction_data query result.
type ExtractionSnapshot struct {
	AsOfYear               *string `json:"as_of_year"`
	Events                 []any   `json:"events"`
	EventsCount            int     `json:"events_count"`
	HistoricalMatches      []any   `json:"historical_matches"`
	HistoricalMatchesCount int     `json:"historical_matches_count"`
	CedantRecords          []any   `json:"cedant_records"`
	CedantRecordsCount     int     `json:"cedant_records_count"`
}

// ChildMessage is the child_message_added payload sent by goal workflows to
// the bridge whenever their transcript grows.
type ChildMessage struct {
	ChildWorkflowID string `json:"child_workflow_id"`
	AgentType       string `json:"agent_type"`
	Actor           string `json:"actor"`
	Response        any    `json:"response"`
	MessageID       string `json:"message_id"`
}
