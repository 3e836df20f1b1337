package prompts

import (
	"encoding/json"
	"fmt"

	"github.com/treatyline/subpack/internal/agent"
	"github.com/treatyline/subpack/internal/agent/goals"
)

const supervisorCompletion = `### The '%s' tool completed with result: %s

=== DETERMINE NEXT TOOL (Supervisor Agent Workflow) ===

ERROR HANDLING:
IF the tool failed ("success": false or an error is present):
  Analyze the error and set next='question' asking the user for help.
  Do NOT silently retry the tool.

NEXT TOOL BASED ON CURRENT STATE (if successful):

IF current tool == "SubmissionPackParserAgent":
  NEXT: HistoricalMatcher. Pass program_id from previous results. Events are
  retrieved from the workflow's data store automatically.

IF current tool == "HistoricalMatcher":
  NEXT: PopulateCedantData. Pass program_id. Historical matches and
  as_of_year are retrieved from the workflow's data store automatically.

IF current tool == "PopulateCedantData":
  NEXT: CompareToExistingCedantData. Extract loss_data_id from the result and
  use "USE_PREVIOUS_RESULT" for new_records.

IF current tool == "CompareToExistingCedantData":
  NEXT: none. Set next='done' with a summary of additions, modifications and
  unchanged records.

Return ONLY valid JSON. Do NOT call %s again, it already completed.`

const parserCompletion = `### The '%s' tool completed with result: %s

=== DETERMINE NEXT TOOL (Submission Pack Parser Workflow) ===

IF the tool failed, set next='question' and ask the user for guidance.

IF current tool == "LocateSubmissionPack":
  NEXT: SheetIdentifier with the file_path from the result.

IF current tool == "SheetIdentifier":
  NEXT: ExtractAsOfYear with the same file_path.

IF current tool == "ExtractAsOfYear":
  NEXT: ExtractCatastropheEvents with file_path and the sheet names
  identified earlier.

IF current tool == "ExtractCatastropheEvents":
  NEXT: none. Set next='done' with a summary of the extracted events; the
  events and As Of Year are already stored for downstream tools.

Return ONLY valid JSON. Do NOT call %s again, it already completed.`

const sheetCompletion = `### The '%s' tool completed with result: %s

=== DETERMINE NEXT TOOL (Sheet Identification Workflow) ===

IF the tool failed, set next='question' and ask the user for guidance.

IF current tool == "GetSheetNames":
  NEXT: ReadSheet on the most promising candidate sheets (loss summaries,
  catastrophe tabs, event listings). Preview mode is enough.

IF current tool == "ReadSheet":
  Decide whether the sheet holds catastrophe loss data. Read further sheets if
  the identification is still ambiguous; otherwise set next='done' with the
  identified sheet names as the result.

Return ONLY valid JSON. Do NOT call %s again, it already completed.`

// ToolCompletionPrompt builds the deterministic prompt queued after a tool
// finishes. It embeds the (truncated) result and the goal-specific guidance
// on what comes next. Unknown agents get the supervisor guidance, the most
// generic of the three.
func ToolCompletionPrompt(goal agent.AgentGoal, tool string, result map[string]any) string {
	resultJSON, err := json.Marshal(truncate(result))
	if err != nil {
		resultJSON = []byte("{}")
	}
	tmpl := supervisorCompletion
	switch goal.AgentName {
	case goals.ParserAgentName:
		tmpl = parserCompletion
	case goals.SheetAgentName:
		tmpl = sheetCompletion
	}
	return fmt.Sprintf(tmpl, tool, resultJSON, tool, tool)
}
