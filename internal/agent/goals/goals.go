// Package goals holds the static goal definitions for every agent in the
// system and the factory table used to spawn child agents from tools. Goals
// are plain values: the registry hands out copies with per-run starter
// prompts, never shared mutable state.
package goals

import (
	"fmt"

	"github.com/treatyline/subpack/internal/agent"
)

// Agent names as they appear in transcripts, routing and the start endpoint.
const (
	SupervisorAgentName = "Supervisor Agent"
	ParserAgentName     = "Submission Pack Parser"
	SheetAgentName      = "Sheet Identification Specialist"
)

// Activity names referenced by activity tools. They match the registration
// names in the worker.
const (
	ActivityLocateSubmissionPack = "locate_submission_pack"
	ActivityGetSheetNames        = "get_sheet_names"
	ActivityReadSheet            = "read_sheet"
	ActivityExtractAsOfYear      = "extract_as_of_year"
	ActivityExtractEvents        = "extract_catastrophe_events"
	ActivityRunMatchBatch        = "run_match_batch"
	ActivityPopulateCedantData   = "populate_cedant_data"
	ActivityCompareCedantData    = "compare_to_existing_cedant_data"
	ActivityGenerateDiffReport   = "generate_diff_report"
	ActivityExportDiffReport     = "export_diff_report"
)

func strArg(name, desc string, required bool) agent.ToolArgument {
	return agent.ToolArgument{Name: name, Type: "string", Description: desc, Required: required}
}

func arrArg(name, desc string) agent.ToolArgument {
	return agent.ToolArgument{Name: name, Type: "array", Description: desc}
}

// Supervisor returns the top-level agent goal. The supervisor drives the full
// pipeline: parse the submission pack, match events against the historical
// database, populate cedant records and report the differences.
func Supervisor() agent.AgentGoal {
	return agent.AgentGoal{
		AgentName: SupervisorAgentName,
		Description: "Coordinates the end to end submission pack pipeline. " +
			"Parses submission packs with a specialist sub-agent, matches extracted catastrophe events " +
			"against the historical event database, populates cedant loss records and reports what would " +
			"change against the existing cedant ledger. Proposes one tool at a time and waits for user " +
			"confirmation before running it.",
		StarterPrompt: "Greet the user and explain the submission pack pipeline: parse, match, populate, compare.",
		Tools: []agent.ToolDefinition{
			agent.MustTool("SubmissionPackParserAgent",
				"Extract catastrophe loss events from a submission pack using a specialized agent. "+
					"The agent locates the pack for the program, identifies the loss sheets and extracts "+
					"structured event data including loss amounts, dates, descriptions and peril types.",
				agent.ExecuteAgent, "",
				strArg("program_id", "Program ID for tracking and identification (e.g. '153300')", true)),
			agent.MustTool("HistoricalMatcher",
				"Match extracted catastrophe events against the historical event database in parallel, "+
					"one child workflow per event. Events are retrieved from the workflow's data store "+
					"automatically, do not pass them explicitly.",
				agent.ExecuteActivity, ActivityRunMatchBatch,
				strArg("program_id", "Program ID for tracking and identification", true)),
			agent.MustTool("PopulateCedantData",
				"Populate cedant loss data with historical matches from HistoricalMatcher. Read-only, "+
					"generates records for review. Historical matches and as_of_year are retrieved from "+
					"the workflow's data store; only pass as_of_year to override the extracted value.",
				agent.ExecuteActivity, ActivityPopulateCedantData,
				strArg("program_id", "Program ID for the submission pack", true),
				strArg("as_of_year", "Optional As Of Year override; normally taken from the data store", false)),
			agent.MustTool("CompareToExistingCedantData",
				"Compare newly generated cedant records against the existing cedant ledger for a "+
					"LossDataID. Shows what would be added, modified or unchanged.",
				agent.ExecuteActivity, ActivityCompareCedantData,
				strArg("loss_data_id", "LossDataID to check records for (from the PopulateCedantData result)", true),
				arrArg("new_records", "Newly generated records (use the 'all_records' field of the PopulateCedantData result)")),
			agent.MustTool("GenerateDiffReport",
				"Generate a diff report comparing existing and new cedant records with impact assessment.",
				agent.ExecuteActivity, ActivityGenerateDiffReport,
				strArg("loss_data_id", "The LossDataID being processed", true),
				arrArg("existing_records", "Existing records from the cedant ledger"),
				arrArg("new_records", "Newly generated records"),
				strArg("program_id", "Program ID for context", false),
				strArg("as_of_year", "As Of Year for context", false)),
			agent.MustTool("ExportDiffReport",
				"Export a diff report to file in JSON or text format.",
				agent.ExecuteActivity, ActivityExportDiffReport,
				agent.ToolArgument{Name: "diff_report", Type: "object", Description: "The diff report from GenerateDiffReport", Required: true},
				strArg("output_path", "Optional output file path; a default is generated when omitted", false),
				strArg("format", "Export format, 'json' or 'txt' (default 'json')", false)),
		},
	}
}

// Parser returns the submission pack parser sub-agent goal.
func Parser() agent.AgentGoal {
	return agent.AgentGoal{
		AgentName: ParserAgentName,
		Description: "Parses insurance submission pack workbooks. Locates the pack for a program, " +
			"delegates sheet identification to a specialist sub-agent, extracts the As Of Year and " +
			"pulls structured catastrophe events out of the identified loss sheets.",
		Tools: []agent.ToolDefinition{
			agent.MustTool("LocateSubmissionPack",
				"Locate the submission pack file for a Program ID within the configured data directory "+
					"(searches recursively).",
				agent.ExecuteActivity, ActivityLocateSubmissionPack,
				strArg("program_id", "The Program ID to search for (e.g. '153300', '154516')", true)),
			agent.MustTool("SheetIdentifier",
				"Identify catastrophe loss data sheets within an Excel submission pack using a "+
					"specialized sheet identification agent. Spawns a child workflow that inspects the "+
					"workbook structure and picks the sheets containing catastrophe data.",
				agent.ExecuteAgent, "",
				strArg("file_path", "Path to the Excel submission pack file to analyze", true)),
			agent.MustTool("ExtractAsOfYear",
				"Extract the As Of Year from the submission pack to establish the data timeframe.",
				agent.ExecuteActivity, ActivityExtractAsOfYear,
				strArg("file_path", "Path to the submission pack file", true)),
			agent.MustTool("ExtractCatastropheEvents",
				"Extract catastrophe events with calculated values from the identified sheets. "+
					"Supports multiple sheets in a single call.",
				agent.ExecuteActivity, ActivityExtractEvents,
				strArg("file_path", "Path to the submission pack Excel file", true),
				arrArg("sheet_names", "Sheet names to extract catastrophe data from"),
				strArg("user_instructions", "Optional instructions that customize extraction behavior", false)),
		},
	}
}

// SheetIdentifier returns the sheet identification sub-agent goal.
func SheetIdentifier() agent.AgentGoal {
	return agent.AgentGoal{
		AgentName: SheetAgentName,
		Description: "Analyzes Excel workbook structure to find the sheets that hold catastrophe loss " +
			"data. Lists sheet names, previews sheet content and reports the identified loss sheets.",
		Tools: []agent.ToolDefinition{
			agent.MustTool("GetSheetNames",
				"Extract all sheet names and basic workbook metadata from an Excel file. Use this first "+
					"to get an overview of the workbook structure.",
				agent.ExecuteActivity, ActivityGetSheetNames,
				strArg("file_path", "Path to the Excel file to analyze", true)),
			agent.MustTool("ReadSheet",
				"Read content from a specific sheet. Returns headers and sample rows to help identify "+
					"sheet content and structure.",
				agent.ExecuteActivity, ActivityReadSheet,
				strArg("file_path", "Path to the Excel file", true),
				strArg("sheet_name", "Name of the sheet to read", true),
				strArg("mode", "Reading mode, 'preview' (first 15 rows) or 'full'", false)),
		},
	}
}

// ByAgentName returns the goal registered under name.
func ByAgentName(name string) (agent.AgentGoal, bool) {
	switch name {
	case SupervisorAgentName:
		return Supervisor(), true
	case ParserAgentName:
		return Parser(), true
	case SheetAgentName:
		return SheetIdentifier(), true
	}
	return agent.AgentGoal{}, false
}

// ForChildTool builds the goal for a tool that executes as a child agent
// workflow, seeding the starter prompt from the tool arguments.
func ForChildTool(toolName string, args map[string]any) (agent.AgentGoal, error) {
	str := func(key, fallback string) string {
		if v, ok := args[key].(string); ok && v != "" {
			return v
		}
		return fallback
	}
	switch toolName {
	case "SubmissionPackParserAgent":
		g := Parser()
		programID := str("program_id", "unknown")
		g.StarterPrompt = fmt.Sprintf(
			"Extract catastrophe events for Program ID %s. Start by locating the submission pack file.",
			programID)
		return g, nil
	case "SheetIdentifier", "SheetIdentificationAgent":
		g := SheetIdentifier()
		filePath := str("file_path", "")
		g.StarterPrompt = fmt.Sprintf(
			"Analyze the Excel workbook at '%s' to identify catastrophe loss data sheets. "+
				"Start by using GetSheetNames with file_path='%s' to get the complete list of sheets.",
			filePath, filePath)
		return g, nil
	}
	return agent.AgentGoal{}, fmt.Errorf("no goal factory for child workflow tool %q", toolName)
}
