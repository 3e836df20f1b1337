// Package prompts builds the planner prompts: context instructions listing
// the agent's tools, compressed conversation history and the per-agent
// guidance injected after each tool completes. Everything here is pure string
// assembly so it is safe to call from workflow code.
package prompts

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/treatyline/subpack/internal/agent"
)

const (
	// maxRecentMessages is how many transcript entries survive compression
	// verbatim; older entries collapse into a one-line summary.
	maxRecentMessages = 10
	// maxStringLen caps string values embedded in the prompt.
	maxStringLen = 500
	// maxEventItems caps event lists embedded in the prompt.
	maxEventItems = 3
	// maxListItems caps all other lists embedded in the prompt.
	maxListItems = 10
)

// eventListKeys are result keys holding event lists, which dominate token
// usage when shown in full.
var eventListKeys = map[string]bool{
	"events":           true,
	"processed_events": true,
	"extracted_events": true,
}

// truncate returns a prompt-safe copy of v with oversized strings, lists and
// match payloads reduced to representative samples.
func truncate(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if k == "historical_matches" {
				if list, ok := item.([]any); ok {
					out[k] = map[string]any{
						"_summary": fmt.Sprintf("%d historical matches available", len(list)),
						"_count":   len(list),
						"_note":    "Full data stored in workflow state, accessible to tools",
					}
					continue
				}
			}
			if list, ok := item.([]any); ok {
				limit := maxListItems
				if eventListKeys[k] {
					limit = maxEventItems
				}
				out[k] = truncateList(list, limit)
				continue
			}
			out[k] = truncate(item)
		}
		return out
	case []any:
		return truncateList(val, maxListItems)
	case string:
		if len(val) > maxStringLen {
			return val[:maxStringLen] + "..."
		}
		return val
	default:
		return v
	}
}

func truncateList(list []any, limit int) []any {
	if len(list) <= limit {
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = truncate(item)
		}
		return out
	}
	out := make([]any, 0, limit+1)
	for _, item := range list[:limit] {
		out = append(out, truncate(item))
	}
	return append(out, fmt.Sprintf("... and %d more items", len(list)-limit))
}

// Compress reduces a transcript for prompt embedding: the most recent
// messages are kept (with large payloads truncated) and everything older is
// folded into a single summary entry recording which tools ran and what the
// user asked early on.
func Compress(history agent.ConversationHistory) agent.ConversationHistory {
	msgs := history.Messages
	if len(msgs) <= maxRecentMessages {
		return agent.ConversationHistory{Messages: truncateMessages(msgs)}
	}

	old := msgs[:len(msgs)-maxRecentMessages]
	recent := msgs[len(msgs)-maxRecentMessages:]

	toolCounts := map[string]int{}
	var toolOrder []string
	var queries []string
	for _, m := range old {
		switch m.Actor {
		case agent.ActorConfirmedToolRun:
			if resp, ok := m.Response.(map[string]any); ok {
				if tool, ok := resp["tool"].(string); ok && tool != "" {
					if toolCounts[tool] == 0 {
						toolOrder = append(toolOrder, tool)
					}
					toolCounts[tool]++
				}
			}
		case agent.ActorUser:
			if q, ok := m.Response.(string); ok && q != "" && len(q) < 100 {
				queries = append(queries, q)
			}
		}
	}

	var parts []string
	if len(toolOrder) > 0 {
		sort.Strings(toolOrder)
		items := make([]string, len(toolOrder))
		for i, tool := range toolOrder {
			items[i] = fmt.Sprintf("%s(%d)", tool, toolCounts[tool])
		}
		parts = append(parts, "Tools executed: "+strings.Join(items, ", "))
	}
	if len(queries) > 0 {
		if len(queries) > 3 {
			queries = queries[:3]
		}
		parts = append(parts, "Earlier queries: "+strings.Join(queries, "; "))
	}

	summary := agent.Message{
		Actor: "system_summary",
		Response: map[string]any{
			"message":             "[Earlier conversation summary] " + strings.Join(parts, " | "),
			"compressed_messages": len(old),
		},
	}
	return agent.ConversationHistory{Messages: append([]agent.Message{summary}, truncateMessages(recent)...)}
}

func truncateMessages(msgs []agent.Message) []agent.Message {
	out := make([]agent.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if resp, ok := m.Response.(map[string]any); ok {
			out[i].Response = truncate(resp)
		}
	}
	return out
}

var contextTmpl = template.Must(template.New("context").Parse(`You are an AI agent that helps fill required arguments for the tools described below.
You must respond with valid JSON ONLY, using the schema provided in the instructions.

=== Conversation History ===
This is the ongoing history to determine which tool and arguments to gather:
*BEGIN CONVERSATION HISTORY*
{{.HistoryJSON}}
*END CONVERSATION HISTORY*
REMINDER: You can use the conversation history to infer arguments for the tools.
{{if .Goal.ExampleConversationHistory}}
=== Example Conversation With These Tools ===
BEGIN EXAMPLE
{{.Goal.ExampleConversationHistory}}
END EXAMPLE
{{end}}
=== Tools Definitions ===
There are {{len .Goal.Tools}} available tools:
{{.ToolNames}}
Goal: {{.Goal.Description}}
Gather the necessary information for each tool in the sequence described above.
Only ask for arguments listed below. Do not add extra arguments.
{{range .Goal.Tools}}
Tool name: {{.Name}}
  Description: {{.Description}}
  Required args:
{{- range .Arguments}}
    - {{.Name}} ({{.Type}}): {{.Description}}
{{- end}}
{{end}}
When all required args for a tool are known, you can propose next='confirm' to run it.
{{if .PendingJSON}}
=== Pending Tool Proposal ===
A tool proposal is awaiting validation. Re-emit or correct it:
{{.PendingJSON}}
{{end}}
=== Instructions for JSON Generation ===
Your JSON format must be:
{
  "response": "<plain text>",
  "next": "<question|confirm|done>",
  "tool": "<tool_name or null>",
  "args": {"<arg>": "<value or null>", ...}
}

CRITICAL DECISION LOGIC - Follow this exactly:

Step 1: Do you have ALL required arguments with actual values (not null, not empty)?
  YES: Set next='confirm' and proceed to step 2
  NO: Set next='question', ask for the missing arguments, and STOP

Step 2: Set next='confirm', set the tool name, fill in all args.
Response: "Let's proceed with <tool_name>." (keep it brief)

Never call the same tool twice in a row. Check the conversation history for
completed tools before suggesting the next one. When every tool in the goal
has completed successfully, set next='done' with a summary response.`))

// ContextInstructions renders the planner system context for one turn:
// compressed history, the goal's tool catalog and the JSON output contract.
// pending carries a previously proposed decision awaiting validation, nil
// otherwise.
func ContextInstructions(goal agent.AgentGoal, history agent.ConversationHistory, pending *agent.ToolDecision) string {
	historyJSON, err := json.MarshalIndent(Compress(history), "", "  ")
	if err != nil {
		historyJSON = []byte(`{"messages": []}`)
	}
	var pendingJSON string
	if pending != nil {
		if b, err := json.MarshalIndent(pending, "", "  "); err == nil {
			pendingJSON = string(b)
		}
	}
	var sb strings.Builder
	names := make([]string, len(goal.Tools))
	for i, td := range goal.Tools {
		names[i] = td.Name
	}
	_ = contextTmpl.Execute(&sb, struct {
		Goal        agent.AgentGoal
		HistoryJSON string
		ToolNames   string
		PendingJSON string
	}{goal, string(historyJSON), strings.Join(names, ", "), pendingJSON})
	return sb.String()
}
