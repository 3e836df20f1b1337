// Package agent defines the goal model shared by every agent workflow: goals,
// tool definitions, conversation messages, and planner decisions. A goal is an
// immutable value object built once at registration time and carried through
// workflow input; workflows never consult mutable global state to find out
// what an agent can do.
package agent

import "fmt"

// ExecutionType selects how a confirmed tool runs. The variant is fixed when
// the tool definition is constructed so workflow code dispatches on a
// validated tag rather than a free-form string.
type ExecutionType string

const (
	// ExecuteActivity runs the tool as a single activity invocation.
	ExecuteActivity ExecutionType = "activity"
	// ExecuteAgent runs the tool as a child agent workflow created from the
	// goal registry.
	ExecuteAgent ExecutionType = "agent"
)

// ToolArgument describes one argument a tool accepts. Descriptions are shown
// to the planner verbatim, so they double as prompt text.
type ToolArgument struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// ToolDefinition describes a tool an agent may propose. Construct values with
// NewToolDefinition so the execution variant is validated up front.
type ToolDefinition struct {
	// Name is the tool name the planner emits in decisions.
	Name string `json:"name"`
	// Description is shown to the planner when listing available tools.
	Description string `json:"description"`
	// Arguments are the arguments the planner must collect before the tool
	// can be confirmed.
	Arguments []ToolArgument `json:"arguments"`
	// Execution selects activity or child-agent dispatch.
	Execution ExecutionType `json:"execution_type"`
	// ActivityName is the registered activity to invoke when Execution is
	// ExecuteActivity. Required for activity tools.
	ActivityName string `json:"activity_name,omitempty"`
}

// NewToolDefinition builds a validated tool definition.
func NewToolDefinition(name, description string, exec ExecutionType, activityName string, args ...ToolArgument) (ToolDefinition, error) {
	if name == "" {
		return ToolDefinition{}, fmt.Errorf("tool definition requires a name")
	}
	switch exec {
	case ExecuteActivity:
		if activityName == "" {
			return ToolDefinition{}, fmt.Errorf("tool %q: activity tools require an activity name", name)
		}
	case ExecuteAgent:
		if activityName != "" {
			return ToolDefinition{}, fmt.Errorf("tool %q: agent tools must not name an activity", name)
		}
	default:
		return ToolDefinition{}, fmt.Errorf("tool %q: unknown execution type %q", name, exec)
	}
	return ToolDefinition{
		Name:         name,
		Description:  description,
		Arguments:    args,
		Execution:    exec,
		ActivityName: activityName,
	}, nil
}

// MustTool is NewToolDefinition for static registry tables. It panics on
// invalid definitions, which can only happen on programmer error.
func MustTool(name, description string, exec ExecutionType, activityName string, args ...ToolArgument) ToolDefinition {
	td, err := NewToolDefinition(name, description, exec, activityName, args...)
	if err != nil {
		panic(err)
	}
	return td
}

// AgentGoal is the immutable description of one agent: its identity, the
// tools it may use and the conversational framing handed to the planner.
type AgentGoal struct {
	// AgentName identifies the agent in transcripts and routing decisions.
	AgentName string `json:"agent_name"`
	// Tools lists the tools the planner may select.
	Tools []ToolDefinition `json:"tools"`
	// Description frames the agent's purpose for the planner.
	Description string `json:"description"`
	// StarterPrompt seeds the prompt queue when the agent starts as a child
	// workflow.
	StarterPrompt string `json:"starter_prompt,omitempty"`
	// ExampleConversationHistory is few-shot material for the planner.
	ExampleConversationHistory string `json:"example_conversation_history,omitempty"`
}

// Tool returns the definition for name, or false when the goal does not carry
// it.
func (g AgentGoal) Tool(name string) (ToolDefinition, bool) {
	for _, td := range g.Tools {
		if td.Name == name {
			return td, true
		}
	}
	return ToolDefinition{}, false
}
