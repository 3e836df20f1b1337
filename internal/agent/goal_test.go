package agent

import "testing"

func TestNewToolDefinitionValidation(t *testing.T) {
	if _, err := NewToolDefinition("", "desc", ExecuteActivity, "act"); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := NewToolDefinition("T", "desc", ExecuteActivity, ""); err == nil {
		t.Error("expected error for activity tool without activity name")
	}
	if _, err := NewToolDefinition("T", "desc", ExecuteAgent, "act"); err == nil {
		t.Error("expected error for agent tool naming an activity")
	}
	if _, err := NewToolDefinition("T", "desc", ExecutionType("batch"), ""); err == nil {
		t.Error("expected error for unknown execution type")
	}
	td, err := NewToolDefinition("T", "desc", ExecuteAgent, "")
	if err != nil {
		t.Fatalf("valid agent tool rejected: %v", err)
	}
	if td.Execution != ExecuteAgent {
		t.Errorf("got execution %q, want %q", td.Execution, ExecuteAgent)
	}
}

func TestGoalToolLookup(t *testing.T) {
	g := AgentGoal{
		AgentName: "Test Agent",
		Tools: []ToolDefinition{
			MustTool("A", "first", ExecuteActivity, "run_a"),
			MustTool("B", "second", ExecuteAgent, ""),
		},
	}
	td, ok := g.Tool("B")
	if !ok {
		t.Fatal("tool B not found")
	}
	if td.Execution != ExecuteAgent {
		t.Errorf("got execution %q, want agent", td.Execution)
	}
	if _, ok := g.Tool("C"); ok {
		t.Error("unexpected hit for unknown tool")
	}
}
