package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveArgsInjectsBridgeID(t *testing.T) {
	resolved, unresolved := ResolveArgs(map[string]any{"program_id": "PRG-1"}, "bridge-123", nil)
	require.Empty(t, unresolved)
	assert.Equal(t, "bridge-123", resolved[BridgeWorkflowIDArg])
	assert.Equal(t, "PRG-1", resolved["program_id"])
}

func TestResolveArgsDoesNotMutateInput(t *testing.T) {
	args := map[string]any{"events_data": UsePreviousResult}
	prev := map[string]any{"events_data": []any{"x"}}
	resolved, unresolved := ResolveArgs(args, "b", prev)
	require.Empty(t, unresolved)
	assert.Equal(t, UsePreviousResult, args["events_data"], "caller map must be untouched")
	assert.Equal(t, []any{"x"}, resolved["events_data"])
}

func TestResolveArgsDirectKeyWinsOverFallback(t *testing.T) {
	prev := map[string]any{
		"events_data":      []any{"direct"},
		"processed_events": []any{"fallback"},
	}
	resolved, unresolved := ResolveArgs(map[string]any{"events_data": UsePreviousResult}, "", prev)
	require.Empty(t, unresolved)
	assert.Equal(t, []any{"direct"}, resolved["events_data"])
}

func TestResolveArgsFallbacks(t *testing.T) {
	cases := []struct {
		name    string
		arg     string
		prevKey string
	}{
		{"events from matcher output", "events_data", "processed_events"},
		{"records from populate output", "new_records", "all_records"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prev := map[string]any{tc.prevKey: []any{1.0, 2.0}}
			resolved, unresolved := ResolveArgs(map[string]any{tc.arg: UsePreviousResult}, "", prev)
			require.Empty(t, unresolved)
			assert.Equal(t, []any{1.0, 2.0}, resolved[tc.arg])
		})
	}
}

func TestResolveArgsReportsUnresolvable(t *testing.T) {
	resolved, unresolved := ResolveArgs(map[string]any{"summary": UsePreviousResult}, "", map[string]any{"other": 1})
	require.Equal(t, []string{"summary"}, unresolved)
	assert.Equal(t, UsePreviousResult, resolved["summary"], "sentinel stays for the activity to reject")
}

func TestResolveArgsIgnoresNonSentinelStrings(t *testing.T) {
	resolved, unresolved := ResolveArgs(map[string]any{"note": "use_previous_result"}, "", nil)
	require.Empty(t, unresolved)
	assert.Equal(t, "use_previous_result", resolved["note"])
}
