package agent

// UsePreviousResult is the sentinel the planner places in a tool argument to
// request the matching value from the previous tool's result.
const UsePreviousResult = "USE_PREVIOUS_RESULT"

// BridgeWorkflowIDArg is the argument injected into every activity tool so
// activities can query and signal the owning bridge workflow.
const BridgeWorkflowIDArg = "bridge_workflow_id"

// previousResultFallbacks maps argument names to alternate keys in the
// previous tool result used when the argument name itself is absent. The
// matcher publishes events under "processed_events" and the cedant populator
// publishes records under "all_records", while downstream tools name their
// inputs differently.
var previousResultFallbacks = map[string]string{
	"events_data": "processed_events",
	"new_records": "all_records",
}

// ResolveArgs returns a copy of args with the bridge workflow ID injected and
// every UsePreviousResult sentinel replaced by data from the previous tool
// result. Sentinels with no matching data are left in place for the activity
// to reject; the second return lists their argument names.
func ResolveArgs(args map[string]any, bridgeWorkflowID string, previous map[string]any) (map[string]any, []string) {
	resolved := make(map[string]any, len(args)+1)
	for k, v := range args {
		resolved[k] = v
	}
	if bridgeWorkflowID != "" {
		resolved[BridgeWorkflowIDArg] = bridgeWorkflowID
	}

	var unresolved []string
	for key, val := range resolved {
		s, ok := val.(string)
		if !ok || s != UsePreviousResult {
			continue
		}
		if previous != nil {
			if v, ok := previous[key]; ok {
				resolved[key] = v
				continue
			}
			if alt, ok := previousResultFallbacks[key]; ok {
				if v, ok := previous[alt]; ok {
					resolved[key] = v
					continue
				}
			}
		}
		unresolved = append(unresolved, key)
	}
	return resolved, unresolved
}
