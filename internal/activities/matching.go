package activities

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"goa.design/clue/log"

	"github.com/treatyline/subpack/internal/match"
	"github.com/treatyline/subpack/internal/orchestrator"
	"github.com/treatyline/subpack/internal/store"
)

// batchExecutionTimeout bounds one parallel matching batch end to end.
const batchExecutionTimeout = 30 * time.Minute

// Matching implements the historical matching activities: the per-event
// lookup the batch workflow fans out to, and the client-side activity that
// launches the batch and relays its results back to the bridge.
type Matching struct {
	store  store.Client
	tc     temporalClient
	bridge *BridgeClient
}

// NewMatching builds the matching activities.
func NewMatching(st store.Client, tc client.Client, bridge *BridgeClient) *Matching {
	return &Matching{store: st, tc: tc, bridge: bridge}
}

// MatchSingleEvent looks one catastrophe event up in the historical event
// database. Validation failures return in-band with error_type
// "validation_error" so the calling workflow can skip retries.
func (m *Matching) MatchSingleEvent(ctx context.Context, input map[string]any) (map[string]any, error) {
	event, ok := input["event_data"].(map[string]any)
	if !ok || len(event) == 0 {
		return matchValidationFailure("", "Event data is empty or invalid"), nil
	}

	desc := strings.TrimSpace(stringify(event["loss_description"]))
	year := strings.TrimSpace(stringify(event["loss_year"]))
	var missing []string
	if desc == "" {
		missing = append(missing, "loss_description")
	}
	if year == "" {
		missing = append(missing, "loss_year")
	}
	if len(missing) > 0 {
		return matchValidationFailure(desc,
			fmt.Sprintf("Missing required fields: [%s]", strings.Join(missing, ", "))), nil
	}

	historical, err := m.store.HistoricalEvents(ctx)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "historical event load failed"})
		return map[string]any{
			"success":           false,
			"hist_event_id":     nil,
			"match_confidence":  "none",
			"potential_matches": []any{},
			"error":             fmt.Sprintf("Failed to load historical event database: %v", err),
			"processed_at":      nowISO(),
			"event_description": desc,
		}, nil
	}

	gross, _ := argFloat(event["original_loss_gross"])
	result := match.Match(match.Event{
		LossYear:          year,
		LossDescription:   desc,
		OriginalLossGross: gross,
		SourceWorksheet:   stringify(event["source_worksheet"]),
		SourceRow:         argInt(event["source_row"]),
	}, historical)

	var histID any
	if result.HistEventID != nil {
		histID = *result.HistEventID
	}
	log.Info(ctx, log.KV{K: "msg", V: "event matched"},
		log.KV{K: "description", V: desc},
		log.KV{K: "confidence", V: result.MatchConfidence},
		log.KV{K: "candidates", V: len(result.PotentialMatches)})

	return map[string]any{
		"success":           true,
		"hist_event_id":     histID,
		"match_confidence":  result.MatchConfidence,
		"potential_matches": result.PotentialMatches,
		"error":             nil,
		"processed_at":      nowISO(),
		"event_description": desc,
	}, nil
}

// RunMatchBatch pulls the extracted events off the bridge workflow, starts
// the parallel matching batch workflow, waits for its aggregate and signals
// the historical matches back to the bridge.
func (m *Matching) RunMatchBatch(ctx context.Context, args map[string]any) (map[string]any, error) {
	programID := argString(args, "program_id")
	if programID == "" {
		return map[string]any{
			"success": false,
			"result":  "Error: Program ID is required for parallel historical matching",
		}, nil
	}
	bridgeID := argString(args, "bridge_workflow_id")
	if bridgeID == "" {
		return map[string]any{
			"success": false,
			"result":  "Error: bridge_workflow_id is required to retrieve extracted events",
		}, nil
	}

	snap, err := m.bridge.Snapshot(ctx, bridgeID)
	if err != nil {
		return batchErrorResult(programID,
			fmt.Sprintf("Could not retrieve events from bridge workflow: %v", err),
			"unexpected_error", 0), nil
	}
	if len(snap.Events) == 0 {
		return batchErrorResult(programID,
			"Could not retrieve events from bridge workflow",
			"unexpected_error", 0), nil
	}
	if len(snap.Events) > orchestrator.MaxBatchEvents {
		return batchErrorResult(programID,
			fmt.Sprintf("Too many events. Maximum allowed: %d, provided: %d",
				orchestrator.MaxBatchEvents, len(snap.Events)),
			"validation_error", len(snap.Events)), nil
	}

	events := make([]map[string]any, 0, len(snap.Events))
	for _, e := range snap.Events {
		if em, ok := e.(map[string]any); ok {
			events = append(events, em)
		}
	}

	workflowID := fmt.Sprintf("parallel-hist-match-%s-%s", programID, uuid.NewString()[:8])
	log.Info(ctx, log.KV{K: "msg", V: "starting parallel matching batch"},
		log.KV{K: "workflow_id", V: workflowID},
		log.KV{K: "program_id", V: programID},
		log.KV{K: "events", V: len(events)})

	run, err := m.tc.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       workflowID,
		TaskQueue:                orchestrator.TaskQueue,
		WorkflowExecutionTimeout: batchExecutionTimeout,
	}, orchestrator.MatchBatchWorkflow, orchestrator.BatchInput{
		Events:    events,
		ProgramID: programID,
	})
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "batch workflow start failed"})
		return batchErrorResult(programID,
			fmt.Sprintf("Workflow execution failed: %v", err),
			"workflow_execution_failed", len(events)), nil
	}

	var raw map[string]any
	if err := run.Get(ctx, &raw); err != nil {
		errType := "workflow_execution_failed"
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(strings.ToLower(err.Error()), "timeout") {
			errType = "workflow_timeout"
		}
		log.Error(ctx, err, log.KV{K: "msg", V: "batch workflow failed"},
			log.KV{K: "workflow_id", V: workflowID})
		return batchErrorResult(programID,
			fmt.Sprintf("Workflow execution failed: %v", err),
			errType, len(events)), nil
	}

	result := processBatchResult(raw, workflowID, programID, events)

	if asBool(result["success"]) {
		if err := m.bridge.StoreExtraction(ctx, bridgeID, "historical_matches",
			result["historical_matches"]); err != nil {
			log.Warn(ctx, log.KV{K: "msg", V: "storing historical matches on bridge failed"},
				log.KV{K: "err", V: err.Error()})
		}
	}
	return result, nil
}

// processBatchResult normalizes the batch workflow's aggregate for the
// planner: records where it ran, fills the stats the summary may omit,
// validates the match entries and adds a human readable result message.
func processBatchResult(raw map[string]any, workflowID, programID string, events []map[string]any) map[string]any {
	result := make(map[string]any, len(raw)+4)
	for k, v := range raw {
		result[k] = v
	}
	result["workflow_id"] = workflowID
	result["processing_method"] = "temporal_child_workflows"

	setDefault(result, "success", false)
	setDefault(result, "program_id", programID)
	setDefault(result, "total_events", len(events))
	setDefault(result, "successful_matches", 0)
	setDefault(result, "failed_matches", 0)
	setDefault(result, "historical_matches", []any{})
	setDefault(result, "processing_stats", map[string]any{})

	var valid []any
	if matches, ok := result["historical_matches"].([]any); ok {
		for _, entry := range matches {
			em, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			valid = append(valid, map[string]any{
				"event_data":       em["event_data"],
				"historical_match": em["historical_match"],
				"match_found":      em["match_found"],
				"match_confidence": em["match_confidence"],
				"processed_at":     em["processed_at"],
			})
		}
	}
	if valid == nil {
		valid = []any{}
	}
	result["historical_matches"] = valid

	preview := make([]any, 0, 5)
	for i, event := range events {
		if i >= 5 {
			break
		}
		preview = append(preview, map[string]any{
			"loss_description":    event["loss_description"],
			"loss_year":           event["loss_year"],
			"original_loss_gross": event["original_loss_gross"],
		})
	}
	result["events_preview"] = preview

	total := argInt(result["total_events"])
	successful := argInt(result["successful_matches"])
	failed := argInt(result["failed_matches"])
	result["result"] = fmt.Sprintf(
		"Successfully processed %d events in parallel using Temporal child workflows. "+
			"Results: %d successful, %d failed. Historical matches found: %d/%d events.",
		total, successful, failed, len(valid), total)
	return result
}

func setDefault(m map[string]any, key string, value any) {
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}

func matchValidationFailure(desc, msg string) map[string]any {
	return map[string]any{
		"success":           false,
		"hist_event_id":     nil,
		"match_confidence":  "none",
		"potential_matches": []any{},
		"error":             msg,
		"error_type":        "validation_error",
		"processed_at":      nowISO(),
		"event_description": desc,
	}
}

func batchErrorResult(programID, msg, errType string, totalEvents int) map[string]any {
	return map[string]any{
		"success":            false,
		"result":             fmt.Sprintf("Error: %s", msg),
		"error":              msg,
		"error_type":         errType,
		"program_id":         programID,
		"total_events":       totalEvents,
		"successful_matches": 0,
		"failed_matches":     totalEvents,
		"historical_matches": []any{},
		"processing_stats":   map[string]any{},
	}
}
