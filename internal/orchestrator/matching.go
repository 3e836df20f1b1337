package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// ActivityMatchSingleEvent is the registered name of the per-event matching
// activity.
const ActivityMatchSingleEvent = "match_single_event"

// MaxBatchEvents caps how many events one batch may fan out to. Real
// submission packs carry up to around a hundred events; larger batches are
// rejected outright rather than throttled.
const MaxBatchEvents = 200

// matchActivityTimeout bounds a single historical lookup.
const matchActivityTimeout = 2 * time.Minute

// BatchInput is the MatchBatchWorkflow argument.
type BatchInput struct {
	Events    []map[string]any `json:"events_data"`
	ProgramID string           `json:"program_id"`
}

// EventMatchWorkflow matches one catastrophe event against the historical
// database. Validation failures never reach the activity; activity failures
// are categorized and returned in-band so the parent batch can aggregate
// them without unwinding.
func EventMatchWorkflow(ctx workflow.Context, event map[string]any) (map[string]any, error) {
	logger := workflow.GetLogger(ctx)
	desc := eventDescription(event)
	logger.Info("Processing event", "description", desc)

	now := func() string { return workflow.Now(ctx).UTC().Format(time.RFC3339) }

	if len(event) == 0 {
		logger.Error("Event data is empty")
		return eventFailure(event, "Event data is empty", "validation_error", now()), nil
	}
	if ld, ok := event["loss_description"].(string); !ok || ld == "" {
		logger.Error("Event is missing loss_description")
		return eventFailure(event, "Missing required fields: [loss_description]", "validation_error", now()), nil
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout:    matchActivityTimeout,
		ScheduleToCloseTimeout: 2 * matchActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        5 * time.Second,
			BackoffCoefficient:     2,
			MaximumAttempts:        3,
			MaximumInterval:        2 * time.Minute,
			NonRetryableErrorTypes: []string{"validation_error"},
		},
	}
	var match map[string]any
	err := workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, ao),
		ActivityMatchSingleEvent, map[string]any{"event_data": event}).Get(ctx, &match)
	if err != nil {
		errType := categorizeError(err)
		logger.Error("Failed to process event", "description", desc, "error", err, "error_type", errType)
		return eventFailure(event, err.Error(), errType, now()), nil
	}

	result := map[string]any{
		"event_data":       event,
		"historical_match": match,
		"status":           "success",
		"processed_at":     now(),
	}
	if success, _ := match["success"].(bool); !success {
		// The lookup itself degraded; the event still counts as processed.
		warning, _ := match["error"].(string)
		if warning == "" {
			warning = "Unknown activity error"
		}
		logger.Warn("Matching activity reported failure", "description", desc, "warning", warning)
		result["activity_warning"] = warning
	} else {
		logger.Info("Successfully processed event", "description", desc)
	}
	return result, nil
}

// MatchBatchWorkflow fans one batch of events out to EventMatchWorkflow
// children, all started before any is awaited, and aggregates their results.
// Per-event failures (validation, start, execution) are folded into the
// aggregate; the batch itself only fails its invariants when the input is
// rejected up front.
func MatchBatchWorkflow(ctx workflow.Context, input BatchInput) (map[string]any, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting parallel historical matching",
		"program_id", input.ProgramID, "events", len(input.Events))

	startedAt := workflow.Now(ctx).UTC()

	if len(input.Events) == 0 {
		return batchRejection(input, "Events data must be a non-empty list", 0, startedAt), nil
	}
	if input.ProgramID == "" {
		return batchRejection(input, "Program ID is required", len(input.Events), startedAt), nil
	}
	if len(input.Events) > MaxBatchEvents {
		msg := fmt.Sprintf("Too many events. Maximum allowed: %d, provided: %d", MaxBatchEvents, len(input.Events))
		return batchRejection(input, msg, len(input.Events), startedAt), nil
	}

	type pendingChild struct {
		index   int
		childID string
		future  workflow.ChildWorkflowFuture
	}

	var (
		pending   []pendingChild
		processed []map[string]any
	)

	// Phase 1: start everything before awaiting anything.
	for i, event := range input.Events {
		childID := fmt.Sprintf("hist-match-%s-%v-%s-%d",
			input.ProgramID, event["loss_year"], sanitizeID(eventDescription(event)), i)
		cctx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
			WorkflowID: childID,
			TaskQueue:  TaskQueue,
			RetryPolicy: &temporal.RetryPolicy{
				InitialInterval:    5 * time.Second,
				BackoffCoefficient: 2,
				MaximumAttempts:    3,
				MaximumInterval:    2 * time.Minute,
			},
		})
		pending = append(pending, pendingChild{
			index:   i,
			childID: childID,
			future:  workflow.ExecuteChildWorkflow(cctx, EventMatchWorkflow, event),
		})
	}
	logger.Info("All child workflows started", "count", len(pending))

	// Phase 2: collect in order. A failed child becomes a failed event, not
	// a failed batch.
	for _, child := range pending {
		var result map[string]any
		if err := child.future.Get(ctx, &result); err != nil {
			logger.Error("Child workflow failed", "child_id", child.childID, "error", err)
			result = eventFailure(input.Events[child.index],
				fmt.Sprintf("Failed to get result from child workflow %s: %v", child.childID, err),
				"child_workflow_execution_failed",
				workflow.Now(ctx).UTC().Format(time.RFC3339))
		}
		processed = append(processed, result)
	}

	completedAt := workflow.Now(ctx).UTC()
	summary := aggregateBatch(input.ProgramID, processed, startedAt, completedAt)
	logger.Info("Parallel processing completed",
		"successful", summary["successful_matches"], "failed", summary["failed_matches"],
		"matches_found", summary["processing_stats"].(map[string]any)["historical_matches_found"])
	return summary, nil
}

// aggregateBatch folds per-event results into the batch summary. It upholds
// the batch invariants: every input event appears exactly once in
// processed_events and successful plus failed equals the total.
func aggregateBatch(programID string, processed []map[string]any, startedAt, completedAt time.Time) map[string]any {
	total := len(processed)
	successful := 0
	var matches []any
	for _, result := range processed {
		if result["status"] != "success" {
			continue
		}
		successful++
		match, ok := result["historical_match"].(map[string]any)
		if !ok || match == nil {
			continue
		}
		_, hasID := match["hist_event_id"]
		found := hasID && match["hist_event_id"] != nil
		confidence, _ := match["match_confidence"].(string)
		if confidence == "" {
			confidence = "none"
		}
		matches = append(matches, map[string]any{
			"event_data":       result["event_data"],
			"historical_match": match,
			"match_found":      found,
			"match_confidence": confidence,
			"processed_at":     result["processed_at"],
		})
	}
	failed := total - successful

	found := 0
	for _, m := range matches {
		if m.(map[string]any)["match_found"] == true {
			found++
		}
	}

	duration := completedAt.Sub(startedAt).Seconds()
	eventsPerSecond := 0.0
	if duration > 0 {
		eventsPerSecond = float64(total) / duration
	}
	successRate := 0.0
	if total > 0 {
		successRate = float64(successful) / float64(total)
	}
	if matches == nil {
		matches = []any{}
	}

	return map[string]any{
		"success":            successful > 0 || total == 0,
		"program_id":         programID,
		"total_events":       total,
		"successful_matches": successful,
		"failed_matches":     failed,
		"historical_matches": matches,
		"processed_events":   anySlice(processed),
		"processing_stats": map[string]any{
			"started_at":               startedAt.Format(time.RFC3339),
			"completed_at":             completedAt.Format(time.RFC3339),
			"duration_seconds":         duration,
			"events_per_second":        eventsPerSecond,
			"success_rate":             successRate,
			"historical_matches_found": found,
		},
	}
}

// batchRejection is the summary for a batch rejected before any child ran:
// every event counts as failed and nothing is partially processed.
func batchRejection(input BatchInput, msg string, failed int, at time.Time) map[string]any {
	return map[string]any{
		"success":            false,
		"error":              msg,
		"program_id":         input.ProgramID,
		"total_events":       len(input.Events),
		"successful_matches": 0,
		"failed_matches":     failed,
		"historical_matches": []any{},
		"processing_stats": map[string]any{
			"started_at":       at.Format(time.RFC3339),
			"completed_at":     at.Format(time.RFC3339),
			"duration_seconds": 0.0,
		},
	}
}

func eventFailure(event map[string]any, msg, errType, at string) map[string]any {
	return map[string]any{
		"event_data":       event,
		"historical_match": nil,
		"error":            msg,
		"error_type":       errType,
		"status":           "failed",
		"processed_at":     at,
	}
}

func eventDescription(event map[string]any) string {
	if event != nil {
		if desc, ok := event["loss_description"].(string); ok && desc != "" {
			return desc
		}
	}
	return "unknown"
}

func categorizeError(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return "timeout_error"
	case strings.Contains(msg, "activity"):
		return "activity_error"
	case strings.Contains(msg, "network"), strings.Contains(msg, "connection"):
		return "network_error"
	}
	return "unknown_error"
}

// sanitizeID makes an event description safe for use in a workflow ID.
func sanitizeID(s string) string {
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "/", "-")
	if len(s) > 50 {
		s = s[:50]
	}
	return s
}

func anySlice[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
