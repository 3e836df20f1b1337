package orchestrator

import (
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// batchOutcome is a generated per-event result shape for aggregateBatch.
type batchOutcome struct {
	Succeeded bool
	Matched   bool
}

func genBatchOutcomes() gopter.Gen {
	outcome := gen.Struct(reflect.TypeOf(batchOutcome{}), map[string]gopter.Gen{
		"Succeeded": gen.Bool(),
		"Matched":   gen.Bool(),
	})
	return gen.IntRange(1, MaxBatchEvents).FlatMap(func(v interface{}) gopter.Gen {
		return gen.SliceOfN(v.(int), outcome)
	}, reflect.TypeOf([]batchOutcome{}))
}

func processedFromOutcomes(outcomes []batchOutcome, at string) []map[string]any {
	processed := make([]map[string]any, len(outcomes))
	for i, o := range outcomes {
		event := map[string]any{"loss_description": "event", "loss_year": 2020.0}
		if !o.Succeeded {
			processed[i] = eventFailure(event, "boom", "unknown_error", at)
			continue
		}
		match := map[string]any{"success": true, "match_confidence": "none"}
		if o.Matched {
			match["hist_event_id"] = "HE-1"
			match["match_confidence"] = "exact"
		}
		processed[i] = map[string]any{
			"event_data":       event,
			"historical_match": match,
			"status":           "success",
			"processed_at":     at,
		}
	}
	return processed
}

func TestAggregateBatchProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	properties := gopter.NewProperties(params)

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	completed := started.Add(42 * time.Second)

	properties.Property("counts always reconcile", prop.ForAll(
		func(outcomes []batchOutcome) bool {
			processed := processedFromOutcomes(outcomes, started.Format(time.RFC3339))
			summary := aggregateBatch("153300", processed, started, completed)

			total := summary["total_events"].(int)
			successful := summary["successful_matches"].(int)
			failed := summary["failed_matches"].(int)
			if total != len(outcomes) {
				return false
			}
			if successful+failed != total {
				return false
			}
			return len(summary["processed_events"].([]any)) == total
		},
		genBatchOutcomes(),
	))

	properties.Property("matches never exceed successes", prop.ForAll(
		func(outcomes []batchOutcome) bool {
			processed := processedFromOutcomes(outcomes, started.Format(time.RFC3339))
			summary := aggregateBatch("153300", processed, started, completed)

			successful := summary["successful_matches"].(int)
			matches := summary["historical_matches"].([]any)
			if len(matches) != successful {
				return false
			}
			stats := summary["processing_stats"].(map[string]any)
			found := stats["historical_matches_found"].(int)
			return found >= 0 && found <= successful
		},
		genBatchOutcomes(),
	))

	properties.Property("rates stay in range", prop.ForAll(
		func(outcomes []batchOutcome) bool {
			processed := processedFromOutcomes(outcomes, started.Format(time.RFC3339))
			summary := aggregateBatch("153300", processed, started, completed)

			stats := summary["processing_stats"].(map[string]any)
			rate := stats["success_rate"].(float64)
			eps := stats["events_per_second"].(float64)
			if rate < 0 || rate > 1 {
				return false
			}
			if eps < 0 {
				return false
			}
			successful := summary["successful_matches"].(int)
			return summary["success"].(bool) == (successful > 0)
		},
		genBatchOutcomes(),
	))

	properties.TestingRun(t)
}
