package activities

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treatyline/subpack/internal/match"
	"github.com/treatyline/subpack/internal/orchestrator"
	"github.com/treatyline/subpack/internal/store"
)

type fakeStore struct {
	historical []store.HistoricalEvent
	histErr    error
	cedant     map[string][]store.CedantRecord
	cedantErr  error
	replaced   map[string][]store.CedantRecord
}

func (f *fakeStore) Name() string { return "fake-store" }

func (f *fakeStore) Ping(_ context.Context) error { return nil }

func (f *fakeStore) HistoricalEvents(_ context.Context) ([]store.HistoricalEvent, error) {
	return f.historical, f.histErr
}

func (f *fakeStore) SeedHistoricalEvents(_ context.Context, _ []store.HistoricalEvent) (int, error) {
	return 0, nil
}

func (f *fakeStore) CedantRecords(_ context.Context, lossDataID string) ([]store.CedantRecord, error) {
	if f.cedantErr != nil {
		return nil, f.cedantErr
	}
	recs, ok := f.cedant[lossDataID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return recs, nil
}

func (f *fakeStore) ReplaceCedantRecords(_ context.Context, lossDataID string, recs []store.CedantRecord) error {
	if f.replaced == nil {
		f.replaced = map[string][]store.CedantRecord{}
	}
	f.replaced[lossDataID] = recs
	return nil
}

func historicalFixture() []store.HistoricalEvent {
	return []store.HistoricalEvent{
		{HistEventID: "HE-2022-09", EventName: "Hurricane Ian", Year: "2022", PCSCode: "2022-2244"},
		{HistEventID: "HE-2021-08", EventName: "Hurricane Ida", Year: "2021", PCSCode: "2021-2150"},
	}
}

func TestMatchSingleEventExactMatch(t *testing.T) {
	m := &Matching{store: &fakeStore{historical: historicalFixture()}}

	result, err := m.MatchSingleEvent(context.Background(), map[string]any{
		"event_data": map[string]any{
			"loss_year":           "2022",
			"loss_description":    "Hurricane Ian",
			"original_loss_gross": 3400000.0,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, true, result["success"])
	assert.Equal(t, "HE-2022-09", result["hist_event_id"])
	assert.Equal(t, "exact", result["match_confidence"])
	assert.Equal(t, "Hurricane Ian", result["event_description"])
	candidates, ok := result["potential_matches"].([]match.Candidate)
	require.True(t, ok)
	require.NotEmpty(t, candidates)
	assert.Equal(t, "HE-2022-09", candidates[0].HistEventID)
}

func TestMatchSingleEventValidation(t *testing.T) {
	m := &Matching{store: &fakeStore{}}

	t.Run("empty event", func(t *testing.T) {
		result, err := m.MatchSingleEvent(context.Background(), map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, false, result["success"])
		assert.Equal(t, "validation_error", result["error_type"])
	})
	t.Run("missing fields", func(t *testing.T) {
		result, err := m.MatchSingleEvent(context.Background(), map[string]any{
			"event_data": map[string]any{"original_loss_gross": 5.0},
		})
		require.NoError(t, err)
		assert.Equal(t, false, result["success"])
		assert.Equal(t, "validation_error", result["error_type"])
		assert.Contains(t, result["error"], "loss_description")
		assert.Contains(t, result["error"], "loss_year")
	})
}

func TestMatchSingleEventStoreFailure(t *testing.T) {
	m := &Matching{store: &fakeStore{histErr: errors.New("mongo unavailable")}}

	result, err := m.MatchSingleEvent(context.Background(), map[string]any{
		"event_data": map[string]any{"loss_year": "2022", "loss_description": "Hurricane Ian"},
	})
	require.NoError(t, err)

	assert.Equal(t, false, result["success"])
	assert.Contains(t, result["error"], "mongo unavailable")
	assert.Equal(t, "none", result["match_confidence"])
}

func TestRunMatchBatchRequiresIdentifiers(t *testing.T) {
	m := &Matching{}

	result, err := m.RunMatchBatch(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, false, result["success"])
	assert.Contains(t, result["result"], "Program ID is required")

	result, err = m.RunMatchBatch(context.Background(), map[string]any{"program_id": "153300"})
	require.NoError(t, err)
	assert.Equal(t, false, result["success"])
	assert.Contains(t, result["result"], "bridge_workflow_id is required")
}

func TestRunMatchBatchNoEventsOnBridge(t *testing.T) {
	ft := &fakeTemporal{queryResult: orchestrator.ExtractionSnapshot{}}
	m := &Matching{tc: ft, bridge: &BridgeClient{tc: ft}}

	result, err := m.RunMatchBatch(context.Background(), map[string]any{
		"program_id": "153300", "bridge_workflow_id": "bridge-1",
	})
	require.NoError(t, err)

	assert.Equal(t, false, result["success"])
	assert.Contains(t, result["error"], "Could not retrieve events from bridge workflow")
	assert.Equal(t, "unexpected_error", result["error_type"])
}

func TestRunMatchBatchRejectsOversizedBatches(t *testing.T) {
	events := make([]any, orchestrator.MaxBatchEvents+1)
	for i := range events {
		events[i] = map[string]any{"loss_description": "Storm", "loss_year": "2021"}
	}
	ft := &fakeTemporal{queryResult: orchestrator.ExtractionSnapshot{Events: events}}
	m := &Matching{tc: ft, bridge: &BridgeClient{tc: ft}}

	result, err := m.RunMatchBatch(context.Background(), map[string]any{
		"program_id": "153300", "bridge_workflow_id": "bridge-1",
	})
	require.NoError(t, err)

	assert.Equal(t, false, result["success"])
	assert.Contains(t, result["error"], "Too many events. Maximum allowed: 200, provided: 201")
	assert.Equal(t, "validation_error", result["error_type"])
	assert.Nil(t, ft.execWorkflow, "oversized batches must never start a workflow")
}

func TestRunMatchBatchRelaysAggregateAndSignalsBridge(t *testing.T) {
	event := map[string]any{
		"loss_year": "2022", "loss_description": "Hurricane Ian", "original_loss_gross": 3400000.0,
	}
	aggregate := map[string]any{
		"success":            true,
		"program_id":         "153300",
		"total_events":       1,
		"successful_matches": 1,
		"failed_matches":     0,
		"historical_matches": []any{map[string]any{
			"event_data":       event,
			"historical_match": map[string]any{"success": true, "hist_event_id": "HE-2022-09"},
			"match_found":      true,
			"match_confidence": "exact",
			"processed_at":     "2026-01-02T03:04:05Z",
			"extra_noise":      "dropped",
		}},
	}
	ft := &fakeTemporal{
		queryResult: orchestrator.ExtractionSnapshot{Events: []any{event}},
		run:         fakeRun{result: aggregate},
	}
	m := &Matching{tc: ft, bridge: &BridgeClient{tc: ft}}

	result, err := m.RunMatchBatch(context.Background(), map[string]any{
		"program_id": "153300", "bridge_workflow_id": "bridge-1",
	})
	require.NoError(t, err)

	assert.Equal(t, true, result["success"])
	assert.True(t, strings.HasPrefix(ft.execOpts.ID, "parallel-hist-match-153300-"))
	assert.Equal(t, orchestrator.TaskQueue, ft.execOpts.TaskQueue)
	assert.Equal(t, ft.execOpts.ID, result["workflow_id"])
	assert.Equal(t, "temporal_child_workflows", result["processing_method"])
	assert.Contains(t, result["result"],
		"Results: 1 successful, 0 failed. Historical matches found: 1/1 events.")

	matches := result["historical_matches"].([]any)
	require.Len(t, matches, 1)
	entry := matches[0].(map[string]any)
	assert.NotContains(t, entry, "extra_noise")
	assert.Equal(t, true, entry["match_found"])

	preview := result["events_preview"].([]any)
	require.Len(t, preview, 1)
	assert.Equal(t, "Hurricane Ian", preview[0].(map[string]any)["loss_description"])

	require.Len(t, ft.signals, 1)
	data := ft.signals[0].arg.(orchestrator.ExtractionData)
	assert.Equal(t, "historical_matches", data.Type)
}

func TestRunMatchBatchWorkflowFailure(t *testing.T) {
	event := map[string]any{"loss_year": "2022", "loss_description": "Hurricane Ian"}
	ft := &fakeTemporal{
		queryResult: orchestrator.ExtractionSnapshot{Events: []any{event}},
		run:         fakeRun{err: errors.New("workflow task timeout")},
	}
	m := &Matching{tc: ft, bridge: &BridgeClient{tc: ft}}

	result, err := m.RunMatchBatch(context.Background(), map[string]any{
		"program_id": "153300", "bridge_workflow_id": "bridge-1",
	})
	require.NoError(t, err)

	assert.Equal(t, false, result["success"])
	assert.Equal(t, "workflow_timeout", result["error_type"])
	assert.Equal(t, 1, result["failed_matches"])
	assert.Empty(t, ft.signals, "failed batches must not signal the bridge")
}
