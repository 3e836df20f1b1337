// Package activities implements the worker-side tools the agents propose:
// submission pack parsing, historical matching and cedant ledger population.
// Every activity returns its outcome in-band as a map so the goal workflow
// can relay tool failures to the user instead of failing the run.
package activities

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"goa.design/clue/log"

	"github.com/treatyline/subpack/internal/orchestrator"
)

// temporalClient is the slice of client.Client the activities use. Tests
// substitute fakes; the worker passes the real client.
type temporalClient interface {
	SignalWorkflow(ctx context.Context, workflowID, runID, signalName string, arg any) error
	QueryWorkflow(ctx context.Context, workflowID, runID, queryType string, args ...any) (converter.EncodedValue, error)
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow any, args ...any) (client.WorkflowRun, error)
}

// BridgeClient reads and writes the bridge workflow's extraction data store
// from activity code.
type BridgeClient struct {
	tc temporalClient
}

// NewBridgeClient wraps a Temporal client for bridge access.
func NewBridgeClient(tc client.Client) *BridgeClient {
	return &BridgeClient{tc: tc}
}

// StoreExtraction writes one typed slot on the bridge's data store. Failures
// are logged and reported but activities treat the store as best effort: the
// tool result still carries the data.
func (b *BridgeClient) StoreExtraction(ctx context.Context, workflowID, slot string, value any) error {
	err := b.tc.SignalWorkflow(ctx, workflowID, "", orchestrator.SignalStoreExtractionData,
		orchestrator.ExtractionData{Type: slot, Value: value})
	if err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "failed to store extraction data on bridge"},
			log.KV{K: "bridge_workflow_id", V: workflowID},
			log.KV{K: "slot", V: slot},
			log.KV{K: "err", V: err.Error()})
		return fmt.Errorf("store %s on bridge %s: %w", slot, workflowID, err)
	}
	log.Info(ctx, log.KV{K: "msg", V: "stored extraction data on bridge"},
		log.KV{K: "bridge_workflow_id", V: workflowID},
		log.KV{K: "slot", V: slot})
	return nil
}

// Snapshot queries the bridge workflow for its full extraction data store.
func (b *BridgeClient) Snapshot(ctx context.Context, workflowID string) (orchestrator.ExtractionSnapshot, error) {
	var snap orchestrator.ExtractionSnapshot
	val, err := b.tc.QueryWorkflow(ctx, workflowID, "", orchestrator.QueryExtractionData)
	if err != nil {
		return snap, fmt.Errorf("query bridge %s: %w", workflowID, err)
	}
	if err := val.Get(&snap); err != nil {
		return snap, fmt.Errorf("decode bridge snapshot: %w", err)
	}
	return snap, nil
}
