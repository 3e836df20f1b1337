// Package gateway exposes the HTTP surface frontends talk to: session start,
// prompt delivery, tool and completion confirmations and transcript reads.
// Every endpoint translates to a signal, query or start against the bridge
// workflow; the gateway itself holds no conversation state.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"goa.design/clue/health"
	"goa.design/clue/log"
)

// confirmPollInterval and confirmMaxWait bound the transcript-growth poll
// after a tool confirmation: the tool runs asynchronously in the worker and
// the frontend wants the result in the confirm response when it arrives in
// time.
const (
	confirmPollInterval = 500 * time.Millisecond
	confirmMaxWait      = 60 * time.Second
)

// temporalAPI is the slice of client.Client the gateway uses.
type temporalAPI interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow any, args ...any) (client.WorkflowRun, error)
	SignalWorkflow(ctx context.Context, workflowID, runID, signalName string, arg any) error
	QueryWorkflow(ctx context.Context, workflowID, runID, queryType string, args ...any) (converter.EncodedValue, error)
	DescribeWorkflowExecution(ctx context.Context, workflowID, runID string) (*workflowservice.DescribeWorkflowExecutionResponse, error)
}

// Server is the HTTP gateway in front of the bridge workflows.
type Server struct {
	tc       temporalAPI
	sessions *SessionRegistry
	checker  health.Checker

	pollInterval time.Duration
	maxWait      time.Duration
}

// NewServer builds the gateway. pingers feed the health endpoint; pass the
// Temporal, Redis and Mongo pingers the binary wires up.
func NewServer(tc client.Client, sessions *SessionRegistry, pingers ...health.Pinger) *Server {
	return &Server{
		tc:           tc,
		sessions:     sessions,
		checker:      health.NewChecker(pingers...),
		pollInterval: confirmPollInterval,
		maxWait:      confirmMaxWait,
	}
}

// Handler returns the routed HTTP handler with request logging applied.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /start-workflow", s.startWorkflow)
	mux.HandleFunc("POST /send-prompt", s.sendPrompt)
	mux.HandleFunc("POST /confirm-tool", s.confirmTool)
	mux.HandleFunc("POST /cancel-tool", s.signalEndpoint("cancel_tool", "Tool execution cancelled"))
	mux.HandleFunc("POST /confirm-completion", s.signalEndpoint("confirm_completion", "Workflow completion confirmed"))
	mux.HandleFunc("POST /cancel-completion", s.signalEndpoint("cancel_completion", "Workflow completion cancelled"))
	mux.HandleFunc("GET /get-conversation-history/{workflow_id}", s.conversationHistory)
	mux.Handle("GET /health", health.Handler(s.checker))
	return log.HTTP(ctx)(mux)
}

// apiResponse is the envelope every endpoint returns.
type apiResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

type apiError struct {
	Detail string `json:"detail"`
}

func writeResponse(w http.ResponseWriter, resp apiResponse) {
	if resp.Data == nil {
		resp.Data = map[string]any{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Detail: detail})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
