package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"goa.design/clue/log"

	"github.com/treatyline/subpack/internal/agent"
	"github.com/treatyline/subpack/internal/agent/goals"
	"github.com/treatyline/subpack/internal/orchestrator"
)

type startWorkflowRequest struct {
	WorkflowID string `json:"workflow_id"`
	AgentName  string `json:"agent_name"`
	SessionKey string `json:"session_key"`
}

type workflowRequest struct {
	WorkflowID string `json:"workflow_id"`
	SessionKey string `json:"session_key"`
}

type sendPromptRequest struct {
	Prompt     string `json:"prompt"`
	WorkflowID string `json:"workflow_id"`
	SessionKey string `json:"session_key"`
}

func (s *Server) startWorkflow(w http.ResponseWriter, r *http.Request) {
	var req startWorkflowRequest
	if !decodeBody(w, r, &req) {
		return
	}
	agentName := req.AgentName
	if agentName == "" {
		agentName = goals.SupervisorAgentName
	}
	goal, ok := goals.ByAgentName(agentName)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf(
			"Unknown agent: %s. Available agents: %s, %s",
			agentName, goals.SupervisorAgentName, goals.ParserAgentName))
		return
	}

	workflowID := req.WorkflowID
	if workflowID == "" {
		prefix := strings.ReplaceAll(strings.ToLower(agentName), " ", "-")
		workflowID = fmt.Sprintf("%s-%s", prefix, uuid.NewString())
	}

	ctx := r.Context()
	run, err := s.tc.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: orchestrator.TaskQueue,
	}, orchestrator.BridgeWorkflow, agent.GoalInput{Goal: goal})

	message := "Workflow started successfully"
	runID := ""
	if err != nil {
		var already *serviceerror.WorkflowExecutionAlreadyStarted
		if !errors.As(err, &already) {
			writeError(w, http.StatusInternalServerError, "Failed to start workflow: "+err.Error())
			return
		}
		message = "Workflow already exists and is running"
	} else {
		runID = run.GetRunID()
	}

	if req.SessionKey != "" {
		if err := s.sessions.Bind(ctx, req.SessionKey, workflowID); err != nil {
			log.Warn(ctx, log.KV{K: "msg", V: "session bind failed"},
				log.KV{K: "err", V: err.Error()})
		}
	}

	log.Info(ctx, log.KV{K: "msg", V: "bridge workflow started"},
		log.KV{K: "workflow_id", V: workflowID}, log.KV{K: "agent", V: agentName})
	writeResponse(w, apiResponse{
		Success: true,
		Message: message,
		Data: map[string]any{
			"workflow_id":     workflowID,
			"workflow_run_id": runID,
			"agent_goal":      goal.AgentName,
			"workflow_type":   "bridge",
		},
	})
}

func (s *Server) sendPrompt(w http.ResponseWriter, r *http.Request) {
	var req sendPromptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	workflowID, ok := s.resolveWorkflowID(w, r, req.WorkflowID, req.SessionKey)
	if !ok {
		return
	}
	if err := s.tc.SignalWorkflow(r.Context(), workflowID, "", orchestrator.SignalUserPrompt, req.Prompt); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to send prompt: "+err.Error())
		return
	}
	writeResponse(w, apiResponse{
		Success: true,
		Message: fmt.Sprintf("Prompt sent to workflow %s", workflowID),
		Data:    map[string]any{"workflow_id": workflowID, "prompt": req.Prompt},
	})
}

// confirmTool signals the confirmation and then polls the transcript until
// the tool result lands or the wait budget runs out. The frontend gets the
// updated transcript either way.
func (s *Server) confirmTool(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if !decodeBody(w, r, &req) {
		return
	}
	workflowID, ok := s.resolveWorkflowID(w, r, req.WorkflowID, req.SessionKey)
	if !ok {
		return
	}
	ctx := r.Context()

	initial, err := s.queryMessages(ctx, workflowID)
	initialLen := len(initial)
	if err != nil {
		initialLen = 0
	}

	if err := s.tc.SignalWorkflow(ctx, workflowID, "", orchestrator.SignalConfirmTool, nil); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to confirm tool execution: "+err.Error())
		return
	}

	messages := initial
	deadline := time.Now().Add(s.maxWait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusInternalServerError, "Failed to confirm tool execution: "+ctx.Err().Error())
			return
		case <-time.After(s.pollInterval):
		}
		current, err := s.queryMessages(ctx, workflowID)
		if err != nil {
			continue
		}
		messages = current
		if len(current) > initialLen {
			break
		}
	}

	writeResponse(w, apiResponse{
		Success: true,
		Message: "Tool execution confirmed",
		Data: map[string]any{
			"workflow_id":          workflowID,
			"conversation_history": map[string]any{"messages": messages},
		},
	})
}

// signalEndpoint builds a handler that verifies the workflow and relays one
// bare signal. Covers cancellations and completion confirmations.
func (s *Server) signalEndpoint(signal, message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req workflowRequest
		if !decodeBody(w, r, &req) {
			return
		}
		workflowID, ok := s.resolveWorkflowID(w, r, req.WorkflowID, req.SessionKey)
		if !ok {
			return
		}
		if err := s.tc.SignalWorkflow(r.Context(), workflowID, "", signal, nil); err != nil {
			writeError(w, http.StatusInternalServerError,
				fmt.Sprintf("Failed to send %s signal: %v", signal, err))
			return
		}
		writeResponse(w, apiResponse{
			Success: true,
			Message: message,
			Data:    map[string]any{"workflow_id": workflowID},
		})
	}
}

func (s *Server) conversationHistory(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("workflow_id")
	if workflowID == "" {
		writeError(w, http.StatusBadRequest, "workflow_id is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	messages, err := s.queryMessages(ctx, workflowID)
	if err != nil {
		if ctx.Err() != nil {
			writeError(w, http.StatusGatewayTimeout, "Query timed out - workflow may be unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get conversation history: "+err.Error())
		return
	}
	writeResponse(w, apiResponse{
		Success: true,
		Message: "Conversation history retrieved",
		Data: map[string]any{
			"workflow_id":          workflowID,
			"conversation_history": map[string]any{"messages": messages},
		},
	})
}

// resolveWorkflowID picks the target bridge workflow from the request and
// verifies it is known to Temporal. Writes the HTTP error itself when
// resolution fails.
func (s *Server) resolveWorkflowID(w http.ResponseWriter, r *http.Request, workflowID, sessionKey string) (string, bool) {
	if workflowID == "" && sessionKey != "" {
		if id, ok := s.sessions.Lookup(r.Context(), sessionKey); ok {
			workflowID = id
		}
	}
	if workflowID == "" {
		writeError(w, http.StatusBadRequest, "workflow_id is required")
		return "", false
	}
	if _, err := s.tc.DescribeWorkflowExecution(r.Context(), workflowID, ""); err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Workflow with ID %s not found", workflowID))
		return "", false
	}
	return workflowID, true
}

func (s *Server) queryMessages(ctx context.Context, workflowID string) ([]agent.FrontendMessage, error) {
	val, err := s.tc.QueryWorkflow(ctx, workflowID, "", orchestrator.QueryFrontendMessages)
	if err != nil {
		return nil, err
	}
	var messages []agent.FrontendMessage
	if err := val.Get(&messages); err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []agent.FrontendMessage{}
	}
	return messages, nil
}
