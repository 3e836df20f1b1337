package orchestrator

// phase is the confirmation state of a goal workflow. Exactly one phase is
// current at a time and all changes go through transition, so there is no
// way to be simultaneously waiting for a tool confirmation and a completion
// confirmation.
type phase int

const (
	// phaseIdle: no proposal outstanding, prompts are processed normally.
	phaseIdle phase = iota
	// phaseToolProposed: the planner proposed a tool and the workflow is
	// waiting for the user to confirm or cancel it.
	phaseToolProposed
	// phaseToolApproved: the user confirmed the proposed tool and it is due
	// for execution.
	phaseToolApproved
	// phaseCompletionProposed: the planner declared the goal done and the
	// workflow is waiting for the user to approve finishing.
	phaseCompletionProposed
	// phaseCompletionApproved: the user approved completion, the workflow
	// returns on its next loop iteration.
	phaseCompletionApproved
	// phaseEnded: the chat was ended explicitly.
	phaseEnded
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseToolProposed:
		return "tool_proposed"
	case phaseToolApproved:
		return "tool_approved"
	case phaseCompletionProposed:
		return "completion_proposed"
	case phaseCompletionApproved:
		return "completion_approved"
	case phaseEnded:
		return "ended"
	}
	return "unknown"
}

// phaseEvent is something that can move the confirmation state machine.
type phaseEvent int

const (
	eventProposeTool phaseEvent = iota
	eventConfirm
	eventCancelTool
	eventProposeCompletion
	eventConfirmCompletion
	eventCancelCompletion
	eventToolExecuted
	eventEndChat
)

func (e phaseEvent) String() string {
	switch e {
	case eventProposeTool:
		return "propose_tool"
	case eventConfirm:
		return "confirm"
	case eventCancelTool:
		return "cancel_tool"
	case eventProposeCompletion:
		return "propose_completion"
	case eventConfirmCompletion:
		return "confirm_completion"
	case eventCancelCompletion:
		return "cancel_completion"
	case eventToolExecuted:
		return "tool_executed"
	case eventEndChat:
		return "end_chat"
	}
	return "unknown"
}

// transition returns the phase after applying event to p. The second return
// is false when the event does not apply in the current phase; callers log
// and ignore such events, which makes duplicate confirmations idempotent.
func transition(p phase, event phaseEvent) (phase, bool) {
	if p == phaseEnded && event != eventEndChat {
		return p, false
	}
	switch event {
	case eventEndChat:
		return phaseEnded, p != phaseEnded
	case eventProposeTool:
		if p == phaseIdle || p == phaseToolProposed || p == phaseCompletionProposed {
			return phaseToolProposed, true
		}
	case eventConfirm:
		// A bare confirm approves whichever proposal is outstanding.
		switch p {
		case phaseToolProposed:
			return phaseToolApproved, true
		case phaseCompletionProposed:
			return phaseCompletionApproved, true
		}
	case eventCancelTool:
		if p == phaseToolProposed || p == phaseToolApproved {
			return phaseIdle, true
		}
	case eventProposeCompletion:
		if p == phaseIdle || p == phaseCompletionProposed {
			return phaseCompletionProposed, true
		}
	case eventConfirmCompletion:
		if p == phaseCompletionProposed || p == phaseIdle || p == phaseToolProposed {
			return phaseCompletionApproved, true
		}
	case eventCancelCompletion:
		if p == phaseCompletionProposed || p == phaseCompletionApproved {
			return phaseIdle, true
		}
	case eventToolExecuted:
		if p == phaseToolApproved {
			return phaseIdle, true
		}
	}
	return p, false
}
