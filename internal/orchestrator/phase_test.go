package orchestrator

import "testing"

func TestPhaseTransitions(t *testing.T) {
	cases := []struct {
		name  string
		from  phase
		event phaseEvent
		want  phase
		ok    bool
	}{
		{"propose from idle", phaseIdle, eventProposeTool, phaseToolProposed, true},
		{"replace outstanding proposal", phaseToolProposed, eventProposeTool, phaseToolProposed, true},
		{"confirm proposal", phaseToolProposed, eventConfirm, phaseToolApproved, true},
		{"duplicate confirm ignored", phaseToolApproved, eventConfirm, phaseToolApproved, false},
		{"confirm with nothing proposed ignored", phaseIdle, eventConfirm, phaseIdle, false},
		{"cancel proposal", phaseToolProposed, eventCancelTool, phaseIdle, true},
		{"cancel approved tool", phaseToolApproved, eventCancelTool, phaseIdle, true},
		{"execution returns to idle", phaseToolApproved, eventToolExecuted, phaseIdle, true},
		{"propose completion", phaseIdle, eventProposeCompletion, phaseCompletionProposed, true},
		{"bare confirm approves completion", phaseCompletionProposed, eventConfirm, phaseCompletionApproved, true},
		{"confirm completion", phaseCompletionProposed, eventConfirmCompletion, phaseCompletionApproved, true},
		{"cancel completion", phaseCompletionProposed, eventCancelCompletion, phaseIdle, true},
		{"end chat from anywhere", phaseToolApproved, eventEndChat, phaseEnded, true},
		{"ended is terminal", phaseEnded, eventProposeTool, phaseEnded, false},
		{"ended absorbs repeated end", phaseEnded, eventEndChat, phaseEnded, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := transition(tc.from, tc.event)
			if got != tc.want || ok != tc.ok {
				t.Errorf("transition(%v, %v) = (%v, %v), want (%v, %v)",
					tc.from, tc.event, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestNoPhaseIsBothToolAndCompletion(t *testing.T) {
	// Walk every reachable phase/event pair and verify the machine never
	// reports an impossible combination by construction: each phase value is
	// a single enum constant, so this asserts the transition table stays
	// closed over the defined phases.
	phases := []phase{phaseIdle, phaseToolProposed, phaseToolApproved, phaseCompletionProposed, phaseCompletionApproved, phaseEnded}
	events := []phaseEvent{eventProposeTool, eventConfirm, eventCancelTool, eventProposeCompletion, eventConfirmCompletion, eventCancelCompletion, eventToolExecuted, eventEndChat}
	for _, p := range phases {
		for _, e := range events {
			got, _ := transition(p, e)
			if got.String() == "unknown" {
				t.Errorf("transition(%v, %v) produced unknown phase %d", p, e, got)
			}
		}
	}
}
