package dialogrt

// maxStepAdvancementIterations bounds advance_through_completed_steps
// (§4.2) against ill-formed flows that would otherwise self-loop forever.
const maxStepAdvancementIterations = 20

// FlowStepManager advances a flow through its declared steps (§4.2).
type FlowStepManager struct{}

// NewFlowStepManager returns a FlowStepManager.
func NewFlowStepManager() *FlowStepManager {
	return &FlowStepManager{}
}

// IsStepComplete implements is_step_complete (§4.2) for the five step
// kinds.
func (sm *FlowStepManager) IsStepComplete(state *DialogueState, step *StepDefinition) bool {
	active := state.ActiveFlow()
	if active == nil {
		return false
	}
	slots := state.FlowSlots[active.FlowID]

	switch step.Kind {
	case StepCollect:
		if step.Optional {
			return true
		}
		_, present := slots[step.Slot]
		return present
	case StepAction:
		status, ok := slots[actionStatusKey(step.ID)]
		return ok && status == "ok"
	case StepBranch:
		_, ok := slots[branchDecisionKey(step.ID)]
		return ok
	case StepSay:
		_, ok := slots[sayEmittedKey(step.ID)]
		return ok
	case StepConfirm:
		return state.ConversationState != StateConfirming && slots[confirmAffirmedKey(step.ID)] == true
	default:
		return false
	}
}

func actionStatusKey(stepID string) string    { return "__action_status_" + stepID }
func branchDecisionKey(stepID string) string  { return "__branch_decision_" + stepID }
func sayEmittedKey(stepID string) string      { return "__say_emitted_" + stepID }
func confirmAffirmedKey(stepID string) string { return "__confirm_affirmed_" + stepID }

// AdvanceToNextStep implements advance_to_next_step (§4.2): computes the
// successor of current_step in the flow's total order, or signals
// COMPLETED on exhaustion so the orchestrator can pop the flow.
func (sm *FlowStepManager) AdvanceToNextStep(state *DialogueState, fd *FlowDefinition) *StateUpdate {
	next := fd.NextStepID(state.CurrentStep)
	if next == "" {
		cs := StateCompleted
		return &StateUpdate{ConversationState: &cs}
	}
	return &StateUpdate{CurrentStep: &next}
}

// AdvanceThroughCompletedSteps implements advance_through_completed_steps
// (§4.2): walks forward while each step is already complete, stopping at
// the first incomplete step and returning the conversation_state update
// appropriate to that step's kind. Exceeding the iteration bound yields
// conversation_state=ERROR with metadata.error="step_advancement_exhausted".
func (sm *FlowStepManager) AdvanceThroughCompletedSteps(state *DialogueState, fd *FlowDefinition) *StateUpdate {
	currentStep := state.CurrentStep
	if currentStep == "" && len(fd.Order) > 0 {
		currentStep = fd.Order[0]
	}

	for i := 0; i < maxStepAdvancementIterations; i++ {
		step, ok := fd.Steps[currentStep]
		if !ok {
			cs := StateCompleted
			return &StateUpdate{ConversationState: &cs, CurrentStep: &currentStep}
		}

		if !sm.IsStepComplete(state, step) {
			return sm.waitingUpdateForStep(currentStep, step)
		}

		next := fd.NextStepID(currentStep)
		if next == "" {
			cs := StateCompleted
			return &StateUpdate{ConversationState: &cs, CurrentStep: &currentStep}
		}
		currentStep = next
	}

	cs := StateError
	errStr := "step_advancement_exhausted"
	return &StateUpdate{ConversationState: &cs, MetadataError: &errStr}
}

// waitingUpdateForStep returns the conversation_state (and, for collect,
// waiting_for_slot) update corresponding to stopping at an incomplete step
// of the given kind.
func (sm *FlowStepManager) waitingUpdateForStep(stepID string, step *StepDefinition) *StateUpdate {
	switch step.Kind {
	case StepCollect:
		cs := StateWaitingForSlot
		slot := step.Slot
		return &StateUpdate{ConversationState: &cs, WaitingForSlot: &slot, CurrentStep: &stepID}
	case StepAction:
		cs := StateExecutingAction
		return &StateUpdate{ConversationState: &cs, CurrentStep: &stepID}
	case StepBranch:
		cs := StateUnderstanding
		return &StateUpdate{ConversationState: &cs, CurrentStep: &stepID}
	case StepSay:
		cs := StateUnderstanding
		return &StateUpdate{ConversationState: &cs, CurrentStep: &stepID}
	case StepConfirm:
		cs := StateConfirming
		return &StateUpdate{ConversationState: &cs, CurrentStep: &stepID}
	default:
		cs := StateError
		errStr := "unknown_step_kind"
		return &StateUpdate{ConversationState: &cs, MetadataError: &errStr, CurrentStep: &stepID}
	}
}

// EvalBranch evaluates a branch step's cases in declared order, returning
// the first matching Next, or Default if none match.
func (sm *FlowStepManager) EvalBranch(state *DialogueState, step *StepDefinition) string {
	for _, c := range step.Cases {
		if c.When != nil && c.When(state) {
			return c.Next
		}
	}
	return step.Default
}
