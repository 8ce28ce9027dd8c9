package dialogrt

// FlowManager is the sole authority over flow_stack and flow_slots (§4.1).
// It is a stateless policy object: Push, Pop and SetSlot take the current
// DialogueState read-only and return the new values the caller installs
// via a StateUpdate (Prune and ExpirePausedFlows modify the state in place), the same "compute new stack, let the executor merge
// it" shape CommandExecutor.Execute already uses for every other handler.
// Ownership of the stack and slots stays entirely inside DialogueState per
// §3 rather than in any manager-held map.
type FlowManager struct {
	cfg *Config
}

// NewFlowManager returns a FlowManager enforcing cfg's flow_management
// policy.
func NewFlowManager(cfg *Config) *FlowManager {
	return &FlowManager{cfg: cfg}
}

// PushFlowResult carries everything a StartFlow handler needs to build a
// complete StateUpdate: the new stack, the archived (cancel_oldest) flow
// if any, and the slots to install under the new flow_id.
type PushFlowResult struct {
	Stack         []FlowContext
	FlowID        string
	ArchivedOld   *FlowContext
	InitialSlots  map[string]interface{}
}

// Push is the full push_flow operation (§4.1), returning a PushFlowResult
// ready to fold into a StateUpdate.
func (fm *FlowManager) Push(state *DialogueState, flowName string, initialSlots map[string]interface{}, reason string) (*PushFlowResult, error) {
	stack := make([]FlowContext, len(state.FlowStack))
	copy(stack, state.FlowStack)

	if len(stack) > 0 {
		top := &stack[len(stack)-1]
		top.FlowState = FlowPaused
		ts := nowUnix()
		top.PausedAt = &ts
		top.Context = reason
	}

	flowID := generateFlowID(flowName)
	startedAt := nowUnix()
	stack = append(stack, FlowContext{
		FlowID:    flowID,
		FlowName:  flowName,
		FlowState: FlowActive,
		StartedAt: &startedAt,
		Outputs:   make(map[string]interface{}),
	})

	var archived *FlowContext
	if len(stack) > fm.cfg.FlowManagement.MaxStackDepth {
		switch fm.cfg.FlowManagement.OnLimitReached {
		case OnLimitCancelOldest:
			cancelled := stack[0]
			cancelled.FlowState = FlowCancelled
			ts := nowUnix()
			cancelled.CompletedAt = &ts
			archived = &cancelled
			stack = stack[1:]
		case OnLimitAskUser:
			return nil, &StackDepthExceeded{MaxDepth: fm.cfg.FlowManagement.MaxStackDepth, FlowName: flowName, Policy: OnLimitAskUser}
		default:
			return nil, &StackDepthExceeded{MaxDepth: fm.cfg.FlowManagement.MaxStackDepth, FlowName: flowName, Policy: OnLimitRejectNew}
		}
	}

	return &PushFlowResult{Stack: stack, FlowID: flowID, ArchivedOld: archived, InitialSlots: initialSlots}, nil
}

// PopFlowResult carries the fields a pop_flow caller folds into a
// StateUpdate: the new stack (with the popped flow removed and, if a new
// top exists, promoted PAUSED→ACTIVE) and the archived record to append to
// metadata.completed_flows.
type PopFlowResult struct {
	Stack    []FlowContext
	Archived FlowContext
}

// Pop implements pop_flow (§4.1): moves the top of stack to archive with
// outputs and result, and promotes the new top (if any) PAUSED→ACTIVE.
// Popping an empty stack is a logic-bug-indicating fatal condition, as the
// spec requires.
func (fm *FlowManager) Pop(state *DialogueState, outputs map[string]interface{}, result FlowState) (*PopFlowResult, error) {
	if len(state.FlowStack) == 0 {
		return nil, &StateInvariantViolation{Invariant: "pop_flow", Detail: "pop_flow called on empty flow_stack"}
	}

	stack := make([]FlowContext, len(state.FlowStack))
	copy(stack, state.FlowStack)

	popped := stack[len(stack)-1]
	stack = stack[:len(stack)-1]

	popped.FlowState = result
	ts := nowUnix()
	popped.CompletedAt = &ts
	if outputs != nil {
		popped.Outputs = outputs
	}
	if slots, ok := state.FlowSlots[popped.FlowID]; ok {
		shallow := make(map[string]interface{}, len(slots))
		for k, v := range slots {
			shallow[k] = v
		}
		if popped.Outputs == nil {
			popped.Outputs = make(map[string]interface{})
		}
		popped.Outputs["_slots"] = shallow
	}

	if len(stack) > 0 {
		top := &stack[len(stack)-1]
		top.FlowState = FlowActive
		top.PausedAt = nil
	}

	return &PopFlowResult{Stack: stack, Archived: popped}, nil
}

// GetActiveContext returns the top of stack, or nil.
func (fm *FlowManager) GetActiveContext(state *DialogueState) *FlowContext {
	return state.ActiveFlow()
}

// GetSlot reads a slot from the active flow's slot map. Fails with
// NoActiveFlow if there is none.
func (fm *FlowManager) GetSlot(state *DialogueState, name string) (interface{}, bool, error) {
	active := state.ActiveFlow()
	if active == nil {
		return nil, false, &NoActiveFlow{Operation: "GetSlot"}
	}
	slots, ok := state.FlowSlots[active.FlowID]
	if !ok {
		return nil, false, nil
	}
	v, ok := slots[name]
	return v, ok, nil
}

// SetSlot computes the flow_slots delta for setting name=value on the
// active flow, for folding into a StateUpdate.MergeFlowSlots. Fails with
// NoActiveFlow if there is none.
func (fm *FlowManager) SetSlot(state *DialogueState, name string, value interface{}) (map[string]map[string]interface{}, error) {
	active := state.ActiveFlow()
	if active == nil {
		return nil, &NoActiveFlow{Operation: "SetSlot"}
	}
	return map[string]map[string]interface{}{active.FlowID: {name: value}}, nil
}

// Prune applies the configured memory_management bounds to state.
func (fm *FlowManager) Prune(state *DialogueState) {
	state.Prune(fm.cfg.PruneLimits())
}

// ExpirePausedFlows implements the §5 cleanup pass: any non-top flow that
// has been PAUSED longer than its flow definition's max_pause_duration
// (falling back to flow_management.abandon_timeout when the flow isn't
// registered or its duration is zero; NewFlowDefinition defaults it to one
// hour) is marked ABANDONED and removed
// from the stack. It returns the archived records for the caller to append
// to metadata.completed_flows; a nil/empty result means nothing expired.
func (fm *FlowManager) ExpirePausedFlows(state *DialogueState, flows *FlowRegistry) []FlowContext {
	if len(state.FlowStack) < 2 {
		return nil
	}

	now := nowUnix()
	var archived []FlowContext
	kept := make([]FlowContext, 0, len(state.FlowStack))
	for i, fc := range state.FlowStack {
		isTop := i == len(state.FlowStack)-1
		if !isTop && fc.FlowState == FlowPaused && fc.PausedAt != nil {
			timeout := fm.cfg.FlowManagement.AbandonTimeout
			if fd, ok := flows.Lookup(fc.FlowName); ok && fd.Metadata.MaxPauseDuration > 0 {
				timeout = fd.Metadata.MaxPauseDuration
			}
			if timeout > 0 && now-*fc.PausedAt > timeout.Seconds() {
				fc.FlowState = FlowAbandoned
				ts := now
				fc.CompletedAt = &ts
				archived = append(archived, fc)
				continue
			}
		}
		kept = append(kept, fc)
	}
	if len(archived) == 0 {
		return nil
	}
	state.FlowStack = kept
	return archived
}
