package dialogrt

import (
	"context"
	"fmt"
)

// Command is the closed sum of data-only command variants produced by the
// NLU adapter (§4.3). Each concrete type below implements Command by
// returning its own type-name tag, used as the HandlerRegistry key.
type Command interface {
	Type() string
}

type StartFlow struct {
	FlowName string
	Slots    map[string]interface{}
}

func (StartFlow) Type() string { return "StartFlow" }

type SetSlot struct {
	SlotName   string
	Value      interface{}
	Confidence float64
}

func (SetSlot) Type() string { return "SetSlot" }

type CorrectSlot struct {
	SlotName string
	NewValue interface{}
}

func (CorrectSlot) Type() string { return "CorrectSlot" }

type CancelFlow struct {
	Reason string
}

func (CancelFlow) Type() string { return "CancelFlow" }

type Clarify struct {
	Topic string
}

func (Clarify) Type() string { return "Clarify" }

type AffirmConfirmation struct{}

func (AffirmConfirmation) Type() string { return "AffirmConfirmation" }

type DenyConfirmation struct {
	SlotToChange string
}

func (DenyConfirmation) Type() string { return "DenyConfirmation" }

type HumanHandoff struct {
	Reason string
}

func (HumanHandoff) Type() string { return "HumanHandoff" }

type ChitChat struct {
	Hint string
}

func (ChitChat) Type() string { return "ChitChat" }

type OutOfScope struct {
	Topic string
}

func (OutOfScope) Type() string { return "OutOfScope" }

// StateUpdate is the partial-update value every command handler and graph
// node returns (§2, §4.3). Nil fields mean "no change"; the slices flagged
// as append-semantics are merged by StateUpdate.Apply per §4.4 rule 2;
// ReplaceFlowStack, when non-nil, replaces flow_stack wholesale (handlers
// that change the stack return the full new stack).
type StateUpdate struct {
	UserMessage        *string
	LastResponse       *string
	AppendMessages      []Message
	ReplaceFlowStack   []FlowContext
	MergeFlowSlots     map[string]map[string]interface{}
	ConversationState  *ConversationState
	CurrentStep        *string
	ClearCurrentStep   bool
	WaitingForSlot     *string
	ClearWaitingForSlot bool
	NLUResult          *NLUResult
	LastNLUCall        *float64
	DigressionDepth    *int
	LastDigressionType *string
	TurnCountDelta     int
	ValidationFailuresDelta int
	AppendTrace         []TraceEvent
	AppendCommandLog    []CommandLogEntry
	MetadataError      *string
	ClearMetadataError bool
	AppendCompletedFlows []FlowContext
	AppendQueuedMessages []string
}

// Apply merges one StateUpdate into state following the §4.4 rule-2 merge
// semantics: scalars replace; messages/trace/command_log append;
// flow_slots deep-merge per flow_id; flow_stack is wholesale-replaced when
// provided.
func (u *StateUpdate) Apply(state *DialogueState) {
	if u == nil {
		return
	}
	if u.UserMessage != nil {
		state.UserMessage = *u.UserMessage
	}
	if u.LastResponse != nil {
		state.LastResponse = *u.LastResponse
	}
	state.Messages = append(state.Messages, u.AppendMessages...)
	if u.ReplaceFlowStack != nil {
		state.FlowStack = u.ReplaceFlowStack
	}
	for flowID, slots := range u.MergeFlowSlots {
		if state.FlowSlots[flowID] == nil {
			state.FlowSlots[flowID] = make(map[string]interface{})
		}
		for k, v := range slots {
			state.FlowSlots[flowID][k] = v
		}
	}
	if u.ConversationState != nil {
		state.ConversationState = *u.ConversationState
	}
	if u.CurrentStep != nil {
		state.CurrentStep = *u.CurrentStep
	}
	if u.ClearCurrentStep {
		state.CurrentStep = ""
	}
	if u.WaitingForSlot != nil {
		state.WaitingForSlot = *u.WaitingForSlot
	}
	if u.ClearWaitingForSlot {
		state.WaitingForSlot = ""
	}
	if u.NLUResult != nil {
		state.NLUResult = u.NLUResult
	}
	if u.LastNLUCall != nil {
		state.LastNLUCall = u.LastNLUCall
	}
	if u.DigressionDepth != nil {
		state.DigressionDepth = *u.DigressionDepth
	}
	if u.LastDigressionType != nil {
		state.LastDigressionType = *u.LastDigressionType
	}
	state.TurnCount += u.TurnCountDelta
	state.ValidationFailures += u.ValidationFailuresDelta
	state.Trace = append(state.Trace, u.AppendTrace...)
	state.CommandLog = append(state.CommandLog, u.AppendCommandLog...)
	if u.MetadataError != nil {
		state.Metadata.Error = *u.MetadataError
	}
	if u.ClearMetadataError {
		state.Metadata.Error = ""
	}
	state.Metadata.CompletedFlows = append(state.Metadata.CompletedFlows, u.AppendCompletedFlows...)
	state.Metadata.QueuedMessages = append(state.Metadata.QueuedMessages, u.AppendQueuedMessages...)
}

// RegisterBuiltinCommandHandlers installs the one handler per command
// variant required by §4.3's closed/open dispatch contract.
func RegisterBuiltinCommandHandlers(r *HandlerRegistry) {
	r.Register("StartFlow", handleStartFlow)
	r.Register("SetSlot", handleSetSlot)
	r.Register("CorrectSlot", handleCorrectSlot)
	r.Register("CancelFlow", handleCancelFlow)
	r.Register("Clarify", handleClarify)
	r.Register("AffirmConfirmation", handleAffirmConfirmation)
	r.Register("DenyConfirmation", handleDenyConfirmation)
	r.Register("HumanHandoff", handleHumanHandoff)
	r.Register("ChitChat", handleChitChat)
	r.Register("OutOfScope", handleOutOfScope)
}

func handleStartFlow(ctx context.Context, cmd Command, state *DialogueState, rt *Runtime) (*StateUpdate, error) {
	c := cmd.(StartFlow)
	fd, ok := rt.Scope.LookupFlow(c.FlowName)
	if !ok {
		return nil, &ConfigurationError{Reference: c.FlowName, Reason: "flow not registered"}
	}
	result, err := rt.FlowManager.Push(state, c.FlowName, c.Slots, "")
	if err != nil {
		return nil, err
	}

	cs := StateUnderstanding
	upd := &StateUpdate{ReplaceFlowStack: result.Stack, ConversationState: &cs}
	if result.InitialSlots != nil {
		upd.MergeFlowSlots = map[string]map[string]interface{}{result.FlowID: result.InitialSlots}
	}
	if result.ArchivedOld != nil {
		upd.AppendCompletedFlows = []FlowContext{*result.ArchivedOld}
	}
	// place current_step at the flow's first step so execute_commands' fall-through
	// to advance_through_completed_steps picks it up regardless of its kind.
	if len(fd.Order) > 0 {
		first := fd.Order[0]
		upd.CurrentStep = &first
	}
	return upd, nil
}

func handleSetSlot(ctx context.Context, cmd Command, state *DialogueState, rt *Runtime) (*StateUpdate, error) {
	c := cmd.(SetSlot)
	active := state.ActiveFlow()
	if active == nil {
		return nil, &NoActiveFlow{Operation: "SetSlot"}
	}
	cs := StateValidatingSlot
	return &StateUpdate{
		MergeFlowSlots:    map[string]map[string]interface{}{active.FlowID: {c.SlotName: c.Value}},
		ConversationState: &cs,
	}, nil
}

func handleCorrectSlot(ctx context.Context, cmd Command, state *DialogueState, rt *Runtime) (*StateUpdate, error) {
	c := cmd.(CorrectSlot)
	active := state.ActiveFlow()
	if active == nil {
		return nil, &NoActiveFlow{Operation: "CorrectSlot"}
	}
	return ApplyCorrectionPattern(ctx, c, state, rt)
}

func handleCancelFlow(ctx context.Context, cmd Command, state *DialogueState, rt *Runtime) (*StateUpdate, error) {
	c := cmd.(CancelFlow)
	return ApplyCancellationPattern(ctx, c, state, rt)
}

func handleClarify(ctx context.Context, cmd Command, state *DialogueState, rt *Runtime) (*StateUpdate, error) {
	c := cmd.(Clarify)
	return ApplyClarificationPattern(ctx, c, state, rt)
}

func handleAffirmConfirmation(ctx context.Context, cmd Command, state *DialogueState, rt *Runtime) (*StateUpdate, error) {
	return ApplyConfirmationAffirm(state, rt)
}

func handleDenyConfirmation(ctx context.Context, cmd Command, state *DialogueState, rt *Runtime) (*StateUpdate, error) {
	c := cmd.(DenyConfirmation)
	return ApplyConfirmationDeny(ctx, c, state, rt)
}

func handleHumanHandoff(ctx context.Context, cmd Command, state *DialogueState, rt *Runtime) (*StateUpdate, error) {
	c := cmd.(HumanHandoff)
	return ApplyHumanHandoffPattern(ctx, c, state, rt)
}

func handleChitChat(ctx context.Context, cmd Command, state *DialogueState, rt *Runtime) (*StateUpdate, error) {
	c := cmd.(ChitChat)
	resp := "Noted — let's get back to it."
	if c.Hint != "" {
		resp = fmt.Sprintf("Noted (%s) — let's get back to it.", c.Hint)
	}
	return &StateUpdate{LastResponse: &resp, AppendMessages: []Message{{Role: "assistant", Content: resp, Timestamp: nowUnix()}}}, nil
}

func handleOutOfScope(ctx context.Context, cmd Command, state *DialogueState, rt *Runtime) (*StateUpdate, error) {
	c := cmd.(OutOfScope)
	resp := "I can't help with that here."
	if c.Topic != "" {
		resp = fmt.Sprintf("I can't help with %q here.", c.Topic)
	}
	return &StateUpdate{LastResponse: &resp, AppendMessages: []Message{{Role: "assistant", Content: resp, Timestamp: nowUnix()}}}, nil
}

// CommandExecutor deterministically executes a sequence of commands
// produced by the NLU adapter for one message (§4.4).
type CommandExecutor struct {
	handlers *HandlerRegistry
}

// NewCommandExecutor returns a CommandExecutor dispatching through handlers.
func NewCommandExecutor(handlers *HandlerRegistry) *CommandExecutor {
	return &CommandExecutor{handlers: handlers}
}

// Execute runs commands in order against state, merging each handler's
// partial update, recording a command_log entry for every command
// regardless of outcome, and short-circuiting after CancelFlow leaves an
// empty stack when a later command requires an active flow. ctx bounds the
// handlers' any blocking calls (e.g. a human-handoff action dispatch) to
// the per-message deadline.
func (ce *CommandExecutor) Execute(ctx context.Context, commands []Command, state *DialogueState, rt *Runtime) error {
	cancelledToEmpty := false
	for _, cmd := range commands {
		cmdType := cmd.Type()

		if cancelledToEmpty && commandRequiresActiveFlow(cmd) {
			state.AppendCommandLog(cmdType, commandArgs(cmd), "skipped_after_cancel")
			continue
		}

		handler, ok := ce.handlers.Lookup(cmdType)
		if !ok {
			state.AppendCommandLog(cmdType, commandArgs(cmd), "no_handler")
			continue
		}

		update, err := handler(ctx, cmd, state, rt)
		if err != nil {
			// StackDepthExceeded is recovered by the graph's handle_error node
			// into a clarify prompt without disturbing conversation_state; every
			// other handler error is fatal for the turn.
			var stackErr *StackDepthExceeded
			if !As(err, &stackErr) {
				state.Metadata.Error = err.Error()
				state.ConversationState = StateError
			}
			state.AppendCommandLog(cmdType, commandArgs(cmd), "error")
			state.AppendTraceError("command_handler_error", cmdType)
			return err
		}

		update.Apply(state)
		state.AppendCommandLog(cmdType, commandArgs(cmd), "ok")

		if cmdType == "CancelFlow" && len(state.FlowStack) == 0 {
			cancelledToEmpty = true
		}
	}
	return nil
}

// commandRequiresActiveFlow reports whether cmd can only be meaningfully
// applied while a flow is active, used by the CancelFlow short-circuit
// rule (§4.4 rule 4).
func commandRequiresActiveFlow(cmd Command) bool {
	switch cmd.(type) {
	case SetSlot, CorrectSlot, AffirmConfirmation, DenyConfirmation:
		return true
	default:
		return false
	}
}

func commandArgs(cmd Command) map[string]interface{} {
	switch c := cmd.(type) {
	case StartFlow:
		return map[string]interface{}{"flow_name": c.FlowName}
	case SetSlot:
		return map[string]interface{}{"slot_name": c.SlotName, "confidence": c.Confidence}
	case CorrectSlot:
		return map[string]interface{}{"slot_name": c.SlotName}
	case CancelFlow:
		return map[string]interface{}{"reason": c.Reason}
	case Clarify:
		return map[string]interface{}{"topic": c.Topic}
	case DenyConfirmation:
		return map[string]interface{}{"slot_to_change": c.SlotToChange}
	case HumanHandoff:
		return map[string]interface{}{"reason": c.Reason}
	case ChitChat:
		return map[string]interface{}{"hint": c.Hint}
	case OutOfScope:
		return map[string]interface{}{"topic": c.Topic}
	default:
		return nil
	}
}
