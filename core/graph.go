package dialogrt

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Runtime bundles the injected collaborators every graph node reads, per
// §2's "nodes read the injected runtime context" line: FlowManager, NLU,
// action dispatcher, scope, normalizer, and the registries. It has process
// lifetime and is read-only after construction (§3, Ownership).
type Runtime struct {
	Config       *Config
	FlowManager  *FlowManager
	StepManager  *FlowStepManager
	Scope        *ScopeManager
	Flows        *FlowRegistry
	Actions      *ActionRegistry
	Validators   *ValidatorRegistry
	Normalizers  *NormalizerRegistry
	Handlers     *HandlerRegistry
	Executor     *CommandExecutor
	NLU          NLUAdapter
	Templates    *TemplateEngine
	AnswerAdapter AnswerAdapter
	Logger       logrus.FieldLogger
	Ctx          context.Context
}

// NodeName enumerates the six graph nodes of §4.6.
type NodeName string

const (
	NodeUnderstand      NodeName = "understand"
	NodeExecuteCommands NodeName = "execute_commands"
	NodeValidateSlot    NodeName = "validate_slot"
	NodeCollectNextSlot NodeName = "collect_next_slot"
	NodeExecuteAction   NodeName = "execute_action"
	NodeGenerateResponse NodeName = "generate_response"
)

// nodeOutcome is what a single node execution produces: either a state
// update and an explicit next node, or a suspending Interrupt.
type nodeOutcome struct {
	Update   *StateUpdate
	Next     NodeName
	Terminal bool
	Suspend  *Interrupt
}

// Graph runs the compiled node/edge graph of §4.6 to completion or
// suspension.
type Graph struct {
	rt *Runtime
}

// NewGraph returns a Graph bound to rt.
func NewGraph(rt *Runtime) *Graph {
	return &Graph{rt: rt}
}

// TransitionFunc is invoked after every node transition so the caller can
// checkpoint (§2: "the checkpointer snapshots state after every node
// transition").
type TransitionFunc func(node NodeName, state *DialogueState)

// Run executes the graph starting at NodeUnderstand, or — when resume is
// non-nil — re-enters resume.Node with resume.Value available to that
// node's interrupt call. It returns when the graph reaches END (terminal)
// or suspends again at an interrupt.
func (g *Graph) Run(ctx context.Context, state *DialogueState, resume *PendingInterrupt, onTransition TransitionFunc) (terminal bool, pending *PendingInterrupt, err error) {
	current := NodeUnderstand
	var sig resumeSignal
	if resume != nil {
		current = NodeName(resume.Node)
		sig = resumeSignal{HasValue: true, Value: resume.PromptValue}
	}

	for {
		if err := ctx.Err(); err != nil {
			return false, nil, err
		}
		outcome, err := g.execNode(ctx, current, state, sig)
		if err != nil {
			return false, nil, err
		}
		sig = resumeSignal{} // only the first (resumed) node sees the resume value

		if outcome.Update != nil {
			outcome.Update.Apply(state)
		}
		if onTransition != nil {
			onTransition(current, state)
		}

		if outcome.Suspend != nil {
			return false, &PendingInterrupt{Node: outcome.Suspend.Node, PromptValue: outcome.Suspend.PromptValue}, nil
		}
		if outcome.Terminal {
			return true, nil, nil
		}
		current = outcome.Next
	}
}

func (g *Graph) execNode(ctx context.Context, name NodeName, state *DialogueState, resume resumeSignal) (*nodeOutcome, error) {
	switch name {
	case NodeUnderstand:
		return g.understand(ctx, state)
	case NodeExecuteCommands:
		return g.executeCommands(ctx, state)
	case NodeValidateSlot:
		return g.validateSlot(state)
	case NodeCollectNextSlot:
		return g.collectNextSlot(state, resume)
	case NodeExecuteAction:
		return g.executeAction(ctx, state)
	case NodeGenerateResponse:
		return g.generateResponse(state)
	default:
		return nil, &ConfigurationError{Reference: string(name), Reason: "unknown graph node"}
	}
}

// understand builds the understanding context and calls the NLU adapter
// (§4.6). On NLUAdapterError, the §7 fallback applies: if waiting_for_slot
// is set, synthesize a low-confidence SetSlot from the raw message;
// otherwise respond with a generic apology.
func (g *Graph) understand(ctx context.Context, state *DialogueState) (*nodeOutcome, error) {
	active := state.ActiveFlow()
	var currentSlots map[string]interface{}
	var currentFlowName string
	if active != nil {
		currentSlots = state.FlowSlots[active.FlowID]
		currentFlowName = active.FlowName
	}

	recentCommands := make([]string, 0, len(state.CommandLog))
	for _, c := range state.CommandLog {
		recentCommands = append(recentCommands, c.CommandType)
	}

	req := NLURequest{
		UserMessage:         state.UserMessage,
		ConversationHistory: state.Messages,
		DialogueContext: DialogueContext{
			CurrentSlots:   currentSlots,
			AvailableFlows: g.rt.Scope.EligibleFlows(state),
			CurrentFlow:    currentFlowName,
			WaitingForSlot: state.WaitingForSlot,
			RecentCommands: recentCommands,
		},
		Now: nowUnix(),
	}

	result, err := g.rt.NLU.Understand(ctx, req)
	if err != nil && ctx.Err() != nil {
		// The message-level deadline is already gone; returning the
		// fallback here would mask a timed-out turn as a degraded one.
		return nil, ctx.Err()
	}
	ts := nowUnix()
	turnDelta := 1

	if err != nil || result == nil {
		g.rt.Logger.WithError(err).Warn("nlu adapter failed, applying fallback")
		if state.WaitingForSlot != "" {
			result = &NLUResult{
				Commands:   []Command{SetSlot{SlotName: state.WaitingForSlot, Value: state.UserMessage, Confidence: 0.3}},
				Confidence: 0.3,
				Reasoning:  "nlu_adapter_error_fallback",
			}
		} else {
			resp := "I didn't understand that."
			return &nodeOutcome{
				Update: &StateUpdate{
					LastResponse:   &resp,
					AppendMessages: []Message{{Role: "assistant", Content: resp, Timestamp: ts}},
					LastNLUCall:    &ts,
					TurnCountDelta: turnDelta,
					AppendTrace:    []TraceEvent{{Event: "error", Data: map[string]interface{}{"kind": "NLUAdapterError", "where": "understand"}, Timestamp: ts}},
				},
				Next: NodeGenerateResponse,
			}, nil
		}
	}

	return &nodeOutcome{
		Update: &StateUpdate{
			NLUResult:      result,
			LastNLUCall:    &ts,
			TurnCountDelta: turnDelta,
		},
		Next: NodeExecuteCommands,
	}, nil
}

// executeCommands invokes the CommandExecutor on nlu_result.commands, then
// routes per §4.6's conditional edges.
func (g *Graph) executeCommands(ctx context.Context, state *DialogueState) (*nodeOutcome, error) {
	var commands []Command
	if state.NLUResult != nil {
		commands = state.NLUResult.Commands
	}

	if err := g.rt.Executor.Execute(ctx, commands, state, g.rt); err != nil {
		return g.handleError(state, err, "execute_commands")
	}

	if outcome, handled, err := g.evaluateHandoffTriggers(ctx, state); handled {
		return outcome, err
	}

	switch state.ConversationState {
	case StateWaitingForSlot, StateConfirming:
		return &nodeOutcome{Next: NodeCollectNextSlot}, nil
	case StateValidatingSlot:
		return &nodeOutcome{Next: NodeValidateSlot}, nil
	case StateExecutingAction:
		return &nodeOutcome{Next: NodeExecuteAction}, nil
	case StateCompleted:
		return g.autoPopAndRoute(state)
	default:
		return g.advanceDeclarativeSteps(state)
	}
}

// evaluateHandoffTriggers implements the human_handoff trigger_conditions
// predicate pass (§4.5, §6): after each turn's commands are dispatched, any
// configured trigger expression is evaluated against the resulting state and
// the first match routes straight into ApplyHumanHandoffPattern instead of
// the turn's ordinary routing. An explicit HumanHandoff command this turn
// already ran the pattern, so it is skipped here to avoid double-firing.
func (g *Graph) evaluateHandoffTriggers(ctx context.Context, state *DialogueState) (outcome *nodeOutcome, handled bool, err error) {
	cfg := g.rt.Config.ConversationPatterns.HumanHandoff
	if !cfg.Enabled || len(cfg.TriggerConditions) == 0 || lastCommandWasHumanHandoff(state) {
		return nil, false, nil
	}

	for _, expr := range cfg.TriggerConditions {
		pred, perr := ParseFieldPredicate(expr)
		if perr != nil {
			g.rt.Logger.WithField("expr", expr).WithError(perr).Warn("unparseable human_handoff trigger_condition, skipping")
			continue
		}
		if !pred.Eval(state) {
			continue
		}
		upd, herr := ApplyHumanHandoffPattern(ctx, HumanHandoff{Reason: "trigger_condition:" + expr}, state, g.rt)
		if herr != nil {
			o, e := g.handleError(state, herr, "evaluate_handoff_triggers")
			return o, true, e
		}
		upd.Apply(state)
		return &nodeOutcome{Next: NodeGenerateResponse}, true, nil
	}
	return nil, false, nil
}

// advanceDeclarativeSteps is the graph's step-walking engine, reused by
// execute_commands (after command dispatch), validate_slot (after a slot
// passes validation), and execute_action (after an action returns): it
// checks completion with the same FlowStepManager.IsStepComplete the pure
// AdvanceThroughCompletedSteps operation uses, but additionally performs
// the side effects say/branch steps require (rendering text exactly once
// per visit per §4.2, evaluating branch conditions) before continuing,
// stopping at the first step needing external input (collect/confirm), a
// dispatched action, flow completion, or the iteration bound.
func (g *Graph) advanceDeclarativeSteps(state *DialogueState) (*nodeOutcome, error) {
	active := state.ActiveFlow()
	if active == nil {
		return &nodeOutcome{Next: NodeGenerateResponse}, nil
	}
	fd, ok := g.rt.Scope.LookupFlow(active.FlowName)
	if !ok {
		return g.handleError(state, &ConfigurationError{Reference: active.FlowName, Reason: "flow not registered"}, "execute_commands")
	}

	currentStep := state.CurrentStep
	if currentStep == "" && len(fd.Order) > 0 {
		currentStep = fd.Order[0]
	}

	for i := 0; i < maxStepAdvancementIterations; i++ {
		step, ok := fd.Steps[currentStep]
		if !ok {
			cs := StateCompleted
			(&StateUpdate{ConversationState: &cs, CurrentStep: &currentStep}).Apply(state)
			return g.autoPopAndRoute(state)
		}

		if g.rt.StepManager.IsStepComplete(state, step) {
			next := fd.NextStepID(currentStep)
			if next == "" {
				cs := StateCompleted
				(&StateUpdate{ConversationState: &cs, CurrentStep: &currentStep}).Apply(state)
				return g.autoPopAndRoute(state)
			}
			currentStep = next
			(&StateUpdate{CurrentStep: &currentStep}).Apply(state)
			continue
		}

		switch step.Kind {
		case StepSay:
			text, err := g.rt.Templates.RenderSayStep(step, state)
			if err != nil {
				return g.handleError(state, fmt.Errorf("rendering say step %q: %w", step.ID, err), "execute_commands")
			}
			respCopy := text
			stepID := currentStep
			(&StateUpdate{
				MergeFlowSlots: map[string]map[string]interface{}{active.FlowID: {sayEmittedKey(step.ID): true}},
				AppendMessages: []Message{{Role: "assistant", Content: text, Timestamp: nowUnix()}},
				LastResponse:   &respCopy,
				CurrentStep:    &stepID,
			}).Apply(state)

		case StepBranch:
			next := g.rt.StepManager.EvalBranch(state, step)
			(&StateUpdate{
				MergeFlowSlots: map[string]map[string]interface{}{active.FlowID: {branchDecisionKey(step.ID): true}},
				CurrentStep:    &next,
			}).Apply(state)
			currentStep = next

		default:
			upd := g.rt.StepManager.waitingUpdateForStep(currentStep, step)
			return &nodeOutcome{Update: upd, Next: routeAfterAdvance(upd)}, nil
		}
	}

	cs := StateError
	errStr := "step_advancement_exhausted"
	return &nodeOutcome{
		Update: &StateUpdate{ConversationState: &cs, MetadataError: &errStr},
		Next:   NodeGenerateResponse,
	}, nil
}

// autoPopAndRoute implements the auto-resume loop (§4.6): pops the
// completed flow, promotes the new top if any, and either re-enters
// understand (with user_message cleared, so step advancement re-prompts
// the resumed flow without the user restating intent) or falls through to
// generate_response if the stack is now empty.
func (g *Graph) autoPopAndRoute(state *DialogueState) (*nodeOutcome, error) {
	active := state.ActiveFlow()
	var outputs map[string]interface{}
	if active != nil {
		outputs = active.Outputs
	}
	result, err := g.rt.FlowManager.Pop(state, outputs, FlowCompleted)
	if err != nil {
		return g.handleError(state, err, "auto_pop")
	}

	empty := ""
	upd := &StateUpdate{
		ReplaceFlowStack:     result.Stack,
		AppendCompletedFlows: []FlowContext{result.Archived},
		UserMessage:          &empty,
	}

	if len(result.Stack) == 0 {
		cs := StateIdle
		upd.ConversationState = &cs
		return &nodeOutcome{Update: upd, Next: NodeGenerateResponse}, nil
	}

	newTop := result.Stack[len(result.Stack)-1]
	cs := StateUnderstanding
	step := newTop.CurrentStep
	upd.ConversationState = &cs
	upd.CurrentStep = &step
	return &nodeOutcome{Update: upd, Next: NodeUnderstand}, nil
}

// validateSlot validates the value just set via the slot's validator
// registration, re-prompting on failure or cascading via
// advance_through_completed_steps on success (§4.6).
func (g *Graph) validateSlot(state *DialogueState) (*nodeOutcome, error) {
	active := state.ActiveFlow()
	if active == nil {
		return g.handleError(state, &NoActiveFlow{Operation: "validate_slot"}, "validate_slot")
	}
	fd, ok := g.rt.Scope.LookupFlow(active.FlowName)
	if !ok {
		return g.handleError(state, &ConfigurationError{Reference: active.FlowName, Reason: "flow not registered"}, "validate_slot")
	}

	step := findCollectStepForSlot(fd, state.WaitingForSlot)
	if step == nil {
		cs := StateUnderstanding
		return &nodeOutcome{Update: &StateUpdate{ConversationState: &cs}, Next: NodeExecuteCommands}, nil
	}

	slotDef, ok := fd.Slots[step.Slot]
	value := state.FlowSlots[active.FlowID][step.Slot]

	if slotDef.Normalizer != "" {
		if fn, ok := g.rt.Normalizers.Lookup(slotDef.Normalizer); ok {
			normalized, err := fn(value)
			if err == nil {
				value = normalized
			}
		}
	}

	if ok && slotDef.Validator != "" {
		if fn, vok := g.rt.Validators.Lookup(slotDef.Validator); vok {
			if verr := fn(value); verr != nil {
				cs := StateWaitingForSlot
				slot := step.Slot
				return &nodeOutcome{
					Update: &StateUpdate{
						ConversationState:       &cs,
						WaitingForSlot:          &slot,
						ValidationFailuresDelta: 1,
						AppendTrace:             []TraceEvent{{Event: "error", Data: map[string]interface{}{"kind": "ValidationError", "where": "validate_slot"}, Timestamp: nowUnix()}},
					},
					Next: NodeCollectNextSlot,
				}, nil
			}
		}
	}

	(&StateUpdate{MergeFlowSlots: map[string]map[string]interface{}{active.FlowID: {step.Slot: value}}}).Apply(state)
	return g.advanceDeclarativeSteps(state)
}

func findCollectStepForSlot(fd *FlowDefinition, slotName string) *StepDefinition {
	if slotName == "" {
		return nil
	}
	for _, id := range fd.Order {
		step := fd.Steps[id]
		if step.Kind == StepCollect && step.Slot == slotName {
			return step
		}
	}
	return nil
}

func routeAfterAdvance(upd *StateUpdate) NodeName {
	if upd.ConversationState == nil {
		return NodeGenerateResponse
	}
	switch *upd.ConversationState {
	case StateWaitingForSlot, StateConfirming:
		return NodeCollectNextSlot
	case StateExecutingAction:
		return NodeExecuteAction
	case StateCompleted:
		return NodeExecuteCommands
	default:
		return NodeGenerateResponse
	}
}

// collectNextSlot emits the pending prompt — a slot's configured prompt
// when WAITING_FOR_SLOT, or a confirm step's summary when CONFIRMING — and
// suspends at interrupt(prompt); on resume, the returned string is placed
// into user_message and control returns to understand (§4.6).
func (g *Graph) collectNextSlot(state *DialogueState, resume resumeSignal) (*nodeOutcome, error) {
	active := state.ActiveFlow()
	if active == nil {
		return g.handleError(state, &NoActiveFlow{Operation: "collect_next_slot"}, "collect_next_slot")
	}
	fd, ok := g.rt.Scope.LookupFlow(active.FlowName)
	if !ok {
		return g.handleError(state, &ConfigurationError{Reference: active.FlowName, Reason: "flow not registered"}, "collect_next_slot")
	}

	var prompt string
	if state.ConversationState == StateConfirming {
		prompt = "Please confirm (yes/no)."
		if step, ok := fd.Steps[state.CurrentStep]; ok && step.Summary != "" {
			prompt = step.Summary
		}
	} else {
		slotDef := fd.Slots[state.WaitingForSlot]
		prompt = slotDef.Prompt
		if prompt == "" {
			prompt = fmt.Sprintf("Please provide %s.", state.WaitingForSlot)
		}
	}

	if value, ok := interrupt(resume, prompt); ok {
		userMsg := value
		return &nodeOutcome{Update: &StateUpdate{UserMessage: &userMsg}, Next: NodeUnderstand}, nil
	}

	resp := prompt
	return &nodeOutcome{
		Update: &StateUpdate{
			LastResponse:   &resp,
			AppendMessages: []Message{{Role: "assistant", Content: prompt, Timestamp: nowUnix()}},
		},
		Suspend: &Interrupt{Node: string(NodeCollectNextSlot), PromptValue: prompt},
	}, nil
}

// executeAction dispatches via ActionRegistry with inputs mapped from the
// active flow's slots, writing declared outputs back, then transitions to
// the next step or completion (§4.6).
func (g *Graph) executeAction(ctx context.Context, state *DialogueState) (*nodeOutcome, error) {
	active := state.ActiveFlow()
	if active == nil {
		return g.handleError(state, &NoActiveFlow{Operation: "execute_action"}, "execute_action")
	}
	fd, ok := g.rt.Scope.LookupFlow(active.FlowName)
	if !ok {
		return g.handleError(state, &ConfigurationError{Reference: active.FlowName, Reason: "flow not registered"}, "execute_action")
	}
	step, ok := fd.Steps[state.CurrentStep]
	if !ok || step.Kind != StepAction {
		return g.handleError(state, &ConfigurationError{Reference: state.CurrentStep, Reason: "not an action step"}, "execute_action")
	}

	fn, ok := g.rt.Actions.Lookup(step.Call)
	if !ok {
		return g.handleError(state, &ActionError{ActionName: step.Call, Kind: ActionErrorNotFound, Err: fmt.Errorf("no such action")}, "execute_action")
	}

	slots := state.FlowSlots[active.FlowID]
	inputs := make(map[string]interface{}, len(step.Inputs))
	for slotName, argName := range step.Inputs {
		inputs[argName] = slots[slotName]
	}

	actionCtx := ctx
	var cancel context.CancelFunc
	if timeout := g.rt.Config.Session.ActionTimeout; timeout > 0 {
		actionCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	outputs, err := fn(actionCtx, inputs)
	mergedSlots := map[string]interface{}{actionStatusKey(step.ID): "ok"}
	if err != nil {
		mergedSlots[actionStatusKey(step.ID)] = "error"
		if ctx.Err() != nil {
			// The message-level deadline is gone, not just this action's
			// budget; abandon the turn rather than recover it locally.
			return nil, ctx.Err()
		}
		var actionErr *ActionError
		if !As(err, &actionErr) {
			kind := ActionErrorInternal
			if errors.Is(actionCtx.Err(), context.DeadlineExceeded) {
				kind = ActionErrorTimeout
			}
			actionErr = &ActionError{ActionName: step.Call, Kind: kind, Err: err}
		}
		return g.handleError(state, actionErr, "execute_action")
	}

	for resultKey, target := range step.Outputs {
		mergedSlots[target] = outputs[resultKey]
	}

	(&StateUpdate{MergeFlowSlots: map[string]map[string]interface{}{active.FlowID: mergedSlots}}).Apply(state)
	return g.advanceDeclarativeSteps(state)
}

// generateResponse selects the assistant text (preferring action outputs'
// declared response keys over a generic confirmation) and appends it to
// messages (§4.6).
func (g *Graph) generateResponse(state *DialogueState) (*nodeOutcome, error) {
	resp := state.LastResponse
	if resp == "" {
		if active := state.ActiveFlow(); active != nil {
			if r, ok := state.FlowSlots[active.FlowID]["response"].(string); ok && r != "" {
				resp = r
			}
		}
	}
	if resp == "" {
		resp = "Okay."
	}

	return &nodeOutcome{
		Update: &StateUpdate{
			LastResponse:   &resp,
			AppendMessages: []Message{{Role: "assistant", Content: resp, Timestamp: nowUnix()}},
		},
		Terminal: true,
	}, nil
}

// handleError implements the §7 propagation policy for everything that
// isn't ValidationError/ActionError-recovered-locally: it appends the
// standard trace entry, sets a generic user-visible message, and routes to
// generate_response → END rather than propagating the error to the caller.
func (g *Graph) handleError(state *DialogueState, err error, where string) (*nodeOutcome, error) {
	g.rt.Logger.WithError(err).WithField("where", where).Error("graph node error")

	var stackErr *StackDepthExceeded
	if As(err, &stackErr) {
		// The active flow is otherwise healthy; a full stack is a clarify
		// situation, not an internal error, so conversation_state is left
		// untouched rather than forced into ERROR.
		current := stackErr.FlowName
		if active := state.ActiveFlow(); active != nil {
			current = active.FlowName
		}
		resp := fmt.Sprintf("You're already in the middle of %q. Finish or cancel it before starting %q.", current, stackErr.FlowName)
		return &nodeOutcome{
			Update: &StateUpdate{
				LastResponse:   &resp,
				AppendMessages: []Message{{Role: "assistant", Content: resp, Timestamp: nowUnix()}},
				AppendTrace:    []TraceEvent{{Event: "error", Data: map[string]interface{}{"kind": "StackDepthExceeded", "where": where}, Timestamp: nowUnix()}},
			},
			Next: NodeGenerateResponse,
		}, nil
	}

	kind := "Internal"
	var actionErr *ActionError
	var valErr *ValidationError
	var noFlow *NoActiveFlow
	switch {
	case As(err, &actionErr):
		kind = "ActionError:" + actionErr.Kind.String()
	case As(err, &valErr):
		kind = "ValidationError"
	case As(err, &noFlow):
		kind = "NoActiveFlow"
	}

	cs := StateError
	errStr := err.Error()
	resp := "Something went wrong on my end."
	return &nodeOutcome{
		Update: &StateUpdate{
			ConversationState: &cs,
			MetadataError:     &errStr,
			LastResponse:      &resp,
			AppendTrace:       []TraceEvent{{Event: "error", Data: map[string]interface{}{"kind": kind, "where": where}, Timestamp: nowUnix()}},
		},
		Next: NodeGenerateResponse,
	}, nil
}
