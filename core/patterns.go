package dialogrt

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Predicate is the pluggable evaluator backing branch-step conditions and
// pattern triggers (§4.5, §4.2, §9). The spec deliberately leaves syntax
// unspecified beyond "a documented minimal subset" (§11.6); this runtime
// ships one concrete evaluator, FieldPredicate, built on the standard
// library only — the sole component in this codebase justified as
// stdlib-only (see DESIGN.md).
type Predicate func(state *DialogueState) bool

// FieldPredicate compares a named field against a literal using one of a
// small closed set of comparators. Supported fields: "digression_depth",
// "turn_count", "waiting_for_slot", "conversation_state", or
// "slot:<name>" to read a value from the active flow's slot map.
type FieldPredicate struct {
	Field      string
	Comparator string // one of "==", "!=", ">", ">=", "<", "<="
	Literal    string
}

// Eval implements Predicate for a FieldPredicate.
func (p FieldPredicate) Eval(state *DialogueState) bool {
	actual := p.resolveField(state)
	return compare(actual, p.Comparator, p.Literal)
}

func (p FieldPredicate) resolveField(state *DialogueState) string {
	switch {
	case p.Field == "digression_depth", p.Field == "clarification_depth":
		return strconv.Itoa(state.DigressionDepth)
	case p.Field == "turn_count":
		return strconv.Itoa(state.TurnCount)
	case p.Field == "validation_failures":
		return strconv.Itoa(state.ValidationFailures)
	case p.Field == "waiting_for_slot":
		return state.WaitingForSlot
	case p.Field == "conversation_state":
		return string(state.ConversationState)
	case p.Field == "explicit_request":
		return strconv.FormatBool(lastCommandWasHumanHandoff(state))
	case strings.HasPrefix(p.Field, "slot:"):
		name := strings.TrimPrefix(p.Field, "slot:")
		active := state.ActiveFlow()
		if active == nil {
			return ""
		}
		if slots, ok := state.FlowSlots[active.FlowID]; ok {
			return fmt.Sprintf("%v", slots[name])
		}
		return ""
	default:
		return ""
	}
}

func compare(actual, comparator, literal string) bool {
	if comparator == "==" {
		return actual == literal
	}
	if comparator == "!=" {
		return actual != literal
	}
	af, aerr := strconv.ParseFloat(actual, 64)
	lf, lerr := strconv.ParseFloat(literal, 64)
	if aerr != nil || lerr != nil {
		return false
	}
	switch comparator {
	case ">":
		return af > lf
	case ">=":
		return af >= lf
	case "<":
		return af < lf
	case "<=":
		return af <= lf
	default:
		return false
	}
}

// ParseFieldPredicate parses the minimal "<field><comparator><literal>"
// subset used by §6's static trigger_conditions strings (e.g.
// "clarification_depth>3"), with no whitespace tolerance required since
// these are authored, not user-entered. A bare field name with no
// comparator (e.g. "explicit_request") is treated as a boolean presence
// check equivalent to "<field>==true".
func ParseFieldPredicate(expr string) (FieldPredicate, error) {
	for _, comp := range []string{">=", "<=", "==", "!=", ">", "<"} {
		if idx := strings.Index(expr, comp); idx > 0 {
			return FieldPredicate{
				Field:      strings.TrimSpace(expr[:idx]),
				Comparator: comp,
				Literal:    strings.TrimSpace(expr[idx+len(comp):]),
			}, nil
		}
	}
	if trimmed := strings.TrimSpace(expr); trimmed != "" && !strings.ContainsAny(trimmed, "<>=! ") {
		return FieldPredicate{Field: trimmed, Comparator: "==", Literal: "true"}, nil
	}
	return FieldPredicate{}, &ConfigurationError{Reference: expr, Reason: "unparseable predicate expression"}
}

// lastCommandWasHumanHandoff reports whether the most recent dispatched
// command this turn was an explicit HumanHandoff, the only observable
// signal of a user's explicit handoff request.
func lastCommandWasHumanHandoff(state *DialogueState) bool {
	if len(state.CommandLog) == 0 {
		return false
	}
	return state.CommandLog[len(state.CommandLog)-1].CommandType == "HumanHandoff"
}

// intSlotValue reads an int out of a flow slot value, tolerating the
// float64 a JSON round-trip through the checkpointer produces.
func intSlotValue(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

func confirmationDenyCountKey(stepID string) string { return "__confirm_deny_count_" + stepID }

// AnswerAdapter resolves a clarification topic to a textual answer.
// Domain knowledge is external per §4.5; this runtime only defines the
// call shape.
type AnswerAdapter interface {
	Answer(topic string, state *DialogueState) (string, error)
}

// ApplyCorrectionPattern implements the Correction pattern (§4.5): updates
// the slot via FlowManager and, if revalidate_dependents is enabled,
// re-enters VALIDATING_SLOT so validate_slot re-checks it; emits a
// templated confirmation.
func ApplyCorrectionPattern(ctx context.Context, c CorrectSlot, state *DialogueState, rt *Runtime) (*StateUpdate, error) {
	if !rt.Config.ConversationPatterns.Correction.Enabled {
		return &StateUpdate{}, nil
	}
	slots, err := rt.FlowManager.SetSlot(state, c.SlotName, c.NewValue)
	if err != nil {
		return nil, err
	}
	upd := &StateUpdate{MergeFlowSlots: slots}
	if rt.Config.ConversationPatterns.Correction.RevalidateDependents {
		cs := StateValidatingSlot
		upd.ConversationState = &cs
	}
	confirmation := fmt.Sprintf("Got it, updated %s.", c.SlotName)
	upd.AppendMessages = []Message{{Role: "assistant", Content: confirmation, Timestamp: nowUnix()}}
	upd.LastResponse = &confirmation
	return upd, nil
}

// ApplyClarificationPattern implements the Clarification pattern (§4.5):
// increments digression_depth, answers via the injected AnswerAdapter, and
// re-prompts the waiting slot; past max_depth it escalates per the
// configured fallback instead of always handing off to a human.
func ApplyClarificationPattern(ctx context.Context, c Clarify, state *DialogueState, rt *Runtime) (*StateUpdate, error) {
	cfg := rt.Config.ConversationPatterns.Clarification
	if !cfg.Enabled {
		return &StateUpdate{}, nil
	}
	newDepth := state.DigressionDepth + 1
	if newDepth > cfg.MaxDepth {
		return applyClarificationFallback(ctx, cfg.Fallback, state, rt)
	}

	answer := "I'm not sure — let's continue."
	if rt.AnswerAdapter != nil {
		if a, err := rt.AnswerAdapter.Answer(c.Topic, state); err == nil && a != "" {
			answer = a
		}
	}

	digressionType := "clarification"
	upd := &StateUpdate{
		DigressionDepth:    &newDepth,
		LastDigressionType: &digressionType,
		AppendMessages:     []Message{{Role: "assistant", Content: answer, Timestamp: nowUnix()}},
		LastResponse:       &answer,
	}
	return upd, nil
}

// applyClarificationFallback dispatches the clarification pattern's
// past-max-depth escalation per conversation_patterns.clarification.fallback.
// "human_handoff" (the documented default) connects to a human agent;
// "cancel_flow" abandons the active flow instead; anything else falls back
// to human_handoff with a warning, since the runtime has no third option.
func applyClarificationFallback(ctx context.Context, fallback string, state *DialogueState, rt *Runtime) (*StateUpdate, error) {
	switch fallback {
	case "cancel_flow":
		return ApplyCancellationPattern(ctx, CancelFlow{Reason: "clarification_depth_exceeded"}, state, rt)
	case "human_handoff", "":
		return ApplyHumanHandoffPattern(ctx, HumanHandoff{Reason: "clarification_depth_exceeded"}, state, rt)
	default:
		rt.Logger.WithField("fallback", fallback).Warn("unrecognized clarification fallback, defaulting to human_handoff")
		return ApplyHumanHandoffPattern(ctx, HumanHandoff{Reason: "clarification_depth_exceeded"}, state, rt)
	}
}

// ApplyCancellationPattern implements the Cancellation pattern (§4.5): on
// CancelFlow, pops the active flow CANCELLED and archives it, unless
// confirm_before_cancel is set and the session is not already CONFIRMING,
// in which case it asks for confirmation instead.
func ApplyCancellationPattern(ctx context.Context, c CancelFlow, state *DialogueState, rt *Runtime) (*StateUpdate, error) {
	cfg := rt.Config.ConversationPatterns.Cancellation
	if !cfg.Enabled {
		return &StateUpdate{}, nil
	}

	if cfg.ConfirmBeforeCancel && state.ConversationState != StateConfirming {
		cs := StateConfirming
		prompt := "Are you sure you want to cancel?"
		return &StateUpdate{
			ConversationState: &cs,
			AppendMessages:    []Message{{Role: "assistant", Content: prompt, Timestamp: nowUnix()}},
			LastResponse:      &prompt,
		}, nil
	}

	if state.ActiveFlow() == nil {
		return nil, &NoActiveFlow{Operation: "CancelFlow"}
	}
	result, err := rt.FlowManager.Pop(state, nil, FlowCancelled)
	if err != nil {
		return nil, err
	}
	result.Archived.Context = c.Reason

	cs := StateIdle
	if len(result.Stack) > 0 {
		cs = StateUnderstanding
	}
	msg := "Okay, cancelled."
	return &StateUpdate{
		ReplaceFlowStack:     result.Stack,
		AppendCompletedFlows: []FlowContext{result.Archived},
		ConversationState:    &cs,
		ClearWaitingForSlot:  true,
		AppendMessages:       []Message{{Role: "assistant", Content: msg, Timestamp: nowUnix()}},
		LastResponse:         &msg,
	}, nil
}

// ApplyHumanHandoffPattern implements the Human Handoff pattern (§4.5): on
// HumanHandoff, executes the configured action (typically
// handoff_to_agent) and sets conversation_state to ERROR (no dedicated
// terminal state is defined by this runtime).
func ApplyHumanHandoffPattern(ctx context.Context, c HumanHandoff, state *DialogueState, rt *Runtime) (*StateUpdate, error) {
	cfg := rt.Config.ConversationPatterns.HumanHandoff
	if !cfg.Enabled {
		return &StateUpdate{}, nil
	}

	if fn, ok := rt.Actions.Lookup(cfg.Action); ok {
		inputs := map[string]interface{}{"reason": c.Reason}
		if _, err := fn(ctx, inputs); err != nil {
			rt.Logger.Warnf("human handoff action %q failed: %v", cfg.Action, err)
		}
	}

	cs := StateError
	msg := "I'm connecting you with a human agent."
	errStr := "human_handoff"
	return &StateUpdate{
		ConversationState: &cs,
		MetadataError:     &errStr,
		AppendMessages:    []Message{{Role: "assistant", Content: msg, Timestamp: nowUnix()}},
		LastResponse:      &msg,
	}, nil
}

// ApplyConfirmationAffirm implements the Confirmation pattern's affirm
// branch (§4.5): CONFIRMING → EXECUTING_ACTION, continuing to the action
// step.
func ApplyConfirmationAffirm(state *DialogueState, rt *Runtime) (*StateUpdate, error) {
	if !rt.Config.ConversationPatterns.Confirmation.Enabled {
		return &StateUpdate{}, nil
	}
	cs := StateExecutingAction
	upd := &StateUpdate{ConversationState: &cs}
	if active := state.ActiveFlow(); active != nil {
		upd.MergeFlowSlots = map[string]map[string]interface{}{active.FlowID: {confirmationDenyCountKey(state.CurrentStep): 0}}
	}
	return upd, nil
}

// ApplyConfirmationDeny implements the Confirmation pattern's deny branch
// (§4.5): with slot_to_change, returns to WAITING_FOR_SLOT for that slot;
// without it, re-enters the slot menu by returning to WAITING_FOR_SLOT for
// the flow's currently-recorded waiting slot. Denies are counted per
// confirm step in the active flow's slots; hitting max_retries applies
// on_max_retries instead of re-prompting forever.
func ApplyConfirmationDeny(ctx context.Context, c DenyConfirmation, state *DialogueState, rt *Runtime) (*StateUpdate, error) {
	cfg := rt.Config.ConversationPatterns.Confirmation
	if !cfg.Enabled {
		return &StateUpdate{}, nil
	}

	active := state.ActiveFlow()
	if active == nil {
		return nil, &NoActiveFlow{Operation: "DenyConfirmation"}
	}
	key := confirmationDenyCountKey(state.CurrentStep)
	count := intSlotValue(state.FlowSlots[active.FlowID][key]) + 1

	if cfg.MaxRetries > 0 && count >= cfg.MaxRetries {
		switch cfg.OnMaxRetries {
		default: // only OnMaxRetriesCancel is currently defined
			return ApplyCancellationPattern(ctx, CancelFlow{Reason: "confirmation_max_retries"}, state, rt)
		}
	}

	cs := StateWaitingForSlot
	upd := &StateUpdate{
		ConversationState: &cs,
		MergeFlowSlots:    map[string]map[string]interface{}{active.FlowID: {key: count}},
	}
	if c.SlotToChange != "" {
		slot := c.SlotToChange
		upd.WaitingForSlot = &slot
	}
	return upd, nil
}
