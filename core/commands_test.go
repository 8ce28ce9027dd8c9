package dialogrt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateUpdateApplyScalarsReplace(t *testing.T) {
	s := NewDialogueState()
	resp := "hello"
	step := "collect_name"
	cs := StateWaitingForSlot
	(&StateUpdate{LastResponse: &resp, CurrentStep: &step, ConversationState: &cs}).Apply(s)

	assert.Equal(t, "hello", s.LastResponse)
	assert.Equal(t, "collect_name", s.CurrentStep)
	assert.Equal(t, StateWaitingForSlot, s.ConversationState)
}

func TestStateUpdateApplyAppendsMessagesTraceAndCommandLog(t *testing.T) {
	s := NewDialogueState()
	(&StateUpdate{
		AppendMessages:   []Message{{Role: "assistant", Content: "hi"}},
		AppendTrace:      []TraceEvent{{Event: "custom"}},
		AppendCommandLog: []CommandLogEntry{{CommandType: "SetSlot"}},
	}).Apply(s)

	require.Len(t, s.Messages, 1)
	require.Len(t, s.Trace, 1)
	require.Len(t, s.CommandLog, 1)
}

func TestStateUpdateApplyMergeFlowSlotsDeepMerges(t *testing.T) {
	s := NewDialogueState()
	s.FlowSlots["f1"] = map[string]interface{}{"a": 1}
	(&StateUpdate{MergeFlowSlots: map[string]map[string]interface{}{"f1": {"b": 2}}}).Apply(s)
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 2}, s.FlowSlots["f1"])
}

func TestStateUpdateApplyReplaceFlowStackWholesale(t *testing.T) {
	s := NewDialogueState()
	s.FlowStack = []FlowContext{{FlowID: "old"}}
	newStack := []FlowContext{{FlowID: "new"}}
	(&StateUpdate{ReplaceFlowStack: newStack}).Apply(s)
	assert.Equal(t, newStack, s.FlowStack)
}

func TestStateUpdateApplyClearFields(t *testing.T) {
	s := NewDialogueState()
	s.CurrentStep = "x"
	s.WaitingForSlot = "y"
	s.Metadata.Error = "boom"
	(&StateUpdate{ClearCurrentStep: true, ClearWaitingForSlot: true, ClearMetadataError: true}).Apply(s)
	assert.Equal(t, "", s.CurrentStep)
	assert.Equal(t, "", s.WaitingForSlot)
	assert.Equal(t, "", s.Metadata.Error)
}

func TestStateUpdateApplyNilIsNoop(t *testing.T) {
	s := NewDialogueState()
	var upd *StateUpdate
	assert.NotPanics(t, func() { upd.Apply(s) })
}

func TestCommandExecutorExecuteStartFlow(t *testing.T) {
	rt := newTestRuntime(nil)
	fd := buildTestFlow(t)
	rt.Flows.Register(fd)
	state := NewDialogueState()

	err := rt.Executor.Execute(context.Background(), []Command{StartFlow{FlowName: "greet_user"}}, state, rt)
	require.NoError(t, err)
	require.Len(t, state.FlowStack, 1)
	assert.Equal(t, StateUnderstanding, state.ConversationState)
	assert.Equal(t, "collect_name", state.CurrentStep)
	require.Len(t, state.CommandLog, 1)
	assert.Equal(t, "ok", state.CommandLog[0].ResultStatus)
}

func TestCommandExecutorStartFlowUnregisteredFlowErrors(t *testing.T) {
	rt := newTestRuntime(nil)
	state := NewDialogueState()
	err := rt.Executor.Execute(context.Background(), []Command{StartFlow{FlowName: "missing"}}, state, rt)
	require.Error(t, err)
	assert.Equal(t, StateError, state.ConversationState)
}

func TestCommandExecutorSetSlotRequiresActiveFlow(t *testing.T) {
	rt := newTestRuntime(nil)
	state := NewDialogueState()
	err := rt.Executor.Execute(context.Background(), []Command{SetSlot{SlotName: "name", Value: "Ada"}}, state, rt)
	require.Error(t, err)
}

func TestCommandExecutorSetSlotTransitionsToValidating(t *testing.T) {
	rt := newTestRuntime(nil)
	fd := buildTestFlow(t)
	state := NewDialogueState()
	pushTestFlow(rt, state, fd, nil)

	err := rt.Executor.Execute(context.Background(), []Command{SetSlot{SlotName: "name", Value: "Ada"}}, state, rt)
	require.NoError(t, err)
	assert.Equal(t, StateValidatingSlot, state.ConversationState)
	active := state.ActiveFlow()
	assert.Equal(t, "Ada", state.FlowSlots[active.FlowID]["name"])
}

func TestCommandExecutorSkipsCommandsAfterCancelToEmptyStack(t *testing.T) {
	rt := newTestRuntime(nil)
	fd := buildTestFlow(t)
	state := NewDialogueState()
	pushTestFlow(rt, state, fd, nil)

	err := rt.Executor.Execute(context.Background(), []Command{
		CancelFlow{Reason: "user_requested"},
		SetSlot{SlotName: "name", Value: "Ada"},
	}, state, rt)
	require.NoError(t, err)
	require.Len(t, state.CommandLog, 2)
	assert.Equal(t, "ok", state.CommandLog[0].ResultStatus)
	assert.Equal(t, "skipped_after_cancel", state.CommandLog[1].ResultStatus)
}

func TestCommandExecutorUnknownCommandTypeLogsNoHandler(t *testing.T) {
	rt := newTestRuntime(nil)
	state := NewDialogueState()
	err := rt.Executor.Execute(context.Background(), []Command{unknownCommand{}}, state, rt)
	require.NoError(t, err)
	require.Len(t, state.CommandLog, 1)
	assert.Equal(t, "no_handler", state.CommandLog[0].ResultStatus)
}

type unknownCommand struct{}

func (unknownCommand) Type() string { return "UnknownCommand" }

func TestHandleChitChatAndOutOfScopeRespond(t *testing.T) {
	rt := newTestRuntime(nil)
	state := NewDialogueState()
	err := rt.Executor.Execute(context.Background(), []Command{ChitChat{Hint: "weather"}}, state, rt)
	require.NoError(t, err)
	assert.Contains(t, state.LastResponse, "weather")

	state2 := NewDialogueState()
	err = rt.Executor.Execute(context.Background(), []Command{OutOfScope{Topic: "politics"}}, state2, rt)
	require.NoError(t, err)
	assert.Contains(t, state2.LastResponse, "politics")
}
