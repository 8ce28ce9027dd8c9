package dialogrt

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// ConversationState enumerates the dialogue-level state machine values
// carried on DialogueState.ConversationState.
type ConversationState string

const (
	StateIdle             ConversationState = "IDLE"
	StateUnderstanding    ConversationState = "UNDERSTANDING"
	StateWaitingForSlot   ConversationState = "WAITING_FOR_SLOT"
	StateValidatingSlot   ConversationState = "VALIDATING_SLOT"
	StateExecutingAction  ConversationState = "EXECUTING_ACTION"
	StateConfirming       ConversationState = "CONFIRMING"
	StateCompleted        ConversationState = "COMPLETED"
	StateError            ConversationState = "ERROR"
)

// FlowState enumerates the lifecycle values of a FlowContext.
type FlowState string

const (
	FlowActive    FlowState = "ACTIVE"
	FlowPaused    FlowState = "PAUSED"
	FlowCompleted FlowState = "COMPLETED"
	FlowCancelled FlowState = "CANCELLED"
	FlowAbandoned FlowState = "ABANDONED"
	FlowError     FlowState = "ERROR"
)

// Message is one turn of conversation history.
type Message struct {
	Role      string  `json:"role"`
	Content   string  `json:"content"`
	Timestamp float64 `json:"timestamp"`
}

// TraceEvent is one entry of the bounded, append-only audit trail.
type TraceEvent struct {
	Event     string                 `json:"event"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp float64                `json:"timestamp"`
}

// CommandLogEntry records the dispatch and outcome of one command, written
// by CommandExecutor regardless of success.
type CommandLogEntry struct {
	CommandType  string                 `json:"command_type"`
	Args         map[string]interface{} `json:"args,omitempty"`
	ResultStatus string                 `json:"result_status"`
	Timestamp    float64                `json:"timestamp"`
}

// FlowContext is one instance of a running (or archived) flow on the
// session's flow_stack.
type FlowContext struct {
	FlowID      string                 `json:"flow_id"`
	FlowName    string                 `json:"flow_name"`
	FlowState   FlowState              `json:"flow_state"`
	CurrentStep string                 `json:"current_step,omitempty"`
	Outputs     map[string]interface{} `json:"outputs,omitempty"`
	StartedAt   *float64               `json:"started_at,omitempty"`
	PausedAt    *float64               `json:"paused_at,omitempty"`
	CompletedAt *float64               `json:"completed_at,omitempty"`
	Context     string                 `json:"context,omitempty"`
}

// Metadata carries the reserved-key bag described in §3: a bounded archive
// of completed flows, the last error (if any), and queued messages.
type Metadata struct {
	CompletedFlows  []FlowContext `json:"completed_flows,omitempty"`
	Error           string        `json:"error,omitempty"`
	QueuedMessages  []string      `json:"queued_messages,omitempty"`
}

// DialogueState is the single serialized unit per session.
type DialogueState struct {
	UserMessage        string                            `json:"user_message"`
	LastResponse       string                             `json:"last_response"`
	Messages           []Message                          `json:"messages"`
	FlowStack          []FlowContext                      `json:"flow_stack"`
	FlowSlots          map[string]map[string]interface{}  `json:"flow_slots"`
	ConversationState  ConversationState                  `json:"conversation_state"`
	CurrentStep        string                             `json:"current_step,omitempty"`
	WaitingForSlot     string                             `json:"waiting_for_slot,omitempty"`
	NLUResult          *NLUResult                         `json:"nlu_result,omitempty"`
	LastNLUCall        *float64                           `json:"last_nlu_call,omitempty"`
	DigressionDepth    int                                `json:"digression_depth"`
	LastDigressionType string                             `json:"last_digression_type,omitempty"`
	TurnCount          int                                `json:"turn_count"`
	ValidationFailures int                                `json:"validation_failures"`
	Trace              []TraceEvent                       `json:"trace"`
	CommandLog         []CommandLogEntry                  `json:"command_log"`
	Metadata           Metadata                           `json:"metadata"`
}

// NewDialogueState returns a freshly initialized, invariant-satisfying
// DialogueState for a new session.
func NewDialogueState() *DialogueState {
	return &DialogueState{
		Messages:          make([]Message, 0),
		FlowStack:         make([]FlowContext, 0),
		FlowSlots:         make(map[string]map[string]interface{}),
		ConversationState: StateIdle,
		Trace:             make([]TraceEvent, 0),
		CommandLog:        make([]CommandLogEntry, 0),
	}
}

// nowUnix returns the current time as a float64 unix timestamp. It reads
// the wall clock directly; there is no injectable clock.
func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// generateFlowID allocates a globally-unique-per-session flow instance id
// shaped "<flow_name>_<short-rand>".
func generateFlowID(flowName string) string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%s_%s", flowName, hex.EncodeToString(b[:]))
}

// ActiveFlow returns the top of flow_stack, or nil if the stack is empty.
func (s *DialogueState) ActiveFlow() *FlowContext {
	if len(s.FlowStack) == 0 {
		return nil
	}
	return &s.FlowStack[len(s.FlowStack)-1]
}

// AppendMessage appends one turn of history.
func (s *DialogueState) AppendMessage(role, content string) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content, Timestamp: nowUnix()})
}

// AppendTrace appends one audit-trail entry.
func (s *DialogueState) AppendTrace(event string, data map[string]interface{}) {
	s.Trace = append(s.Trace, TraceEvent{Event: event, Data: data, Timestamp: nowUnix()})
}

// AppendTraceError appends the standard {event: error, kind, where} trace
// entry required by §7's propagation policy.
func (s *DialogueState) AppendTraceError(kind, where string) {
	s.AppendTrace("error", map[string]interface{}{"kind": kind, "where": where})
}

// AppendCommandLog appends one command-dispatch audit entry.
func (s *DialogueState) AppendCommandLog(commandType string, args map[string]interface{}, status string) {
	s.CommandLog = append(s.CommandLog, CommandLogEntry{
		CommandType:  commandType,
		Args:         args,
		ResultStatus: status,
		Timestamp:    nowUnix(),
	})
}

// PruneLimits holds the configured prune bounds from §6's
// memory_management section.
type PruneLimits struct {
	MaxHistoryMessages         int
	MaxTraceEvents             int
	MaxCommandLog              int
	ArchiveCompletedFlowsAfter int
	MaxQueuedMessages          int
}

// DefaultPruneLimits returns the §6 documented defaults.
func DefaultPruneLimits() PruneLimits {
	return PruneLimits{
		MaxHistoryMessages:         50,
		MaxTraceEvents:             100,
		MaxCommandLog:              100,
		ArchiveCompletedFlowsAfter: 10,
		MaxQueuedMessages:          5,
	}
}

// Prune trims messages, trace, command_log, metadata.completed_flows, and
// metadata.queued_messages to the configured maxima, keeping the most
// recent entries of each.
func (s *DialogueState) Prune(limits PruneLimits) {
	s.Messages = tailSlice(s.Messages, limits.MaxHistoryMessages)
	s.Trace = tailSlice(s.Trace, limits.MaxTraceEvents)
	s.CommandLog = tailSlice(s.CommandLog, limits.MaxCommandLog)
	s.Metadata.CompletedFlows = tailSlice(s.Metadata.CompletedFlows, limits.ArchiveCompletedFlowsAfter)
	s.Metadata.QueuedMessages = tailSlice(s.Metadata.QueuedMessages, limits.MaxQueuedMessages)
}

func tailSlice[T any](items []T, max int) []T {
	if max <= 0 || len(items) <= max {
		return items
	}
	out := make([]T, max)
	copy(out, items[len(items)-max:])
	return out
}

// CheckInvariants validates invariants 1, 2, 3, 5 and 6 from §3 and returns
// the first violation found, wrapped as *StateInvariantViolation, or nil.
// Invariant 4 (turn_count never decreases) is not checked here.
//
// Invariant 5 (state size) gets one retry: if the raw state exceeds
// budgetBytes, CheckInvariants prunes history/trace/command_log/archived
// flows down to limits and re-measures before giving up. Only a session
// still oversize after that prune pass raises the distinct *StateTooLarge
// error; everything else that trips invariant 5 alone is recoverable by
// pruning and never reaches the caller as an error at all.
func (s *DialogueState) CheckInvariants(maxStackDepth int, budgetBytes int, sessionID string, limits PruneLimits) error {
	activeCount := 0
	for i, fc := range s.FlowStack {
		if fc.FlowState == FlowActive {
			activeCount++
			if i != len(s.FlowStack)-1 {
				return &StateInvariantViolation{Invariant: "1", Detail: "ACTIVE flow is not the top of the stack"}
			}
		} else if fc.FlowState != FlowPaused {
			return &StateInvariantViolation{Invariant: "1", Detail: fmt.Sprintf("non-top flow %q has state %s, want PAUSED", fc.FlowID, fc.FlowState)}
		}
	}
	if len(s.FlowStack) > 0 && activeCount != 1 {
		return &StateInvariantViolation{Invariant: "1", Detail: fmt.Sprintf("expected exactly one ACTIVE flow, found %d", activeCount)}
	}
	if len(s.FlowStack) == 0 && s.ConversationState != StateIdle && s.ConversationState != StateCompleted {
		return &StateInvariantViolation{Invariant: "1", Detail: "empty flow_stack requires conversation_state IDLE or COMPLETED"}
	}

	known := make(map[string]bool, len(s.FlowStack)+len(s.Metadata.CompletedFlows))
	for _, fc := range s.FlowStack {
		known[fc.FlowID] = true
	}
	for _, fc := range s.Metadata.CompletedFlows {
		known[fc.FlowID] = true
	}
	for flowID := range s.FlowSlots {
		if !known[flowID] {
			return &StateInvariantViolation{Invariant: "2", Detail: fmt.Sprintf("flow_slots references unknown flow_id %q", flowID)}
		}
	}

	if s.WaitingForSlot != "" && s.ConversationState != StateWaitingForSlot {
		return &StateInvariantViolation{Invariant: "3", Detail: "waiting_for_slot set without conversation_state=WAITING_FOR_SLOT"}
	}

	if len(s.FlowStack) > maxStackDepth {
		return &StateInvariantViolation{Invariant: "6", Detail: fmt.Sprintf("flow_stack depth %d exceeds max %d", len(s.FlowStack), maxStackDepth)}
	}

	if budgetBytes > 0 {
		if sz := approximateSize(s); sz > budgetBytes {
			s.Prune(limits)
			if sz = approximateSize(s); sz > budgetBytes {
				return &StateTooLarge{SessionID: sessionID, SizeBytes: sz, BudgetBytes: budgetBytes}
			}
		}
	}

	return nil
}

// approximateSize estimates the serialized size of a DialogueState without
// requiring a canonical encoder at every call site. It is the only size
// check; checkpoint backends do not measure snapshot size on save.
func approximateSize(s *DialogueState) int {
	size := len(s.UserMessage) + len(s.LastResponse)
	for _, m := range s.Messages {
		size += len(m.Role) + len(m.Content) + 8
	}
	for flowID, slots := range s.FlowSlots {
		size += len(flowID)
		for k := range slots {
			size += len(k) + 32
		}
	}
	return size
}
