package dialogrt

import "context"

// NLUResult is the understanding layer's output for one message: a set of
// structured commands plus supporting metadata. It is opaque beyond the
// commands list from every component except the understand node and the
// fallback path in §7.
type NLUResult struct {
	Commands   []Command `json:"commands"`
	Entities   []Entity  `json:"entities,omitempty"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning,omitempty"`
}

// Entity is a named, typed span extracted by the understanding layer.
// Its interpretation is entirely owned by the NLU adapter and the actions
// that consume it; the runtime only threads it through.
type Entity struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// DialogueContext is the bundle of session-derived facts handed to the NLU
// adapter alongside the raw message, per §6's NLU adapter contract.
type DialogueContext struct {
	CurrentSlots    map[string]interface{} `json:"current_slots"`
	AvailableFlows  []string                `json:"available_flows"`
	CurrentFlow     string                  `json:"current_flow,omitempty"`
	WaitingForSlot  string                  `json:"waiting_for_slot,omitempty"`
	RecentCommands  []string                `json:"recent_commands,omitempty"`
}

// NLURequest is the full input to an NLU adapter invocation.
type NLURequest struct {
	UserMessage        string
	ConversationHistory []Message
	DialogueContext    DialogueContext
	Now                float64
}

// NLUAdapter is the only coupling to the understanding layer (§6). It is a
// black box: this runtime treats prediction, prompting, and any model
// client as out of scope (§1) and depends solely on this interface.
type NLUAdapter interface {
	// Understand returns commands, entities, and confidence for one
	// message. It must never return a nil *NLUResult on success, and must
	// handle an empty UserMessage.
	Understand(ctx context.Context, req NLURequest) (*NLUResult, error)
}

// CacheKeyFields is the subset of NLURequest from which adapter-level cache
// keys are built. Per the decided open question (DESIGN.md), Now is
// deliberately excluded so that identical conversational state produces a
// cache hit regardless of wall-clock time.
type CacheKeyFields struct {
	UserMessage    string
	CurrentFlow    string
	WaitingForSlot string
	CurrentSlots   string // canonical, pre-serialized by the caller
}

// BuildCacheKeyFields extracts the cacheable fields of an NLURequest,
// excluding Now and ConversationHistory (history participates in context
// but not cache identity, since trimming history for length must not
// invalidate an otherwise-identical cache entry).
func BuildCacheKeyFields(req NLURequest, serializedSlots string) CacheKeyFields {
	return CacheKeyFields{
		UserMessage:    req.UserMessage,
		CurrentFlow:    req.DialogueContext.CurrentFlow,
		WaitingForSlot: req.DialogueContext.WaitingForSlot,
		CurrentSlots:   serializedSlots,
	}
}
