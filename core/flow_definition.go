package dialogrt

import (
	"fmt"
	"time"
)

// StepKind enumerates the five declarative step shapes from §6's flow
// definition grammar.
type StepKind string

const (
	StepCollect StepKind = "collect"
	StepAction  StepKind = "action"
	StepBranch  StepKind = "branch"
	StepSay     StepKind = "say"
	StepConfirm StepKind = "confirm"
)

// BranchCase is one `when → next` arm of a branch step.
type BranchCase struct {
	When Predicate
	Next string
}

// StepDefinition declares one step of a flow, per the grammar in §6.
type StepDefinition struct {
	ID   string
	Kind StepKind

	// collect
	Slot     string
	Optional bool

	// action
	Call    string
	Inputs  map[string]string // slot -> action input arg name
	Outputs map[string]string // action result key -> slot|output name

	// branch
	Cases   []BranchCase
	Default string

	// say
	Text string

	// confirm
	Summary string
}

// SlotDefinition declares one slot a flow collects, per §6.
type SlotDefinition struct {
	Name      string
	Type      string
	Validator string
	Normalizer string
	Prompt    string
}

// FlowTriggers declares the intents/keywords ScopeManager uses to decide
// eligibility for spontaneous activation (§4, ScopeManager row).
type FlowTriggers struct {
	Intents  []string
	Keywords []string
}

// FlowMetadata carries the per-flow pause/resume policy from §6.
type FlowMetadata struct {
	CanBePaused      bool
	CanBeResumed     bool
	MaxPauseDuration time.Duration
}

// FlowDefinition is the compiled, immutable description of a flow: its
// slots, its ordered steps, and its triggers/metadata. Flow definitions are
// registered once at startup and are read-only thereafter (§3, Ownership).
type FlowDefinition struct {
	Name        string
	Description string
	Triggers    FlowTriggers
	Metadata    FlowMetadata
	Slots       map[string]SlotDefinition
	Steps       map[string]*StepDefinition
	Order       []string // total order of step ids, per §4.2 tie-breaks
}

// StepIndex returns the position of stepID in Order, or -1 if absent.
func (fd *FlowDefinition) StepIndex(stepID string) int {
	for i, id := range fd.Order {
		if id == stepID {
			return i
		}
	}
	return -1
}

// NextStepID returns the step following stepID in declaration order, or ""
// if stepID is the last step (flow exhaustion).
func (fd *FlowDefinition) NextStepID(stepID string) string {
	idx := fd.StepIndex(stepID)
	if idx == -1 || idx+1 >= len(fd.Order) {
		return ""
	}
	return fd.Order[idx+1]
}

// FlowBuilder is a fluent constructor for FlowDefinition, producing the
// declarative step/slot grammar of §6.
type FlowBuilder struct {
	name        string
	description string
	triggers    FlowTriggers
	metadata    FlowMetadata
	slots       map[string]SlotDefinition
	steps       map[string]*StepDefinition
	order       []string
}

// NewFlowDefinition starts a FlowBuilder for a flow named name. Flows
// default to can_be_paused=true, can_be_resumed=true, max_pause_duration
// 3600s, matching the §6 defaults.
func NewFlowDefinition(name string) *FlowBuilder {
	return &FlowBuilder{
		name:  name,
		slots: make(map[string]SlotDefinition),
		steps: make(map[string]*StepDefinition),
		order: make([]string, 0),
		metadata: FlowMetadata{
			CanBePaused:      true,
			CanBeResumed:     true,
			MaxPauseDuration: time.Hour,
		},
	}
}

// Description sets the human-readable flow description.
func (fb *FlowBuilder) Description(d string) *FlowBuilder {
	fb.description = d
	return fb
}

// Triggers sets the intent/keyword eligibility hints consumed by
// ScopeManager.
func (fb *FlowBuilder) Triggers(intents, keywords []string) *FlowBuilder {
	fb.triggers = FlowTriggers{Intents: intents, Keywords: keywords}
	return fb
}

// MaxPauseDuration overrides the default pause-expiry duration for this
// flow.
func (fb *FlowBuilder) MaxPauseDuration(d time.Duration) *FlowBuilder {
	fb.metadata.MaxPauseDuration = d
	return fb
}

// CanBePaused / CanBeResumed override the default pause policy.
func (fb *FlowBuilder) CanBePaused(v bool) *FlowBuilder  { fb.metadata.CanBePaused = v; return fb }
func (fb *FlowBuilder) CanBeResumed(v bool) *FlowBuilder { fb.metadata.CanBeResumed = v; return fb }

// Slot declares one slot this flow collects.
func (fb *FlowBuilder) Slot(def SlotDefinition) *FlowBuilder {
	fb.slots[def.Name] = def
	return fb
}

// Step appends a step to the flow's total order. Step ids must be unique
// within a flow; a duplicate id panics at build time rather than silently
// shadowing.
func (fb *FlowBuilder) Step(step StepDefinition) *FlowBuilder {
	if _, exists := fb.steps[step.ID]; exists {
		panic(fmt.Sprintf("step %q already exists in flow %q", step.ID, fb.name))
	}
	s := step
	fb.steps[step.ID] = &s
	fb.order = append(fb.order, step.ID)
	return fb
}

// Build validates and constructs the final FlowDefinition.
func (fb *FlowBuilder) Build() (*FlowDefinition, error) {
	if len(fb.steps) == 0 {
		return nil, &ConfigurationError{Reference: fb.name, Reason: "flow must have at least one step"}
	}
	for id, step := range fb.steps {
		switch step.Kind {
		case StepCollect:
			if step.Slot == "" {
				return nil, &ConfigurationError{Reference: id, Reason: "collect step missing slot"}
			}
			if _, ok := fb.slots[step.Slot]; !ok {
				return nil, &ConfigurationError{Reference: id, Reason: fmt.Sprintf("collect step references undeclared slot %q", step.Slot)}
			}
		case StepAction:
			if step.Call == "" {
				return nil, &ConfigurationError{Reference: id, Reason: "action step missing call"}
			}
		case StepBranch:
			if step.Default == "" && len(step.Cases) == 0 {
				return nil, &ConfigurationError{Reference: id, Reason: "branch step has no cases and no default"}
			}
		case StepSay:
			if step.Text == "" {
				return nil, &ConfigurationError{Reference: id, Reason: "say step missing text"}
			}
		case StepConfirm:
			// summary is optional free text, nothing to validate.
		default:
			return nil, &ConfigurationError{Reference: id, Reason: fmt.Sprintf("unknown step kind %q", step.Kind)}
		}
	}

	return &FlowDefinition{
		Name:        fb.name,
		Description: fb.description,
		Triggers:    fb.triggers,
		Metadata:    fb.metadata,
		Slots:       fb.slots,
		Steps:       fb.steps,
		Order:       fb.order,
	}, nil
}
