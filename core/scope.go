package dialogrt

// ScopeManager answers "which flows/actions are currently eligible" for a
// given state (§2). It is a read-only snapshot view over the FlowRegistry
// and ActionRegistry, the same read-only-after-init shape the other
// registries have (§3, Ownership), reusing the pattern-matching lookup
// idiom from ActionRegistry (§11.7) rather than a new kind of lookup
// structure.
type ScopeManager struct {
	flows   *FlowRegistry
	actions *ActionRegistry
}

// NewScopeManager builds a ScopeManager over the given flow and action
// registries.
func NewScopeManager(flows *FlowRegistry, actions *ActionRegistry) *ScopeManager {
	return &ScopeManager{flows: flows, actions: actions}
}

// EligibleFlows returns the names of flows that may be started given the
// current state: every registered flow, minus any present as PAUSED on
// the flow_stack, since a flow instance is keyed by
// flow_id and the same flow_name may legitimately be pushed again, but
// ScopeManager's default policy (consumed by the understand node to build
// DialogueContext.AvailableFlows) excludes flows already paused awaiting
// their own resumption to steer the NLU adapter away from suggesting a
// duplicate push.
func (sm *ScopeManager) EligibleFlows(state *DialogueState) []string {
	active := make(map[string]bool, len(state.FlowStack))
	for _, fc := range state.FlowStack {
		if fc.FlowState == FlowPaused {
			active[fc.FlowName] = true
		}
	}
	names := sm.flows.Names()
	out := make([]string, 0, len(names))
	for _, name := range names {
		if !active[name] {
			out = append(out, name)
		}
	}
	return out
}

// EligibleActions returns the names of actions whose name matches pattern
// (supporting the "*" prefix wildcard of MatchPattern); an
// empty pattern returns every registered action.
func (sm *ScopeManager) EligibleActions(pattern string) []string {
	names := sm.actions.Names()
	if pattern == "" {
		return names
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if MatchPattern(pattern, name) {
			out = append(out, name)
		}
	}
	return out
}

// IsFlowRegistered reports whether flowName has a registered definition.
func (sm *ScopeManager) IsFlowRegistered(flowName string) bool {
	_, ok := sm.flows.Lookup(flowName)
	return ok
}

// LookupFlow returns the registered definition for flowName.
func (sm *ScopeManager) LookupFlow(flowName string) (*FlowDefinition, bool) {
	return sm.flows.Lookup(flowName)
}
