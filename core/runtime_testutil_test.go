package dialogrt

import "context"

// newTestRuntime builds a minimal, fully-wired Runtime for unit tests that
// exercise command handlers, patterns, and graph nodes without a real NLU
// integration. Callers register additional flows/actions/validators on the
// returned Runtime's registries before use.
func newTestRuntime(cfg *Config) *Runtime {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	actions := NewActionRegistry()
	flows := NewFlowRegistry()
	validators := NewValidatorRegistry()
	normalizers := NewNormalizerRegistry()
	handlers := NewHandlerRegistry()
	scope := NewScopeManager(flows, actions)

	return &Runtime{
		Config:      cfg,
		FlowManager: NewFlowManager(cfg),
		StepManager: NewFlowStepManager(),
		Scope:       scope,
		Flows:       flows,
		Actions:     actions,
		Validators:  validators,
		Normalizers: normalizers,
		Handlers:    handlers,
		Executor:    NewCommandExecutor(handlers),
		Templates:   NewTemplateEngine(),
		Logger:      NewLogger(),
		Ctx:         context.Background(),
	}
}

// pushTestFlow pushes fd onto state via rt.FlowManager and applies the
// resulting stack/slots directly (bypassing the command-executor layer),
// returning the new flow_id.
func pushTestFlow(rt *Runtime, state *DialogueState, fd *FlowDefinition, initialSlots map[string]interface{}) string {
	rt.Flows.Register(fd)
	res, err := rt.FlowManager.Push(state, fd.Name, initialSlots, "")
	if err != nil {
		panic(err)
	}
	state.FlowStack = res.Stack
	if res.InitialSlots != nil {
		state.FlowSlots[res.FlowID] = res.InitialSlots
	}
	return res.FlowID
}
