package main

import (
	"context"
	"strings"

	dialogrt "github.com/kslamph/dialogrt/core"
)

// echoAdapter is a minimal, deterministic stand-in for the NLU adapter the
// real understanding layer provides (§1: prediction/prompting is out of
// scope for this module). It exists only so `dialogrt run` has something to
// drive interactively; production deployments inject their own
// dialogrt.NLUAdapter.
type echoAdapter struct{}

func (echoAdapter) Understand(ctx context.Context, req dialogrt.NLURequest) (*dialogrt.NLUResult, error) {
	text := strings.TrimSpace(req.UserMessage)

	switch {
	case req.DialogueContext.WaitingForSlot != "":
		return &dialogrt.NLUResult{
			Commands:   []dialogrt.Command{dialogrt.SetSlot{SlotName: req.DialogueContext.WaitingForSlot, Value: text, Confidence: 1}},
			Confidence: 1,
			Reasoning:  "echo_adapter_slot_fill",
		}, nil
	case strings.HasPrefix(text, "start "):
		flowName := strings.TrimSpace(strings.TrimPrefix(text, "start "))
		return &dialogrt.NLUResult{
			Commands:   []dialogrt.Command{dialogrt.StartFlow{FlowName: flowName}},
			Confidence: 1,
			Reasoning:  "echo_adapter_start_flow",
		}, nil
	case text == "cancel":
		return &dialogrt.NLUResult{
			Commands:   []dialogrt.Command{dialogrt.CancelFlow{Reason: "user_requested"}},
			Confidence: 1,
			Reasoning:  "echo_adapter_cancel",
		}, nil
	default:
		return &dialogrt.NLUResult{
			Commands:   []dialogrt.Command{dialogrt.ChitChat{Hint: text}},
			Confidence: 0.5,
			Reasoning:  "echo_adapter_default",
		}, nil
	}
}

// newDemoRuntime wires a Runtime with one illustrative flow ("greet_user")
// and the echo adapter above, giving `dialogrt run` something to exercise
// end-to-end without a real understanding-layer integration.
func newDemoRuntime(cfg *dialogrt.Config) *dialogrt.Runtime {
	actions := dialogrt.NewActionRegistry()
	actions.Register("build_greeting", func(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
		name, _ := inputs["name"].(string)
		return map[string]interface{}{"response": "Nice to meet you, " + name + "!"}, nil
	})
	actions.Register("handoff_to_agent", func(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{}, nil
	})

	flows := dialogrt.NewFlowRegistry()
	greet, err := dialogrt.NewFlowDefinition("greet_user").
		Description("collect the user's name and greet them").
		Slot(dialogrt.SlotDefinition{Name: "name", Type: "string", Prompt: "What's your name?"}).
		Step(dialogrt.StepDefinition{ID: "collect_name", Kind: dialogrt.StepCollect, Slot: "name"}).
		Step(dialogrt.StepDefinition{
			ID:      "greet",
			Kind:    dialogrt.StepAction,
			Call:    "build_greeting",
			Inputs:  map[string]string{"name": "name"},
			Outputs: map[string]string{"response": "response"},
		}).
		Build()
	if err != nil {
		panic(err)
	}
	flows.Register(greet)

	scope := dialogrt.NewScopeManager(flows, actions)
	validators := dialogrt.NewValidatorRegistry()
	normalizers := dialogrt.NewNormalizerRegistry()
	handlers := dialogrt.NewHandlerRegistry()

	return &dialogrt.Runtime{
		Config:      cfg,
		FlowManager: dialogrt.NewFlowManager(cfg),
		StepManager: dialogrt.NewFlowStepManager(),
		Scope:       scope,
		Flows:       flows,
		Actions:     actions,
		Validators:  validators,
		Normalizers: normalizers,
		Handlers:    handlers,
		Executor:    dialogrt.NewCommandExecutor(handlers),
		NLU:         echoAdapter{},
		Templates:   dialogrt.NewTemplateEngine(),
		Logger:      dialogrt.NewLogger(),
		Ctx:         context.Background(),
	}
}
