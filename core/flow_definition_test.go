package dialogrt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestFlow(t *testing.T) *FlowDefinition {
	t.Helper()
	fd, err := NewFlowDefinition("greet_user").
		Description("collect name and greet").
		Slot(SlotDefinition{Name: "name", Type: "string", Prompt: "What's your name?"}).
		Step(StepDefinition{ID: "collect_name", Kind: StepCollect, Slot: "name"}).
		Step(StepDefinition{ID: "greet", Kind: StepSay, Text: "Hi {{.name}}!"}).
		Build()
	require.NoError(t, err)
	return fd
}

func TestFlowDefinitionOrderingHelpers(t *testing.T) {
	fd := buildTestFlow(t)
	assert.Equal(t, 0, fd.StepIndex("collect_name"))
	assert.Equal(t, 1, fd.StepIndex("greet"))
	assert.Equal(t, -1, fd.StepIndex("missing"))

	assert.Equal(t, "greet", fd.NextStepID("collect_name"))
	assert.Equal(t, "", fd.NextStepID("greet"))
	assert.Equal(t, "", fd.NextStepID("missing"))
}

func TestFlowBuilderDuplicateStepPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewFlowDefinition("dup").
			Step(StepDefinition{ID: "s1", Kind: StepSay, Text: "a"}).
			Step(StepDefinition{ID: "s1", Kind: StepSay, Text: "b"})
	})
}

func TestFlowBuilderRequiresAtLeastOneStep(t *testing.T) {
	_, err := NewFlowDefinition("empty").Build()
	require.Error(t, err)
	var confErr *ConfigurationError
	assert.True(t, As(err, &confErr))
}

func TestFlowBuilderValidatesCollectStepSlot(t *testing.T) {
	_, err := NewFlowDefinition("bad").
		Step(StepDefinition{ID: "c1", Kind: StepCollect, Slot: "undeclared"}).
		Build()
	require.Error(t, err)
}

func TestFlowBuilderValidatesActionStepCall(t *testing.T) {
	_, err := NewFlowDefinition("bad").
		Step(StepDefinition{ID: "a1", Kind: StepAction}).
		Build()
	require.Error(t, err)
}

func TestFlowBuilderValidatesBranchStepHasCaseOrDefault(t *testing.T) {
	_, err := NewFlowDefinition("bad").
		Step(StepDefinition{ID: "b1", Kind: StepBranch}).
		Build()
	require.Error(t, err)
}

func TestFlowBuilderValidatesSayStepText(t *testing.T) {
	_, err := NewFlowDefinition("bad").
		Step(StepDefinition{ID: "s1", Kind: StepSay}).
		Build()
	require.Error(t, err)
}

func TestFlowBuilderDefaultsPausePolicy(t *testing.T) {
	fd := buildTestFlow(t)
	assert.True(t, fd.Metadata.CanBePaused)
	assert.True(t, fd.Metadata.CanBeResumed)
}

func TestFlowBuilderOverridesPausePolicy(t *testing.T) {
	fd, err := NewFlowDefinition("no_pause").
		CanBePaused(false).
		CanBeResumed(false).
		Step(StepDefinition{ID: "s1", Kind: StepSay, Text: "hi"}).
		Build()
	require.NoError(t, err)
	assert.False(t, fd.Metadata.CanBePaused)
	assert.False(t, fd.Metadata.CanBeResumed)
}
