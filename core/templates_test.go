package dialogrt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateEngineRenderBasic(t *testing.T) {
	te := NewTemplateEngine()
	out, err := te.Render("greet", "Hi {{.name}}!", map[string]interface{}{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada!", out)
}

func TestTemplateEngineRenderUsesCaseFuncs(t *testing.T) {
	te := NewTemplateEngine()
	out, err := te.Render("shout", "{{upper .name}}", map[string]interface{}{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, "ADA", out)
}

func TestTemplateEngineRenderParseError(t *testing.T) {
	te := NewTemplateEngine()
	_, err := te.Render("bad", "{{.unterminated", nil)
	require.Error(t, err)
}

func TestRenderSayStepUsesActiveFlowSlots(t *testing.T) {
	te := NewTemplateEngine()
	state := NewDialogueState()
	state.FlowStack = []FlowContext{{FlowID: "greet_user_1", FlowName: "greet_user", FlowState: FlowActive}}
	state.FlowSlots["greet_user_1"] = map[string]interface{}{"name": "Ada"}

	step := &StepDefinition{ID: "greet", Kind: StepSay, Text: "Hi {{.name}}!"}
	out, err := te.RenderSayStep(step, state)
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada!", out)
}

func TestRenderSayStepWithNoActiveFlow(t *testing.T) {
	te := NewTemplateEngine()
	state := NewDialogueState()
	step := &StepDefinition{ID: "greet", Kind: StepSay, Text: "Hello there!"}
	out, err := te.RenderSayStep(step, state)
	require.NoError(t, err)
	assert.Equal(t, "Hello there!", out)
}
