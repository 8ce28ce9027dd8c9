package dialogrt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScope(t *testing.T) *ScopeManager {
	t.Helper()
	flows := NewFlowRegistry()
	flows.Register(buildTestFlow(t))
	other, err := NewFlowDefinition("book_flight").
		Step(StepDefinition{ID: "s1", Kind: StepSay, Text: "booking"}).
		Build()
	require.NoError(t, err)
	flows.Register(other)

	actions := NewActionRegistry()
	actions.Register("book_flight_api", func(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
		return nil, nil
	})
	actions.Register("cancel_flight_api", func(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
		return nil, nil
	})
	return NewScopeManager(flows, actions)
}

func TestEligibleFlowsExcludesPaused(t *testing.T) {
	sm := newTestScope(t)
	state := NewDialogueState()
	state.FlowStack = []FlowContext{{FlowID: "greet_user_1", FlowName: "greet_user", FlowState: FlowPaused}}

	eligible := sm.EligibleFlows(state)
	assert.NotContains(t, eligible, "greet_user")
	assert.Contains(t, eligible, "book_flight")
}

func TestEligibleActionsPatternMatch(t *testing.T) {
	sm := newTestScope(t)
	assert.ElementsMatch(t, []string{"book_flight_api", "cancel_flight_api"}, sm.EligibleActions(""))
	assert.Equal(t, []string{"book_flight_api"}, sm.EligibleActions("book_*"))
}

func TestIsFlowRegisteredAndLookup(t *testing.T) {
	sm := newTestScope(t)
	assert.True(t, sm.IsFlowRegistered("greet_user"))
	assert.False(t, sm.IsFlowRegistered("unknown"))

	fd, ok := sm.LookupFlow("greet_user")
	require.True(t, ok)
	assert.Equal(t, "greet_user", fd.Name)
}
