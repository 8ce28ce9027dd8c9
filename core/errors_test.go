package dialogrt

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessages(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"configuration", &ConfigurationError{Reference: "greet", Reason: "flow not registered"}, `configuration error: greet: flow not registered`},
		{"validation", &ValidationError{SlotName: "email", Reason: "not an email"}, `validation error: slot "email" rejected: not an email`},
		{"invariant", &StateInvariantViolation{Invariant: "I2", Detail: "two active flows"}, `state invariant violated (I2): two active flows`},
		{"stack_depth", &StackDepthExceeded{MaxDepth: 5, FlowName: "sub", Policy: OnLimitRejectNew}, `stack depth exceeded: pushing "sub" would exceed max depth 5 (policy reject_new)`},
		{"session_busy", &SessionBusy{SessionID: "s1"}, `session "s1" is busy processing another message`},
		{"state_too_large", &StateTooLarge{SessionID: "s1", SizeBytes: 2048, BudgetBytes: 1024}, `session "s1" state too large: 2048 bytes exceeds budget 1024 bytes`},
		{"no_active_flow", &NoActiveFlow{Operation: "validate_slot"}, `no active flow for operation "validate_slot"`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.err.Error())
		})
	}
}

func TestActionErrorKindString(t *testing.T) {
	assert.Equal(t, "NotFound", ActionErrorNotFound.String())
	assert.Equal(t, "Timeout", ActionErrorTimeout.String())
	assert.Equal(t, "Unknown", ActionErrorKind(99).String())
}

func TestActionErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &ActionError{ActionName: "call_crm", Kind: ActionErrorInternal, Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "call_crm")
	assert.Contains(t, err.Error(), "Internal")
}

func TestNLUAdapterErrorUnwrap(t *testing.T) {
	inner := errors.New("timeout")
	err := &NLUAdapterError{Err: inner}
	assert.ErrorIs(t, err, inner)
}

func TestAsClassifiesWrappedErrors(t *testing.T) {
	var actionErr *ActionError
	wrapped := fmt.Errorf("wrapping: %w", &ActionError{ActionName: "x", Kind: ActionErrorBadInputs})
	assert.True(t, As(wrapped, &actionErr))
	assert.Equal(t, ActionErrorBadInputs, actionErr.Kind)

	var confErr *ConfigurationError
	assert.False(t, As(wrapped, &confErr))
}
