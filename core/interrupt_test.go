package dialogrt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterruptFirstPassSuspends(t *testing.T) {
	value, ok := interrupt(resumeSignal{}, "What's your name?")
	assert.False(t, ok)
	assert.Equal(t, "", value)
}

func TestInterruptResumePassReturnsValue(t *testing.T) {
	value, ok := interrupt(resumeSignal{HasValue: true, Value: "Ada"}, "What's your name?")
	assert.True(t, ok)
	assert.Equal(t, "Ada", value)
}
