package dialogrt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildCacheKeyFieldsExcludesNowAndHistory(t *testing.T) {
	req := NLURequest{
		UserMessage: "hi",
		ConversationHistory: []Message{{Role: "user", Content: "earlier"}},
		DialogueContext: DialogueContext{
			CurrentFlow:    "greet_user",
			WaitingForSlot: "name",
		},
		Now: 12345,
	}

	got := BuildCacheKeyFields(req, `{"name":null}`)
	want := CacheKeyFields{
		UserMessage:    "hi",
		CurrentFlow:    "greet_user",
		WaitingForSlot: "name",
		CurrentSlots:   `{"name":null}`,
	}
	assert.Equal(t, want, got)
}

func TestBuildCacheKeyFieldsStableAcrossNow(t *testing.T) {
	base := NLURequest{UserMessage: "hi", DialogueContext: DialogueContext{CurrentFlow: "f"}}
	a := BuildCacheKeyFields(base, "{}")
	base.Now = 999
	b := BuildCacheKeyFields(base, "{}")
	assert.Equal(t, a, b)
}
