package dialogrt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinNormalizers(t *testing.T) {
	r := NewNormalizerRegistry()

	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"lower", "HELLO", "hello"},
		{"upper", "hello", "HELLO"},
		{"title", "hello world", "Hello World"},
		{"trim", "  hi  ", "hi"},
		{"strip_diacritics", "Über", "uber"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			fn, ok := r.Lookup(c.name)
			require.True(t, ok)
			got, err := fn(c.input)
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestNormalizerRejectsNonString(t *testing.T) {
	r := NewNormalizerRegistry()
	fn, _ := r.Lookup("lower")
	_, err := fn(42)
	require.Error(t, err)
	var verr *ValidationError
	assert.True(t, As(err, &verr))
}
