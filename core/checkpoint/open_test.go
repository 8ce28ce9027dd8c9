package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenEmptyURLReturnsMemoryCheckpointer(t *testing.T) {
	cp, err := Open("")
	require.NoError(t, err)
	assert.IsType(t, &MemoryCheckpointer{}, cp)
}

func TestOpenMemorySchemeReturnsMemoryCheckpointer(t *testing.T) {
	cp, err := Open("memory://")
	require.NoError(t, err)
	assert.IsType(t, &MemoryCheckpointer{}, cp)
}

func TestOpenBoltSchemeReturnsBoltCheckpointer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ckpt.bolt")
	cp, err := Open("bolt://" + path)
	require.NoError(t, err)
	defer cp.(*BoltCheckpointer).Close()
	assert.IsType(t, &BoltCheckpointer{}, cp)
}

func TestOpenRedisSchemeReturnsRedisCheckpointer(t *testing.T) {
	cp, err := Open("redis://localhost:6379/0")
	require.NoError(t, err)
	assert.IsType(t, &RedisCheckpointer{}, cp)
}

func TestOpenInvalidRedisURLErrors(t *testing.T) {
	_, err := Open("redis://%zz")
	assert.Error(t, err)
}

func TestOpenUnsupportedSchemeErrors(t *testing.T) {
	_, err := Open("sqlite://foo.db")
	assert.Error(t, err)
}
