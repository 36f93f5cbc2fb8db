package debug

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoTrace(t *testing.T) {
	h := new(HandlerT)
	file := filepath.Join(t.TempDir(), "trace.out")

	require.NoError(t, h.StartGoTrace(file))
	assert.Error(t, h.StartGoTrace(file), "second trace must be rejected")
	require.NoError(t, h.StopGoTrace())
	assert.Error(t, h.StopGoTrace())

	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/sim")
	assert.Equal(t, "/home/sim/trace.out", expandHome("~/trace.out"))
	assert.Equal(t, "/tmp/trace.out", expandHome("/tmp//trace.out"))
	assert.Equal(t, "~other/trace.out", expandHome("~other/trace.out"))
}
