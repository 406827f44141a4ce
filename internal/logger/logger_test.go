package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New("loud", "json", "stdout")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestInit_WritesJSONToFile(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })

	path := filepath.Join(t.TempDir(), "chunks.log")
	require.NoError(t, Init("debug", "json", path))

	Info("qa cycle finished", zap.String("status", "success"))
	Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"message":"qa cycle finished"`)
	assert.Contains(t, string(raw), `"status":"success"`)
	assert.Same(t, Log, L())
}

func TestHelpersAreSafeBeforeInit(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })
	Log = zap.NewNop()

	assert.NotPanics(t, func() {
		Debug("debug")
		Warn("warn")
		Error("error")
	})
}
