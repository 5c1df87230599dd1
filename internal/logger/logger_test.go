package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestFileOutputFollowsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "snapkeep.log")
	l, err := New(Options{Level: "warn", File: path, Quiet: true})
	require.NoError(t, err)

	l.Info("dropped")
	l.Warn("kept")
	require.NoError(t, l.SetLevel("debug"))
	assert.Equal(t, zapcore.DebugLevel, l.Level())
	l.Debug("now visible")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "kept", first["msg"])
	assert.Equal(t, "WARN", first["level"])
	assert.Contains(t, lines[1], "now visible")
}

func TestInvalidLevel(t *testing.T) {
	_, err := New(Options{Level: "loud", Quiet: true})
	assert.Error(t, err)

	l, err := New(Options{Quiet: true})
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, l.Level())
	assert.Error(t, l.SetLevel("loud"))
}
