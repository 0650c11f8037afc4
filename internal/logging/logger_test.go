package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"estatedesk/internal/config"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "console.log")
	logger, closeFn, err := New(config.Log{Level: "info", Format: "json", File: path})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("record created", zap.String("kind", "plot"))
	closeFn()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `"msg":"record created"`)
	assert.Contains(t, out, `"kind":"plot"`)
	assert.Contains(t, out, `"service":"estatedesk"`)
	assert.False(t, strings.Contains(out, "hidden"))
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, _, err := New(config.Log{Level: "loud"})
	assert.Error(t, err)
}

func TestConsoleFormat(t *testing.T) {
	logger, closeFn, err := New(config.Log{Level: "debug", Format: "console"})
	require.NoError(t, err)
	defer closeFn()
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := zap.NewExample()
	assert.Same(t, l, OrNop(l))
}
