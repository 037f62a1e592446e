package logger_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"contribline/internal/logger"
)

func TestParseLevel(t *testing.T) {
	lvl, err := logger.ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	lvl, err = logger.ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl)

	_, err = logger.ParseLevel("loud")
	assert.Error(t, err)
}

func TestFileOutputIsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contribline.log")
	log, err := logger.New(logger.Options{Level: "info", File: path})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("task assigned", zap.String("task", "github:john/test#1"))
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "task assigned", entry["msg"])
	assert.Equal(t, "github:john/test#1", entry["task"])
	assert.Contains(t, entry, "ts")
}
