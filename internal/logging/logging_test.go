package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}

func TestSetup_WritesJSONFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "run.log")

	logger, cleanup, err := Setup(Config{Level: "debug", FilePath: logPath, ForceJSON: true})
	require.NoError(t, err)

	logger.Info("pipeline started", "run_id", "abc123")
	cleanup()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"pipeline started"`)
	assert.Contains(t, string(data), `"run_id":"abc123"`)
}

func TestSetup_LevelFiltersRecords(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "run.log")

	logger, cleanup, err := Setup(Config{Level: "warn", FilePath: logPath, ForceJSON: true})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Warn("visible")
	cleanup()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.True(t, strings.Contains(string(data), "visible"))
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	require.NotNil(t, logger)
	logger.Info("goes nowhere")
}
