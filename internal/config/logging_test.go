package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/hotvault/internal/config"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		expected config.LogLevel
	}{
		{"off lowercase", "off", config.LogLevelOff},
		{"off uppercase", "OFF", config.LogLevelOff},
		{"none", "none", config.LogLevelOff},
		{"error", "error", config.LogLevelError},
		{"info", "info", config.LogLevelInfo},
		{"debug", "debug", config.LogLevelDebug},
		{"with whitespace", "  debug  ", config.LogLevelDebug},
		{"invalid returns error", "invalid", config.LogLevelError},
		{"empty returns error", "", config.LogLevelError},
		{"unknown value", "warn", config.LogLevelError},
	}

	for _, tt := range tests {
		tt := tt // capture range variable
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, config.ParseLogLevel(tt.input))
		})
	}
}

func TestLogger_WritesAtOrBelowLevel(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "hotvault.log")

	logger, err := config.NewLogger(config.LogLevelInfo, path)
	require.NoError(t, err)

	logger.Error("error line %d", 1)
	logger.Info("info line")
	logger.Debug("debug line should be dropped")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path) // #nosec G304 -- test temp file
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "[ERROR] error line 1")
	assert.Contains(t, content, "[INFO] info line")
	assert.NotContains(t, content, "debug line")
}

func TestLogger_Writer(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "hotvault.log")

	logger, err := config.NewLogger(config.LogLevelDebug, path)
	require.NoError(t, err)

	w := logger.Writer(config.LogLevelDebug)
	_, err = w.Write([]byte("  writer message \n"))
	require.NoError(t, err)
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path) // #nosec G304 -- test temp file
	require.NoError(t, err)
	assert.Contains(t, string(data), "[DEBUG] writer message")
	assert.False(t, strings.Contains(string(data), "  writer message "))
}

func TestNullLogger(t *testing.T) {
	t.Parallel()
	logger := config.NullLogger()
	// Must not panic with no backing file.
	logger.Error("dropped")
	logger.Info("dropped")
	logger.Debug("dropped")
	assert.Equal(t, config.LogLevelOff, logger.Level())
	assert.NoError(t, logger.Close())
}

func TestLogger_SetLevel(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "hotvault.log")

	logger, err := config.NewLogger(config.LogLevelError, path)
	require.NoError(t, err)

	logger.SetLevel(config.LogLevelDebug)
	assert.Equal(t, config.LogLevelDebug, logger.Level())
	require.NoError(t, logger.Close())
}
