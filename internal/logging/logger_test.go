package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreLogger(t *testing.T) {
	t.Helper()
	original := defaultLogger
	t.Cleanup(func() {
		defaultLogger = original
		slog.SetDefault(original)
	})
}

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		name     string
		level    LogLevel
		expected slog.Level
	}{
		{name: "Debug level", level: LevelDebug, expected: slog.LevelDebug},
		{name: "Info level", level: LevelInfo, expected: slog.LevelInfo},
		{name: "Warn level", level: LevelWarn, expected: slog.LevelWarn},
		{name: "Error level", level: LevelError, expected: slog.LevelError},
		{name: "Upper case", level: LogLevel("WARN"), expected: slog.LevelWarn},
		{name: "Invalid level defaults to Info", level: LogLevel("invalid"), expected: slog.LevelInfo},
		{name: "Empty level defaults to Info", level: LogLevel(""), expected: slog.LevelInfo},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ParseLevel(tc.level))
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	restoreLogger(t)

	testCases := []struct {
		name      string
		level     LogLevel
		shouldLog map[string]bool
	}{
		{
			name:      "Debug logs everything",
			level:     LevelDebug,
			shouldLog: map[string]bool{"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true},
		},
		{
			name:      "Info hides debug",
			level:     LevelInfo,
			shouldLog: map[string]bool{"DEBUG": false, "INFO": true, "WARN": true, "ERROR": true},
		},
		{
			name:      "Error only",
			level:     LevelError,
			shouldLog: map[string]bool{"DEBUG": false, "INFO": false, "WARN": false, "ERROR": true},
		},
	}

	funcs := map[string]func(string, ...any){
		"DEBUG": Debug,
		"INFO":  Info,
		"WARN":  Warn,
		"ERROR": Error,
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			SetupLogger(&buf, tc.level)

			for name, logFunc := range funcs {
				buf.Reset()
				logFunc("test message for level", "key", "value")
				didLog := strings.Contains(buf.String(), "test message for level")
				assert.Equal(t, tc.shouldLog[name], didLog, "level %s with %s", name, tc.level)
				if didLog {
					assert.Contains(t, buf.String(), "key=value")
				}
			}
		})
	}
}

func TestSetupJSONFormat(t *testing.T) {
	restoreLogger(t)

	var buf bytes.Buffer
	Setup(&buf, LevelInfo, FormatJSON)
	Info("feature aggregated", "feature_id", 42)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "feature aggregated", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
	assert.EqualValues(t, 42, entry["feature_id"])
}

func TestOrDefault(t *testing.T) {
	assert.Same(t, GetLogger(), OrDefault(nil))

	custom := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, custom, OrDefault(custom))
}

func TestMaskSensitive(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "Empty string", input: "", expected: "<not set>"},
		{name: "Short string", input: "abc", expected: "<set>"},
		{name: "Exactly 4 characters", input: "abcd", expected: "<set>"},
		{name: "PAT-like string", input: "x7kq2mfp0a9sdl3", expected: "x7kq...***"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, MaskSensitive(tc.input))
		})
	}
}

func TestOpenDailyFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	f, err := OpenDailyFile(dir, "qadash", now)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	assert.Equal(t, filepath.Join(dir, "qadash-2024-03-01.log"), f.Name())
}

func TestTee(t *testing.T) {
	t.Run("No directory", func(t *testing.T) {
		var buf bytes.Buffer
		w, closeFn, err := Tee(&buf, "", "qadash")
		require.NoError(t, err)
		assert.Same(t, &buf, w)
		assert.NoError(t, closeFn())
	})

	t.Run("Writes to both", func(t *testing.T) {
		restoreLogger(t)
		dir := t.TempDir()
		var buf bytes.Buffer

		w, closeFn, err := Tee(&buf, dir, "qadash")
		require.NoError(t, err)
		SetupLogger(w, LevelInfo)
		Info("feature report complete", "feature_count", 3)
		require.NoError(t, closeFn())

		assert.Contains(t, buf.String(), "feature_count=3")
		matches, err := filepath.Glob(filepath.Join(dir, "qadash-*.log"))
		require.NoError(t, err)
		require.Len(t, matches, 1)
		content, err := os.ReadFile(matches[0])
		require.NoError(t, err)
		assert.Equal(t, buf.String(), string(content))
	})
}
