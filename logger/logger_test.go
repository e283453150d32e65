package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLogLevel(t *testing.T) {
	tests := []struct {
		in   LogLevel
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.DebugLevel},
		{"verbose", zapcore.DebugLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.zapLevel(), string(tt.in))
	}
}

func TestNewWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Level: InfoLevel, Console: &buf})
	require.NoError(t, err)

	log.Named("onboarding").Info("stage done", TrackID("t1"), Int("presets", 2), ErrorField(errors.New("boom")))
	log.Debug("filtered")
	require.NoError(t, log.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "onboarding", entry["logger"])
	assert.Equal(t, "stage done", entry["msg"])
	assert.Equal(t, "t1", entry["trackId"])
	assert.EqualValues(t, 2, entry["presets"])
	assert.Equal(t, "boom", entry["error"])
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ingest.log")
	log, err := New(Config{Level: WarnLevel, Console: &bytes.Buffer{}, OutputPath: path, MaxSize: 1})
	require.NoError(t, err)

	log.Warn("disk slow", String("path", "/stage"))
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"disk slow"`)
}

func TestLBeforeInitIsNop(t *testing.T) {
	if globalLogger != nil {
		t.Skip("global logger already initialised")
	}
	assert.NotNil(t, L())
	assert.NotPanics(t, func() {
		Named("x").Info("ignored")
		Info("ignored")
		Sync()
	})
}
