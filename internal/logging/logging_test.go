package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestResolveLevel(t *testing.T) {
	tests := []struct {
		verbose bool
		level   string
		want    zapcore.Level
		wantErr bool
	}{
		{false, "", zapcore.InfoLevel, false},
		{false, "WARN", zapcore.WarnLevel, false},
		{true, "error", zapcore.DebugLevel, false},
		{false, "chatty", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ResolveLevel(tt.verbose, tt.level)
		if tt.wantErr {
			assert.Error(t, err, tt.level)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.level)
	}
}

func TestNewWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Level: "info", Output: &buf})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("probe", zap.String("handle", "abc"))
	require.NoError(t, log.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "probe", entry["msg"])
	assert.Equal(t, "abc", entry["handle"])
}

func TestNewConsoleVerbose(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Verbose: true, Console: true, Output: &buf})
	require.NoError(t, err)
	log.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}
