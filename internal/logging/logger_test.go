package logging

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/assistd/internal/config"
)

func errorFileLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "errors.log")
	cfg := NewDefaultConfig()
	cfg.Output.Stream = ""
	cfg.Output.ErrorFile = path
	cfg.Sampling.Enabled = false
	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	return logger, path
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestErrorFile_OnlyErrors(t *testing.T) {
	logger, path := errorFileLogger(t)
	ctx := context.Background()

	logger.Info(ctx, "routine message")
	logger.Warn(ctx, "warning message")
	logger.Error(ctx, "planner failed", zap.String("detail", "bad json"))
	require.NoError(t, logger.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Equal(t, "planner failed", lines[0]["msg"])
	assert.Equal(t, "error", lines[0]["level"])
	assert.Equal(t, "bad json", lines[0]["detail"])
	assert.Equal(t, "assistd", lines[0]["service"])
}

func TestErrorFile_RedactsSecrets(t *testing.T) {
	logger, path := errorFileLogger(t)

	logger.Error(context.Background(), "gateway call failed",
		zap.String("api_key", "plain-value"),
		zap.String("detail", "Authorization: Bearer abc.def.ghi"),
		zap.String("note", "key sk-abcdefghijklmnopqrstuv leaked"),
		Secret("token", config.Secret("supersecret")),
	)
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.NotContains(t, content, "plain-value")
	assert.NotContains(t, content, "abc.def.ghi")
	assert.NotContains(t, content, "sk-abcdefghijklmnopqrstuv")
	assert.NotContains(t, content, "supersecret")
	assert.Contains(t, content, "[REDACTED]")
}

func TestErrorFile_IncludesContextFields(t *testing.T) {
	logger, path := errorFileLogger(t)

	ctx := WithRunID(context.Background(), "run-123")
	ctx = WithStage(ctx, "replanner")
	ctx = WithModelID(ctx, "gpt-4o-mini")
	logger.Error(ctx, "stage error")
	require.NoError(t, logger.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Equal(t, "run-123", lines[0]["run.id"])
	assert.Equal(t, "replanner", lines[0]["stage"])
	assert.Equal(t, "gpt-4o-mini", lines[0]["model.id"])
}

func TestLogger_TraceLevel(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()

	tl.Trace(ctx, "prompt sent", zap.String("prompt", "For the following plan"))
	tl.Debug(ctx, "debug message")

	tl.AssertLogged(t, TraceLevel, "prompt sent")
	tl.AssertLogged(t, zapcore.DebugLevel, "debug message")
	tl.AssertField(t, "prompt sent", "prompt", "For the following plan")
}

func TestLogger_TraceDisabledAtInfo(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.Stream = ""
	cfg.Output.ErrorFile = filepath.Join(t.TempDir(), "e.log")
	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	defer logger.Close()

	assert.False(t, logger.Enabled(TraceLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestLogger_WithAndNamed(t *testing.T) {
	tl := NewTestLogger()

	child := tl.With(zap.String("component", "driver")).Named("orchestrator")
	child.Info(context.Background(), "cycle complete")

	entries := tl.FilterMessage("cycle complete").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "orchestrator", entries[0].LoggerName)
	assert.Equal(t, "driver", entries[0].ContextMap()["component"])
}

func TestEncodeLevel_Trace(t *testing.T) {
	enc := zapcore.NewMapObjectEncoder()
	err := enc.AddArray("levels", zapcore.ArrayMarshalerFunc(func(arr zapcore.ArrayEncoder) error {
		encodeLevel(TraceLevel, arr)
		encodeLevel(zapcore.WarnLevel, arr)
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, []any{"trace", "warn"}, enc.Fields["levels"])
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"trace", TraceLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := LevelFromString(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAssertNoSecrets_CleanLogger(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "tool invoked", zap.String("tool", "get_weather"))
	tl.AssertNoSecrets(t)
}
