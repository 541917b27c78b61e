package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		jsonOutput bool
	}{
		{name: "JSON output mode", jsonOutput: true},
		{name: "Console output mode", jsonOutput: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Logger = nil
			JSONOutput = false

			require.NoError(t, Initialize(tt.jsonOutput))
			assert.NotNil(t, Logger)
			assert.Equal(t, tt.jsonOutput, JSONOutput)

			Logger = zap.NewNop().Sugar()
		})
	}
}

func TestInitializeWithFileSink(t *testing.T) {
	t.Cleanup(func() { Logger = zap.NewNop().Sugar() })

	path := filepath.Join(t.TempDir(), "logs", "lookout.log")
	require.NoError(t, InitializeWithOptions(Options{
		Level: zapcore.WarnLevel,
		File:  &FileOptions{Path: path},
	}))

	// Debug is below the console level but the file core records it
	Logger.Debugw("detector started", FieldRunID, "cats_2025-01-01T00-00-00")
	Cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "detector started")
	assert.Contains(t, string(data), "cats_2025-01-01T00-00-00")
}

func TestFieldsFromContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, FieldsFromContext(ctx))

	ctx = WithRunID(ctx, "run-1")
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithClientID(ctx, "10.0.0.1")

	fields := FieldsFromContext(ctx)
	assert.Equal(t, []interface{}{
		FieldRunID, "run-1",
		FieldRequestID, "req-1",
		FieldClientID, "10.0.0.1",
	}, fields)
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
}

func TestLoggerFromContext(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	Logger = zap.New(core).Sugar()
	t.Cleanup(func() { Logger = zap.NewNop().Sugar() })

	ctx := WithRunID(context.Background(), "run-42")
	LoggerFromContext(ctx).Infow("report written")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "report written", entry.Message)
	assert.Equal(t, "run-42", entry.ContextMap()[FieldRunID])
}

func TestComponentLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	Logger = zap.New(core).Sugar()
	t.Cleanup(func() { Logger = zap.NewNop().Sugar() })

	ComponentLogger("pipeline.executor").Infow("hello")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "pipeline.executor", logs.All()[0].LoggerName)
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(0))
	assert.Equal(t, zapcore.InfoLevel, VerbosityToLevel(1))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(2))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(7))
	assert.Equal(t, "Info (-v)", LevelName(1))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel(""))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("loud"))
}
