package logger

import (
	"context"
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
		verbosity  int
	}{
		{name: "JSON output mode", jsonOutput: true, verbosity: 1},
		{name: "Console output mode", jsonOutput: false, verbosity: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Logger = nil
			JSONOutput = false

			require.NoError(t, Initialize(tt.jsonOutput, tt.verbosity))
			require.NotNil(t, Logger)
			assert.Equal(t, tt.jsonOutput, JSONOutput)
			assert.True(t, Logger.Desugar().Core().Enabled(VerbosityToLevel(tt.verbosity)))

			Logger = zap.NewNop().Sugar()
		})
	}
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(0))
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(-1))
	assert.Equal(t, zapcore.InfoLevel, VerbosityToLevel(1))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(2))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(7))
}

func TestServiceVerbosity(t *testing.T) {
	assert.Equal(t, VerbosityInfo, ServiceVerbosity(0))
	assert.Equal(t, VerbosityDebug, ServiceVerbosity(2))
}

func TestFromContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core).Sugar()

	ctx := WithRequestID(WithKey(context.Background(), "abc123"), "req-1")
	FromContext(ctx, base).Infow("submitted")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "abc123", fields[FieldKey])
	assert.Equal(t, "req-1", fields[FieldRequestID])

	assert.Same(t, base, FromContext(context.Background(), base))

	id, ok := RequestIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", id)
	_, ok = RequestIDFromContext(WithRequestID(context.Background(), ""))
	assert.False(t, ok)
}

func TestAddSymbol(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	AddJanitorSymbol(zap.New(core).Sugar()).Infow("Sweep complete")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "⌫", logs.All()[0].ContextMap()[FieldSymbol])
}
