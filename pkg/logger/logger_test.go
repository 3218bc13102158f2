package logger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestDefaultLoggerIsUsable(t *testing.T) {
	// Must not panic before Init
	Info("before init")
	FromContext(context.Background()).Warn("still fine")
}

func TestFromContext_RequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	prev := Log
	Log = zap.New(core)
	defer func() { Log = prev }()

	ctx := WithRequestID(context.Background(), "req-123")
	FromContext(ctx).Info("hello")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "req-123", logs.All()[0].ContextMap()["request_id"])
}

func TestRequestIDFromContext(t *testing.T) {
	_, ok := RequestIDFromContext(context.Background())
	assert.False(t, ok)

	_, ok = RequestIDFromContext(WithRequestID(context.Background(), ""))
	assert.False(t, ok)

	id, ok := RequestIDFromContext(WithRequestID(context.Background(), "abc"))
	assert.True(t, ok)
	assert.Equal(t, "abc", id)
}

func TestCallFields(t *testing.T) {
	callID, caller, receiver := uuid.New(), uuid.New(), uuid.New()
	fields := CallFields(callID, caller, receiver)

	require.Len(t, fields, 3)
	assert.Equal(t, "call_id", fields[0].Key)
	assert.Equal(t, "receiver_id", fields[2].Key)
}

func TestInit_Console(t *testing.T) {
	prev := Log
	defer func() { Log = prev }()

	require.NoError(t, Init(&Config{Level: "debug", Format: "console", Output: "stdout"}))
	assert.True(t, Log.Core().Enabled(zap.DebugLevel))
}
