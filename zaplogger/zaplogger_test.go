package zaplogger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerForwardsKeyValuePairs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	l.Info("model ready", "model", "contact", "sequenceId", "42")

	entries := logs.All()
	assert.Len(t, entries, 1)
	assert.Equal(t, "model ready", entries[0].Message)
	assert.Equal(t, "contact", entries[0].ContextMap()["model"])
	assert.Equal(t, "42", entries[0].ContextMap()["sequenceId"])
}

func TestNewAdaptsNilLogger(t *testing.T) {
	l := New(nil)
	assert.NotPanics(t, func() { l.Info("noop") })
}
