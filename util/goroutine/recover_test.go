package goroutine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecover_NoPanic(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	func() {
		defer Recover("quiet", logger)
	}()
}

func TestRecover_LogsPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core).Sugar()

	func() {
		defer Recover("detector-auth", logger)
		panic("boom")
	}()

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Goroutine panic recovered", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Equal(t, "detector-auth", fields["goroutine"])
	assert.Equal(t, "boom", fields["panic"])
	stack, ok := fields["stack"].(string)
	require.True(t, ok)
	assert.Contains(t, stack, "goroutine")
}

func TestRecover_NilLoggerFallsBackToStderr(t *testing.T) {
	assert.NotPanics(t, func() {
		defer Recover("no-logger", nil)
		panic("still recorded")
	})
}

func TestRecoverToError_SetsError(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core).Sugar()

	run := func() (err error) {
		defer RecoverToError("detector-network", logger, &err)
		panic(errors.New("index out of range"))
	}

	err := run()
	require.Error(t, err)

	var perr *PanicError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "detector-network", perr.Name)
	assert.Contains(t, err.Error(), "index out of range")
	assert.NotEmpty(t, perr.Stack)
	assert.Equal(t, 1, logs.Len())
}

func TestRecoverToError_NoPanicLeavesErrorUntouched(t *testing.T) {
	sentinel := errors.New("returned normally")
	run := func() (err error) {
		defer RecoverToError("ok", nil, &err)
		return sentinel
	}
	assert.Equal(t, sentinel, run())
}
