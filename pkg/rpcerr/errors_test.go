package rpcerr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	t.Parallel()

	t.Run("error with session includes session in message", func(t *testing.T) {
		t.Parallel()
		err := &Error{Code: CodeSessionReset, Message: "peer reset", Session: 42}

		assert.Contains(t, err.Error(), "SessionReset")
		assert.Contains(t, err.Error(), "peer reset")
		assert.Contains(t, err.Error(), "42")
	})

	t.Run("error without session omits session", func(t *testing.T) {
		t.Parallel()
		err := &Error{Code: CodeTooLarge, Message: "message too large"}

		assert.Contains(t, err.Error(), "TooLarge")
		assert.NotContains(t, err.Error(), "session=")
	})
}

func TestCode_String(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code Code
		want string
	}{
		{CodeNone, "NoError"},
		{CodeTooLarge, "TooLarge"},
		{CodeOutOfMemory, "OutOfMemory"},
		{CodeTooManySessions, "TooManySessions"},
		{CodeInvalidRemoteRpcID, "InvalidRemoteRpcId"},
		{CodeSessionReset, "SessionReset"},
		{CodeDisconnected, "Disconnected"},
		{CodeRingExhausted, "RingExhausted"},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, c.code.String())
	}
}

func TestFactoryFunctions(t *testing.T) {
	t.Parallel()

	t.Run("NewTooLargeError", func(t *testing.T) {
		t.Parallel()
		err := NewTooLargeError(2048, 1024)
		assert.Equal(t, CodeTooLarge, err.Code)
		assert.Contains(t, err.Message, "2048")
		assert.Contains(t, err.Message, "1024")
	})

	t.Run("NewSessionResetError carries session number", func(t *testing.T) {
		t.Parallel()
		err := NewSessionResetError(7, "peer destroyed")
		assert.Equal(t, CodeSessionReset, err.Code)
		assert.Equal(t, uint64(7), err.Session)
		assert.True(t, IsSessionResetError(err))
		assert.False(t, IsRingExhaustedError(err))
	})

	t.Run("NewRingExhaustedError", func(t *testing.T) {
		t.Parallel()
		err := NewRingExhaustedError()
		assert.True(t, IsRingExhaustedError(err))
	})

	t.Run("NewDisconnectedError", func(t *testing.T) {
		t.Parallel()
		err := NewDisconnectedError(3)
		assert.True(t, IsDisconnectedError(err))
		assert.Equal(t, uint64(3), err.Session)
	})
}

func TestIsHelpers_NonMatchingError(t *testing.T) {
	t.Parallel()

	other := &Error{Code: CodeTooLarge}
	assert.False(t, IsSessionResetError(other))
	assert.False(t, IsRingExhaustedError(other))
	assert.False(t, IsDisconnectedError(other))

	plain := assertErrorf("plain error")
	assert.False(t, IsSessionResetError(plain))
}

func assertErrorf(msg string) error {
	return &notRpcErr{msg}
}

type notRpcErr struct{ msg string }

func (e *notRpcErr) Error() string { return e.msg }
