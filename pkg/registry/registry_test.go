package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(req []byte) ([]byte, error) {
	return req, nil
}

func TestRegister_AndLookup(t *testing.T) {
	r := New()

	require.NoError(t, r.Register(1, Inline, echoHandler))

	d, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, uint8(1), d.ReqType)
	assert.Equal(t, Inline, d.Dispatch)
}

func TestRegister_DuplicateReqTypeErrors(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(1, Inline, echoHandler))

	err := r.Register(1, Background, echoHandler)
	assert.Error(t, err)
}

func TestRegister_NilHandlerErrors(t *testing.T) {
	r := New()
	err := r.Register(1, Inline, nil)
	assert.Error(t, err)
}

func TestLookup_UnknownReqTypeMiss(t *testing.T) {
	r := New()
	_, ok := r.Lookup(99)
	assert.False(t, ok)
}

func TestDeregister_RemovesHandler(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(1, Inline, echoHandler))

	r.Deregister(1)
	_, ok := r.Lookup(1)
	assert.False(t, ok)
}

func TestCount_ReflectsRegistrations(t *testing.T) {
	r := New()
	assert.Equal(t, 0, r.Count())

	require.NoError(t, r.Register(1, Inline, echoHandler))
	require.NoError(t, r.Register(2, Background, echoHandler))
	assert.Equal(t, 2, r.Count())
}

func TestReqTypes_ListsAllRegistered(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(1, Inline, echoHandler))
	require.NoError(t, r.Register(2, Background, echoHandler))

	types := r.ReqTypes()
	assert.ElementsMatch(t, []uint8{1, 2}, types)
}
