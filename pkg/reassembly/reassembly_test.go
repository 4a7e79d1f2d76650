package reassembly

import (
	"testing"

	"github.com/marmos91/nexus/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccept_SinglePacketMessageCompletesImmediately(t *testing.T) {
	r := New(1400)
	h := wire.Header{Session: 1, ReqNumber: 1, MsgSize: 5, PktNumber: 0}

	msg, done := r.Accept(h, []byte("hello"))
	require.True(t, done)
	assert.Equal(t, []byte("hello"), msg)
}

func TestAccept_MultiPacketInOrder(t *testing.T) {
	r := New(4)
	h := wire.Header{Session: 1, ReqNumber: 1, MsgSize: 8}

	h.PktNumber = 0
	_, done := r.Accept(h, []byte("AAAA"))
	assert.False(t, done)

	h.PktNumber = 1
	msg, done := r.Accept(h, []byte("BBBB"))
	require.True(t, done)
	assert.Equal(t, []byte("AAAABBBB"), msg)
}

func TestAccept_MultiPacketOutOfOrder(t *testing.T) {
	r := New(4)
	h := wire.Header{Session: 1, ReqNumber: 1, MsgSize: 8}

	h.PktNumber = 1
	_, done := r.Accept(h, []byte("BBBB"))
	assert.False(t, done)

	h.PktNumber = 0
	msg, done := r.Accept(h, []byte("AAAA"))
	require.True(t, done)
	assert.Equal(t, []byte("AAAABBBB"), msg)
}

func TestAccept_DuplicatePacketIsIgnored(t *testing.T) {
	r := New(4)
	h := wire.Header{Session: 1, ReqNumber: 1, MsgSize: 8}

	h.PktNumber = 0
	r.Accept(h, []byte("AAAA"))
	r.Accept(h, []byte("AAAA"))
	assert.Equal(t, 1, r.Pending())
}

func TestAccept_SeparatesDifferentSessions(t *testing.T) {
	r := New(4)

	h1 := wire.Header{Session: 1, ReqNumber: 1, MsgSize: 8, PktNumber: 0}
	h2 := wire.Header{Session: 2, ReqNumber: 1, MsgSize: 8, PktNumber: 0}

	r.Accept(h1, []byte("AAAA"))
	r.Accept(h2, []byte("BBBB"))
	assert.Equal(t, 2, r.Pending())
}

func TestDiscard_RemovesOnlyMatchingSession(t *testing.T) {
	r := New(4)

	h1 := wire.Header{Session: 1, ReqNumber: 1, MsgSize: 8, PktNumber: 0}
	h2 := wire.Header{Session: 2, ReqNumber: 1, MsgSize: 8, PktNumber: 0}
	r.Accept(h1, []byte("AAAA"))
	r.Accept(h2, []byte("BBBB"))

	r.Discard(1)
	assert.Equal(t, 1, r.Pending())
}
