package session

import (
	"sync/atomic"
)

// Session is one established RPC connection: a session number, its sliding
// window of Slots, and the monotonic request-number counter used when this
// endpoint is the requester (spec.md §3).
type Session struct {
	ID    uint64
	Slots *Table

	nextReqNumber atomic.Uint64
}

// New creates a Session with the given ID and window size.
func New(id uint64, windowSize int) *Session {
	return &Session{ID: id, Slots: NewTable(windowSize)}
}

// NextRequestNumber returns the next monotonic request number to use when
// this endpoint issues a new request on this session.
func (s *Session) NextRequestNumber() uint64 {
	return s.nextReqNumber.Add(1)
}
