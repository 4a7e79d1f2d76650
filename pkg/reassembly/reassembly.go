// Package reassembly reconstructs a multi-packet message from individually
// arriving packets, keyed by the sender's request number, tolerating
// out-of-order arrival within a message the same way pkg/session's slot
// table tolerates out-of-order completion across messages (spec.md §3,
// §4.3 "Multi-packet requests/responses").
package reassembly

import (
	"sync"

	"github.com/marmos91/nexus/pkg/wire"
)

// Buffer accumulates a single message's packets until all are present.
type Buffer struct {
	total    int
	received int
	pieces   [][]byte
}

func newBuffer(numPackets int) *Buffer {
	return &Buffer{total: numPackets, pieces: make([][]byte, numPackets)}
}

// Add records one packet's payload at its packet number. It returns true
// once every packet for the message has arrived.
func (b *Buffer) Add(pktNumber uint16, payload []byte) (complete bool) {
	idx := int(pktNumber)
	if idx < 0 || idx >= b.total {
		return false
	}
	if b.pieces[idx] == nil {
		b.pieces[idx] = append([]byte(nil), payload...)
		b.received++
	}
	return b.received == b.total
}

// Assemble concatenates the buffer's pieces in packet-number order. It must
// only be called once Add has reported completion.
func (b *Buffer) Assemble() []byte {
	size := 0
	for _, p := range b.pieces {
		size += len(p)
	}
	out := make([]byte, 0, size)
	for _, p := range b.pieces {
		out = append(out, p...)
	}
	return out
}

// key identifies one in-progress message by the session it belongs to and
// the requester's request number.
type key struct {
	session   uint16
	reqNumber uint64
}

// Reassembler tracks every in-progress multi-packet message for one RPC
// Instance.
type Reassembler struct {
	maxPayloadPerPacket int

	mu      sync.Mutex
	buffers map[key]*Buffer
}

// New creates a Reassembler. maxPayloadPerPacket must match the value used
// to compute wire.NumPackets when the message was split by the sender.
func New(maxPayloadPerPacket int) *Reassembler {
	return &Reassembler{
		maxPayloadPerPacket: maxPayloadPerPacket,
		buffers:             make(map[key]*Buffer),
	}
}

// Accept records one arriving packet for the message it belongs to (per
// h.Session/h.ReqNumber), returning the fully assembled message once every
// packet has arrived. It returns (nil, false) while the message is still
// incomplete.
func (r *Reassembler) Accept(h wire.Header, payload []byte) ([]byte, bool) {
	k := key{session: h.Session, reqNumber: h.ReqNumber}

	r.mu.Lock()
	defer r.mu.Unlock()

	buf, ok := r.buffers[k]
	if !ok {
		numPackets := wire.NumPackets(int(h.MsgSize), r.maxPayloadPerPacket)
		buf = newBuffer(numPackets)
		r.buffers[k] = buf
	}

	if !buf.Add(h.PktNumber, payload) {
		return nil, false
	}

	delete(r.buffers, k)
	return buf.Assemble(), true
}

// Discard removes any in-progress reassembly state for a session, used on
// session reset (spec.md §7 kSessionReset) so stale partial messages from
// before the reset are never delivered to a handler.
func (r *Reassembler) Discard(session uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.buffers {
		if k.session == session {
			delete(r.buffers, k)
		}
	}
}

// Pending returns the number of messages currently being reassembled.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffers)
}
