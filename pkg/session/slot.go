// Package session implements the per-endpoint Session and its sliding
// request/response window of Slots (spec.md §3, §4.3).
//
// A Slot mirrors the NFSv4.1 slot-table discipline: a fixed-size table
// behind a single mutex, validating that an incoming request number is
// either the next expected one (advance the slot) or a retransmission of
// the slot's last completed request (replay the cached response) — the
// same exactly-once/credit-based flow-control shape, generalized from
// per-owner sequence IDs to Nexus's per-slot monotonic request numbers.
package session

import (
	"fmt"
	"sync"

	"github.com/marmos91/nexus/pkg/rpcerr"
)

// State is a Slot's position in its state machine (spec.md §3: kIdle,
// kInProgress, kAwaitingResp).
type State int

const (
	// Idle means the slot holds no in-flight request.
	Idle State = iota
	// InProgress means a request has been accepted and its handler is
	// running (inline or dispatched to the Background Worker Pool).
	InProgress
	// AwaitingResp means the handler has completed and the response is
	// being streamed back to the peer, awaiting final acknowledgment.
	AwaitingResp
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case InProgress:
		return "InProgress"
	case AwaitingResp:
		return "AwaitingResp"
	default:
		return "Unknown"
	}
}

// Slot is one entry in a Session's sliding window.
type Slot struct {
	State     State
	ReqNumber uint64

	// CachedReply holds the last completed response for replay if the peer
	// retransmits the same request number while the slot is Idle.
	CachedReply []byte
}

// Outcome is the result of validating an incoming request number against a
// slot.
type Outcome int

const (
	// OutcomeNew means the request is new work: advance the slot to
	// InProgress and dispatch to a handler.
	OutcomeNew Outcome = iota
	// OutcomeReplay means the request number matches the slot's last
	// completed request: resend CachedReply without re-running the
	// handler.
	OutcomeReplay
)

// Table is the fixed-size slot table backing one Session's sliding window.
type Table struct {
	mu sync.Mutex

	slots               []Slot
	highestSlotID       int
	targetHighestSlotID int
}

// NewTable creates a Table with windowSize slots, all Idle.
func NewTable(windowSize int) *Table {
	if windowSize < 1 {
		windowSize = 1
	}
	return &Table{
		slots:               make([]Slot, windowSize),
		highestSlotID:       -1,
		targetHighestSlotID: windowSize - 1,
	}
}

// WindowSize returns the table's fixed slot count.
func (t *Table) WindowSize() int {
	return len(t.slots)
}

// ReserveNext assigns the next monotonic request number for slotID and
// marks it InProgress, for use by the side that *issues* a new request
// (spec.md §4.3 step 1: "the engine selects the lowest-indexed kIdle slot,
// assigns the next monotonic request number"). Unlike Reserve, which
// validates an incoming request number arriving over the wire, the issuer
// always knows the next number is one past the slot's last completed
// value, so there is nothing to validate.
func (t *Table) ReserveNext(slotID int) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if slotID < 0 || slotID >= len(t.slots) {
		return 0, rpcerr.NewSessionResetError(0, "slot id out of range")
	}
	slot := &t.slots[slotID]
	if slot.State != Idle {
		return 0, rpcerr.NewSessionResetError(0, fmt.Sprintf("slot %d not idle", slotID))
	}

	slot.State = InProgress
	slot.ReqNumber++
	if slotID > t.highestSlotID {
		t.highestSlotID = slotID
	}
	return slot.ReqNumber, nil
}

// Reserve validates an incoming (slotID, reqNumber) pair and, for new work,
// atomically marks the slot InProgress so a concurrent retransmission of
// the same request is recognized as in-flight rather than double-dispatched.
//
// It returns an rpcerr.CodeSessionReset (kSessionReset) error if slotID is
// out of range, if the slot is busy when the next expected request number
// arrives, or if reqNumber matches neither the next expected value nor the
// slot's last completed value with a cached reply.
func (t *Table) Reserve(slotID int, reqNumber uint64) (Outcome, *Slot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if slotID < 0 || slotID >= len(t.slots) {
		return 0, nil, rpcerr.NewSessionResetError(0, "slot id out of range")
	}

	slot := &t.slots[slotID]
	expected := slot.ReqNumber + 1

	switch {
	case reqNumber == expected:
		if slot.State != Idle {
			return 0, nil, rpcerr.NewSessionResetError(0, fmt.Sprintf("slot %d busy with request %d, got new request %d", slotID, slot.ReqNumber, reqNumber))
		}
		slot.State = InProgress
		slot.ReqNumber = reqNumber
		if slotID > t.highestSlotID {
			t.highestSlotID = slotID
		}
		return OutcomeNew, slot, nil

	case reqNumber == slot.ReqNumber && slot.State == Idle && slot.CachedReply != nil:
		return OutcomeReplay, slot, nil

	default:
		return 0, nil, rpcerr.NewSessionResetError(0, fmt.Sprintf("unexpected request number %d on slot %d (have %d)", reqNumber, slotID, slot.ReqNumber))
	}
}

// MarkAwaitingResp transitions a slot from InProgress to AwaitingResp once
// its handler has produced a response body that is now being streamed.
func (t *Table) MarkAwaitingResp(slotID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slotID < 0 || slotID >= len(t.slots) {
		return
	}
	t.slots[slotID].State = AwaitingResp
}

// Complete returns a slot to Idle, caching reply for future replay.
func (t *Table) Complete(slotID int, reply []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slotID < 0 || slotID >= len(t.slots) {
		return
	}

	slot := &t.slots[slotID]
	slot.State = Idle
	if reply != nil {
		slot.CachedReply = append([]byte(nil), reply...)
	} else {
		slot.CachedReply = nil
	}
}

// SetTargetHighestSlotID sets the highest slot index that EnqueueRequest
// may use on this session (credit-based flow control). The limit is applied
// locally; it is not sent to the peer.
func (t *Table) SetTargetHighestSlotID(target int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if target >= len(t.slots) {
		target = len(t.slots) - 1
	}
	t.targetHighestSlotID = target
}

// HighestSlotID returns the highest slot index ever used, or -1 if no slot
// has been used.
func (t *Table) HighestSlotID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.highestSlotID
}

// TargetHighestSlotID returns the current local credit limit set by
// SetTargetHighestSlotID.
func (t *Table) TargetHighestSlotID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.targetHighestSlotID
}

// InFlight returns the number of slots currently not Idle.
func (t *Table) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.slots {
		if t.slots[i].State != Idle {
			n++
		}
	}
	return n
}

// CachedReply returns slotID's last completed response body, for replaying
// a retransmitted request without re-running its handler, or nil if the
// slot holds no cached reply or slotID is out of range.
func (t *Table) CachedReply(slotID int) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slotID < 0 || slotID >= len(t.slots) {
		return nil
	}
	return t.slots[slotID].CachedReply
}

// Reset marks every slot Idle and clears cached replies, used when the
// session enters kSessionReset (spec.md §7) and must discard in-flight
// state rather than resume it.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		t.slots[i] = Slot{}
	}
}
