package rpcengine

import (
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/nexus/internal/logger"
	"github.com/marmos91/nexus/pkg/metrics"
	"github.com/marmos91/nexus/pkg/rpcerr"
	"github.com/marmos91/nexus/pkg/transport"
	"github.com/marmos91/nexus/pkg/wire"
)

// EnqueueRequest issues a new request on sessionNum (spec.md §6
// "enqueue_request"). The engine selects the lowest-indexed idle slot,
// assigns the next monotonic request number, and transmits the eager first
// packet before returning, unless the session's pacing gate withholds it,
// in which case a later event-loop iteration sends it. continuation
// fires exactly once, either with the peer's response or with an error
// (spec.md §8 "Exactly-once continuation").
//
// EnqueueRequest must only be called from the goroutine driving this
// Instance's event loop, or queued in via a background worker's
// completion — the engine never locks around a transport call or handler
// invocation (spec.md §5 "Locking discipline").
func (inst *Instance) EnqueueRequest(sessionNum uint16, reqType uint8, req []byte, continuation Continuation, tag any) error {
	s, ok := inst.getSession(sessionNum)
	if !ok {
		return rpcerr.NewDisconnectedError(uint64(sessionNum))
	}

	s.mu.Lock()
	if s.Status != StatusConnected {
		s.mu.Unlock()
		return rpcerr.NewDisconnectedError(uint64(sessionNum))
	}

	// The usable slot range is bounded by the session's currently
	// advertised credit, not always the full window — adjustSessionCredit
	// shrinks it under Background Worker Pool backpressure (spec.md §4.6).
	limit := s.Slots.TargetHighestSlotID() + 1
	if limit <= 0 || limit > s.Slots.WindowSize() {
		limit = s.Slots.WindowSize()
	}

	slotID := -1
	for i := 0; i < limit; i++ {
		if _, busy := s.pendingReq[i]; !busy {
			slotID = i
			break
		}
	}
	if slotID == -1 {
		s.mu.Unlock()
		return rpcerr.NewRingExhaustedError()
	}

	localSeq, err := s.Slots.ReserveNext(slotID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	reqNumber := composeReqNumber(slotID, localSeq, inst.windowBits())
	packets := buildPackets(reqType, wire.PktReq, sessionNum, reqNumber, req, inst.maxPayload())

	pr := &pendingRequest{
		slotID:        slotID,
		reqType:       reqType,
		reqNumber:     reqNumber,
		packets:       packets,
		creditedUpTo:  0, // only packet 0 is eager; rest await a CR
		sentUpTo:      -1,
		rto:           rtoFloor,
		continuation:  continuation,
		tag:           tag,
		correlationID: uuid.NewString(),
	}
	s.pendingReq[slotID] = pr
	s.mu.Unlock()

	inst.transmitRequestPackets(s, pr)
	return nil
}

// transmitRequestPackets sends every packet up to pr.creditedUpTo that has
// not yet been sent, and (re)schedules the slot's retransmission timer.
func (inst *Instance) transmitRequestPackets(s *engineSession, pr *pendingRequest) {
	pkts := make([]transport.Packet, 0, pr.creditedUpTo-pr.sentUpTo)
	size := 0
	for i := pr.sentUpTo + 1; i <= pr.creditedUpTo && i < len(pr.packets); i++ {
		pkts = append(pkts, transport.Packet{Buf: pr.packets[i], Addr: s.RemoteHost})
		size += len(pr.packets[i])
	}
	if len(pkts) == 0 {
		return
	}
	if !s.paceAllows(size) {
		return
	}

	n, _ := inst.tr.TxBurst(pkts)
	if n > 0 {
		pr.sentUpTo += n
		pr.sentAt = now()
	}

	inst.scheduleRetransmit(s, pr)
}

// scheduleRetransmit (re)arms the slot's RTO timer, doubling the backoff
// on each successive firing up to rtoCeiling, resetting to rtoFloor the
// moment any packet on the slot is acknowledged.
func (inst *Instance) scheduleRetransmit(s *engineSession, pr *pendingRequest) {
	if pr.rtoTask != nil {
		pr.rtoTask.Cancel()
	}
	slotID := pr.slotID
	reqNumber := pr.reqNumber
	pr.rtoTask = inst.wheel.Schedule(pr.rto, func() {
		inst.onRequestTimeout(s, slotID, reqNumber)
	})
}

// onRequestTimeout fires on the timing wheel's goroutine; it hands the
// retransmit decision back to the event-loop thread via the SPSC enqueue
// channel so no lock is ever held across a transport call from a
// non-event-loop goroutine.
func (inst *Instance) onRequestTimeout(s *engineSession, slotID int, reqNumber uint64) {
	queued := inst.postDeferred(func() {
		s.mu.Lock()
		pr, ok := s.pendingReq[slotID]
		s.mu.Unlock()
		if !ok || pr.reqNumber != reqNumber {
			return // already completed or superseded
		}

		pr.rto *= 2
		if pr.rto > rtoCeiling {
			pr.rto = rtoCeiling
		}
		pr.sentUpTo = -1 // retransmit from the oldest unacked packet
		metrics.RecordRetransmit(inst.nexus.metrics, uint64(s.ID))
		logger.Debug("retransmitting request",
			"correlation_id", pr.correlationID,
			"session", s.ID,
			"slot", slotID,
			"req_number", reqNumber,
			"rto_ms", pr.rto.Milliseconds())
		inst.transmitRequestPackets(s, pr)
	})
	if !queued {
		// Drain queue full: arm another RTO firing so the retransmit is
		// retried rather than lost.
		inst.wheel.Schedule(rtoFloor, func() {
			inst.onRequestTimeout(s, slotID, reqNumber)
		})
	}
}

// postDeferred hands a closure to the event loop's own drain queue
// (spec.md §4.5 step 5), matching the "no lock held across a transport
// call" rule for callbacks fired from the timing wheel's goroutine. It
// reports whether fn was queued.
func (inst *Instance) postDeferred(fn func()) bool {
	select {
	case inst.enqueueRq <- fn:
		return true
	default:
		// Queue full: drop rather than block the timing wheel's goroutine.
		// onRequestTimeout re-arms the slot's RTO when its callback is dropped.
		return false
	}
}

// Defer hands fn to the event loop's drain queue from any goroutine, the
// same hand-off postDeferred uses internally for RTO callbacks. A
// Background-dispatched handler that itself needs to EnqueueRequest (e.g.
// a nested RPC fan-out) uses this to satisfy EnqueueRequest's
// event-loop-only calling convention.
func (inst *Instance) Defer(fn func()) {
	inst.postDeferred(fn)
}

// completeRequest fires pr's continuation and returns its slot to the
// session's free pool.
func (inst *Instance) completeRequest(s *engineSession, pr *pendingRequest, resp []byte, err error) {
	if pr.rtoTask != nil {
		pr.rtoTask.Cancel()
	}

	s.mu.Lock()
	delete(s.pendingReq, pr.slotID)
	s.mu.Unlock()
	s.Slots.Complete(pr.slotID, nil)

	if pr.continuation != nil {
		pr.continuation(resp, pr.tag, err)
	}
}

// handleCreditReturn applies an ExplicitCR packet, releasing additional
// request packets for transmission (spec.md §4.3: "server sends a single
// CR after receiving the first packet, granting credits for the
// remaining packets"). The credit count is carried in the control
// packet's packet-number field (see packet.go controlPacket); the slot is
// the low bits of the request number (see slotwire.go).
func (inst *Instance) handleCreditReturn(s *engineSession, h wire.Header) {
	slotID, _ := decomposeReqNumber(h.ReqNumber, inst.windowBits())

	s.mu.Lock()
	pr, ok := s.pendingReq[slotID]
	if ok && pr.reqNumber == h.ReqNumber {
		newCredit := int(h.PktNumber)
		if pr.sentUpTo+newCredit > pr.creditedUpTo {
			pr.creditedUpTo = pr.sentUpTo + newCredit
		}
	} else {
		ok = false
	}
	s.mu.Unlock()
	if ok {
		pr.rto = rtoFloor
		inst.transmitRequestPackets(s, pr)
	}
}

func now() time.Time { return time.Now() }
