package rpcengine

import (
	"time"

	"github.com/marmos91/nexus/internal/logger"
	"github.com/marmos91/nexus/pkg/metrics"
	"github.com/marmos91/nexus/pkg/rpcerr"
	"github.com/marmos91/nexus/pkg/session"
	"github.com/marmos91/nexus/pkg/transport"
	"github.com/marmos91/nexus/pkg/wire"
)

// creditBacklogFrac is the fraction of the Background Worker Pool's queue
// depth past which adjustSessionCredit halves every session's usable slot
// range, matching the NFSv4.1-style credit shrink pkg/session's Table
// grounds its target-highest-slot fields on.
const creditBacklogFrac = 0.75

// rxBatchSize bounds how many packets RunEventLoopOnce polls from the
// transport in one iteration.
const rxBatchSize = 64

// RunEventLoopOnce runs a single cooperative iteration of the event loop
// (spec.md §4.5): poll RX, update slot state, poll TX completions, advance
// retransmission timers, drain cross-thread hand-off queues, process at
// most one session-management message, and admit paced packets.
func (inst *Instance) RunEventLoopOnce() {
	inst.pollRx()
	inst.pollTxCompletions()
	// Step 4, "advance the timing wheel": pkg/timingwheel drives its own
	// ticker goroutine rather than being stepped here, since its tasks
	// (retransmit/backoff) must fire even between event-loop iterations
	// under a busy application; RunEventLoopOnce only drains what it
	// scheduled (step 5).
	inst.drainDeferred()
	inst.drainWorkerCompletions()
	inst.drainOneSMEvent()
	inst.adjustSessionCredit()
	inst.pumpPacing()
}

// RunEventLoop runs RunEventLoopOnce repeatedly until deadline has elapsed.
// The deadline is advisory (spec.md §5): the loop always finishes its
// current iteration before checking the clock again.
func (inst *Instance) RunEventLoop(d time.Duration) {
	deadline := now().Add(d)
	for {
		inst.RunEventLoopOnce()
		if !now().Before(deadline) {
			return
		}
	}
}

func (inst *Instance) pollRx() {
	buf := make([]transport.Packet, rxBatchSize)
	n, err := inst.tr.RxBurst(buf)
	if err != nil || n == 0 {
		return
	}

	for i := 0; i < n; i++ {
		inst.handlePacket(buf[i])
	}
}

func (inst *Instance) handlePacket(pkt transport.Packet) {
	h, err := wire.Decode(pkt.Buf)
	if err != nil {
		return
	}
	payload := pkt.Buf[wire.HeaderSize:]

	s, ok := inst.getSession(h.Session)
	if !ok {
		return
	}
	if pkt.Addr != "" {
		s.mu.Lock()
		s.RemoteHost = pkt.Addr
		s.mu.Unlock()
	}

	switch h.PktType {
	case wire.PktReq:
		inst.handleReqPacket(s, h, payload, pkt.Addr)
	case wire.PktResp:
		inst.handleRespPacket(s, h, payload)
	case wire.PktExplicitCR:
		inst.handleCreditReturn(s, h)
	case wire.PktReqForResp:
		inst.handleRequestForResp(s, h)
	}
}

// handleReqPacket processes one inbound request-data packet (spec.md §4.3
// "Request path"/"Response path (server): mirror symmetric").
func (inst *Instance) handleReqPacket(s *engineSession, h wire.Header, payload []byte, raddr string) {
	slotID, localSeq := decomposeReqNumber(h.ReqNumber, inst.windowBits())
	totalPackets := wire.NumPackets(int(h.MsgSize), inst.maxPayload())

	if h.PktNumber == 0 {
		outcome, _, err := s.Slots.Reserve(slotID, localSeq)
		if err != nil {
			return // stale/out-of-window request; let the client's RTO retry
		}
		if outcome == session.OutcomeReplay {
			inst.resendCachedReply(s, slotID, h, raddr)
			return
		}
		if totalPackets > 1 {
			inst.sendCreditReturn(s, h, raddr, totalPackets-1)
		}
	}

	body, complete := inst.reassembler.Accept(h, payload)
	if !complete {
		return
	}

	inst.dispatchRequest(s, h, body, slotID)
}

// resendCachedReply replays a slot's last completed response without
// re-invoking its handler, for a retransmitted request (spec.md §8
// "Idempotent retransmission").
func (inst *Instance) resendCachedReply(s *engineSession, slotID int, h wire.Header, raddr string) {
	cached := s.Slots.CachedReply(slotID)
	packets := buildPackets(h.ReqType, wire.PktResp, s.ID, h.ReqNumber, cached, inst.maxPayload())
	pkts := make([]transport.Packet, len(packets))
	for i, p := range packets {
		pkts[i] = transport.Packet{Buf: p, Addr: raddr}
	}
	_, _ = inst.tr.TxBurst(pkts)
}

func (inst *Instance) sendCreditReturn(s *engineSession, h wire.Header, raddr string, grant int) {
	pkt := controlPacket(h.ReqType, wire.PktExplicitCR, s.ID, h.ReqNumber, uint16(grant))
	_, _ = inst.tr.TxBurst([]transport.Packet{{Buf: pkt, Addr: raddr}})
}

// handleRespPacket processes one inbound response-data packet on the
// client side (spec.md §4.3 "On full response receipt, the slot
// transitions to kIdle and the continuation fires").
func (inst *Instance) handleRespPacket(s *engineSession, h wire.Header, payload []byte) {
	slotID, _ := decomposeReqNumber(h.ReqNumber, inst.windowBits())

	s.mu.Lock()
	pr, ok := s.pendingReq[slotID]
	if ok && pr.reqNumber != h.ReqNumber {
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return // stale duplicate for an already-completed request
	}

	totalPackets := wire.NumPackets(int(h.MsgSize), inst.maxPayload())
	if h.PktNumber == 0 && totalPackets > 1 {
		inst.sendRequestForResp(s, h, 1)
	}

	body, complete := inst.reassembler.Accept(h, payload)
	if !complete {
		if h.PktNumber > 0 && h.PktNumber < uint16(totalPackets)-1 {
			inst.sendRequestForResp(s, h, h.PktNumber+1)
		}
		return
	}

	s.CC.OnRTTSample(now().Sub(pr.sentAt))
	metrics.RecordCongestionRate(inst.nexus.metrics, uint64(s.ID), s.CC.RateMbps())
	inst.completeRequest(s, pr, body, nil)
}

func (inst *Instance) sendRequestForResp(s *engineSession, h wire.Header, want uint16) {
	pkt := controlPacket(h.ReqType, wire.PktReqForResp, s.ID, h.ReqNumber, want)
	_, _ = inst.tr.TxBurst([]transport.Packet{{Buf: pkt, Addr: s.RemoteHost}})
}

func (inst *Instance) pollTxCompletions() {
	_, _ = inst.tr.PollSendCompletions()
}

// drainDeferred drains closures posted by the timing wheel's goroutine
// (spec.md §4.5 step 5 "SPSC queues posted by background workers" — the
// same hand-off discipline applies to the wheel's retransmit callbacks).
func (inst *Instance) drainDeferred() {
	for {
		select {
		case fn := <-inst.enqueueRq:
			fn()
		default:
			return
		}
	}
}

// drainWorkerCompletions drains the Background Worker Pool's completion
// channel, completing whichever of this instance's sessions the finished
// job belongs to (spec.md §4.6).
func (inst *Instance) drainWorkerCompletions() {
	for {
		select {
		case c := <-inst.nexus.workers.Completions():
			s, ok := inst.getSession(uint16(c.Session))
			if !ok {
				continue
			}
			slotID, _ := decomposeReqNumber(c.ReqNumber, inst.windowBits())
			inst.completeResponse(s, slotID, c.ReqNumber, c.ReqType, c.Result.Payload, c.Err)
		default:
			return
		}
	}
}

// drainOneSMEvent processes at most one session-management message per
// iteration (spec.md §4.5 step 6).
func (inst *Instance) drainOneSMEvent() {
	select {
	case ev := <-inst.smQueue:
		inst.applySMEvent(ev)
	default:
	}
}

func (inst *Instance) applySMEvent(ev smEvent) {
	s, ok := inst.getSession(ev.session)
	if !ok {
		return
	}

	switch ev.kind {
	case smDisconnect:
		s.mu.Lock()
		s.Status = StatusDisconnected
		s.mu.Unlock()

	case smReset:
		inst.failSession(s, ev.reason)
	}
}

// failSession fires every in-flight continuation on s with a
// kSessionReset error, in slot-index order (decided open question: "fires
// in slot-index order, not request-number order"), and discards
// in-progress reassembly state so no stale pre-reset packet is ever
// delivered to a handler (spec.md §7, §8 "Exactly-once continuation").
func (inst *Instance) failSession(s *engineSession, reason string) {
	s.mu.Lock()
	s.Status = StatusReset
	pending := make([]*pendingRequest, 0, len(s.pendingReq))
	for i := 0; i < s.Slots.WindowSize(); i++ {
		if pr, ok := s.pendingReq[i]; ok {
			pending = append(pending, pr)
		}
	}
	s.pendingResp = make(map[int]*pendingResponse)
	s.mu.Unlock()

	s.Slots.Reset()
	inst.reassembler.Discard(s.ID)

	for _, pr := range pending {
		inst.completeRequest(s, pr, nil, rpcerr.NewSessionResetError(uint64(s.ID), reason))
	}
}

// adjustSessionCredit throttles each session's usable slot range down when
// the Background Worker Pool is backlogged, and restores full credit once
// the backlog clears (spec.md §4.6 backpressure). It is the real
// session/credit consumer of the slot table's target-highest-slot and
// in-flight bookkeeping.
func (inst *Instance) adjustSessionCredit() {
	depth := inst.nexus.cfg.WorkerPool.QueueDepth
	if depth <= 0 {
		return
	}
	pending := inst.nexus.workers.Pending()
	congested := float64(pending)/float64(depth) > creditBacklogFrac

	inst.mu.Lock()
	sessions := make([]*engineSession, 0, len(inst.sessions))
	for _, s := range inst.sessions {
		sessions = append(sessions, s)
	}
	inst.mu.Unlock()

	for _, s := range sessions {
		window := s.Slots.WindowSize()
		target := window - 1
		if congested && window > 1 {
			target = window/2 - 1
			if target < 0 {
				target = 0
			}
		}
		if s.Slots.TargetHighestSlotID() == target {
			continue
		}
		s.Slots.SetTargetHighestSlotID(target)
		metrics.RecordSlotsInUse(inst.nexus.metrics, uint64(s.ID), s.Slots.InFlight(), window)
		logger.Debug("session credit adjusted",
			"session", s.ID,
			"target_highest_slot", target,
			"highest_slot_used", s.Slots.HighestSlotID(),
			"in_flight", s.Slots.InFlight(),
			"worker_queue_pending", pending)
	}
}

// pumpPacing retries any burst that was withheld earlier by the Timely
// pacing gate (spec.md §4.4 "packets are released from the TX queue only
// while the budget is positive, restoring unspent budget to the next
// tick").
func (inst *Instance) pumpPacing() {
	inst.mu.Lock()
	sessions := make([]*engineSession, 0, len(inst.sessions))
	for _, s := range inst.sessions {
		sessions = append(sessions, s)
	}
	inst.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		reqs := make([]*pendingRequest, 0, len(s.pendingReq))
		for _, pr := range s.pendingReq {
			if pr.sentUpTo < pr.creditedUpTo {
				reqs = append(reqs, pr)
			}
		}
		resps := make([]*pendingResponse, 0, len(s.pendingResp))
		for _, pr := range s.pendingResp {
			if pr.sentUpTo < pr.creditedUpTo {
				resps = append(resps, pr)
			}
		}
		s.mu.Unlock()

		for _, pr := range reqs {
			inst.transmitRequestPackets(s, pr)
		}
		for _, pr := range resps {
			inst.transmitResponsePackets(s, pr)
		}
	}
}
