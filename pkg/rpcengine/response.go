package rpcengine

import (
	"context"
	"time"

	"github.com/marmos91/nexus/internal/logger"
	"github.com/marmos91/nexus/internal/telemetry"
	"github.com/marmos91/nexus/pkg/metrics"
	"github.com/marmos91/nexus/pkg/registry"
	"github.com/marmos91/nexus/pkg/transport"
	"github.com/marmos91/nexus/pkg/wire"
	"github.com/marmos91/nexus/pkg/workerpool"
	"go.opentelemetry.io/otel/codes"
)

// dispatchRequest runs (or schedules) the handler for a fully reassembled
// incoming request, mirroring the request path on the server side
// (spec.md §4.3 "Response path (server): mirror symmetric").
func (inst *Instance) dispatchRequest(s *engineSession, h wire.Header, body []byte, slotID int) {
	desc, ok := inst.nexus.handlers.Lookup(h.ReqType)
	if !ok {
		// Unknown request type: no handler descriptor was registered for
		// it (spec.md §7 "Configuration errors ... reported synchronously
		// to the caller"). There is no application-facing caller on the
		// server side to report to, so the request is dropped. The engine
		// has no retransmission limit: the client keeps retransmitting at
		// the RTO ceiling and its continuation does not fire.
		return
	}

	reqNumber := h.ReqNumber
	start := now()

	spanCtx, span := telemetry.StartRequestSpan(context.Background(), s.ID, h.ReqType, reqNumber)
	defer span.End()

	rc := logger.NewRPCContext(inst.LocalID, s.ID, h.ReqType).
		WithRequestNumber(reqNumber).
		WithTrace(telemetry.TraceID(spanCtx), telemetry.SpanID(spanCtx))
	logCtx := logger.WithContext(spanCtx, rc)

	switch desc.Dispatch {
	case registry.Inline:
		resp, err := desc.Handler(body)
		metrics.ObserveRequest(inst.nexus.metrics, h.ReqType, "inline", time.Since(start), err)
		if err != nil {
			telemetry.RecordError(spanCtx, err)
			logger.ErrorCtx(logCtx, "inline handler returned error", "error", err)
		} else {
			logger.DebugCtx(logCtx, "inline handler completed", "duration_ms", rc.DurationMs())
		}
		inst.completeResponse(s, slotID, reqNumber, h.ReqType, resp, err)

	case registry.Background:
		submitted := inst.nexus.workers.Submit(buildWorkerJob(s.ID, h.ReqType, reqNumber, desc, body))
		if !submitted {
			// Queue full: treat as a transient ring-exhaustion condition.
			// The client's slot stays AwaitingResp and its RTO will drive a
			// retransmit, which re-attempts dispatch on arrival.
			telemetry.SetStatus(spanCtx, codes.Error, "worker queue full")
			return
		}
		logger.DebugCtx(logCtx, "background handler submitted")
	}
}

// buildWorkerJob builds a workerpool.Job that invokes desc.Handler off the
// event-loop goroutine, reporting its completion back through the pool's
// completion channel, drained in event-loop step 5 (spec.md §4.6).
func buildWorkerJob(sessionNum uint16, reqType uint8, reqNumber uint64, desc *registry.Descriptor, body []byte) workerpool.Job {
	return workerpool.Job{
		Session:   uint64(sessionNum),
		ReqType:   reqType,
		ReqNumber: reqNumber,
		Run: func(ctx context.Context) (workerpool.Result, error) {
			resp, err := desc.Handler(body)
			return workerpool.Result{Payload: resp}, err
		},
	}
}

// completeResponse builds the response's packets, marks the slot
// AwaitingResp, and transmits the eager first packet (spec.md §4.3
// "Response path").
func (inst *Instance) completeResponse(s *engineSession, slotID int, reqNumber uint64, reqType uint8, respBody []byte, err error) {
	s.Slots.MarkAwaitingResp(slotID)

	if err != nil {
		// Handler failure still must complete the slot so the peer is not
		// left waiting forever for a response that will never come; an
		// empty response with no further retries is judged better than an
		// engine-level protocol error for what is purely an application
		// fault.
		respBody = nil
	}

	packets := buildPackets(reqType, wire.PktResp, s.ID, reqNumber, respBody, inst.maxPayload())
	pr := &pendingResponse{
		slotID:       slotID,
		reqNumber:    reqNumber,
		packets:      packets,
		creditedUpTo: 0,
		sentUpTo:     -1,
		rto:          rtoFloor,
	}

	s.mu.Lock()
	s.pendingResp[slotID] = pr
	s.mu.Unlock()

	inst.transmitResponsePackets(s, pr)

	if len(packets) == 1 {
		// Single-packet response: nothing further to pull, cache for
		// replay and return the slot to idle once the packet is handed to
		// the transport (retransmission, if needed, is driven by the
		// client's own request-retransmit path re-arriving here as a
		// duplicate, handled by the slot table's cached-reply replay).
		s.Slots.Complete(slotID, respBody)
		s.mu.Lock()
		delete(s.pendingResp, slotID)
		s.mu.Unlock()
	}
}

func (inst *Instance) transmitResponsePackets(s *engineSession, pr *pendingResponse) {
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
}

// handleRequestForResp pulls the next response segment in reply to an RFR
// from the client (spec.md §4.3 "client sends RFR packets to pull each
// response segment").
func (inst *Instance) handleRequestForResp(s *engineSession, h wire.Header) {
	slotID, _ := decomposeReqNumber(h.ReqNumber, inst.windowBits())

	s.mu.Lock()
	pr, ok := s.pendingResp[slotID]
	if ok && pr.reqNumber == h.ReqNumber {
		requested := int(h.PktNumber)
		if requested > pr.creditedUpTo {
			pr.creditedUpTo = requested
		}
	} else {
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	inst.transmitResponsePackets(s, pr)

	if pr.sentUpTo == len(pr.packets)-1 {
		full := assembleLocal(pr.packets)
		s.Slots.Complete(slotID, full)
		s.mu.Lock()
		delete(s.pendingResp, slotID)
		s.mu.Unlock()
	}
}

// assembleLocal reconstructs the original response body from its own
// locally-built packets (used only for the server's own cached-reply copy,
// not for receiving — pkg/reassembly handles that side).
func assembleLocal(packets [][]byte) []byte {
	out := make([]byte, 0)
	for _, p := range packets {
		out = append(out, p[wire.HeaderSize:]...)
	}
	return out
}
