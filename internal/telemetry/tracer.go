package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for RPC engine spans, following OpenTelemetry
// semantic conventions where applicable.
const (
	AttrClientAddr  = "client.address"
	AttrInstanceID  = "rpc.instance_id"
	AttrSession     = "rpc.session"
	AttrReqType     = "rpc.req_type"
	AttrReqNumber   = "rpc.req_number"
	AttrSlotID      = "rpc.slot_id"
	AttrDispatch    = "rpc.dispatch"        // inline, background
	AttrPacketCount = "rpc.packet_count"
	AttrRetransmit  = "rpc.retransmit_count"
	AttrWindowSize  = "rpc.window_size"
	AttrCongestion  = "congestion.rate_mbps"
)

// Session returns an attribute for a session number.
func Session(session uint16) attribute.KeyValue {
	return attribute.Int64(AttrSession, int64(session))
}

// ReqType returns an attribute for a request type ID.
func ReqType(reqType uint8) attribute.KeyValue {
	return attribute.Int64(AttrReqType, int64(reqType))
}

// ReqNumber returns an attribute for a composite wire request number.
func ReqNumber(reqNumber uint64) attribute.KeyValue {
	return attribute.Int64(AttrReqNumber, int64(reqNumber))
}

// SlotID returns an attribute for a sliding-window slot index.
func SlotID(slot int) attribute.KeyValue {
	return attribute.Int(AttrSlotID, slot)
}

// InstanceID returns an attribute for a local RPC instance ID.
func InstanceID(id uint8) attribute.KeyValue {
	return attribute.Int64(AttrInstanceID, int64(id))
}

// Dispatch returns an attribute for a handler's dispatch mode.
func Dispatch(mode string) attribute.KeyValue {
	return attribute.String(AttrDispatch, mode)
}

// ClientAddr returns an attribute for a peer's transport address.
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// CongestionRate returns an attribute for the Timely-estimated rate, in
// Mbps, at span-start time.
func CongestionRate(mbps float64) attribute.KeyValue {
	return attribute.Float64(AttrCongestion, mbps)
}

// StartRequestSpan starts a span for dispatching one reassembled request,
// the unit of work the event loop hands to a registered handler.
func StartRequestSpan(ctx context.Context, session uint16, reqType uint8, reqNumber uint64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	name := fmt.Sprintf("rpc.dispatch_request/%d", reqType)
	allAttrs := append([]attribute.KeyValue{Session(session), ReqType(reqType), ReqNumber(reqNumber)}, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartConnectSpan starts a span for a Session-Management Thread connect
// handshake.
func StartConnectSpan(ctx context.Context, raddr string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{ClientAddr(raddr)}, attrs...)
	return StartSpan(ctx, "smthread.connect", trace.WithAttributes(allAttrs...))
}
