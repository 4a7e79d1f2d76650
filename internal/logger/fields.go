package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging.
// These keys are designed to stay consistent across every layer of the
// engine (session, congestion control, transport, worker pool) so log
// aggregation and querying work the same way regardless of which
// component emitted the line.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Endpoint & Instance
	// ========================================================================
	KeyInstance = "rpc_instance" // local RPC instance ID (8-bit)
	KeyHost     = "host"         // hostname:port of the local or remote Nexus

	// ========================================================================
	// Session & Slot
	// ========================================================================
	KeySession     = "session"      // local session number
	KeyRemoteRpcID = "remote_rpc_id"
	KeySlot        = "slot"    // slot index within the request window
	KeySlotState   = "state"   // kIdle, kInProgress, kAwaitingResp
	KeyWindowSize  = "window"  // session window size W
	KeyCredits     = "credits" // credits currently available

	// ========================================================================
	// Request / Packet
	// ========================================================================
	KeyReqType    = "req_type"    // request type ID (8 bits)
	KeyReqNumber  = "req_number"  // monotonic request number (64 bits)
	KeyPktNumber  = "pkt_number"  // packet number within the message
	KeyPktType    = "pkt_type"    // kReq, kResp, kReqForResp, kExplicitCR
	KeyMsgSize    = "msg_size"    // total message size in bytes
	KeyNumPackets = "num_packets" // total packets in the message

	// ========================================================================
	// Reliability & Congestion Control
	// ========================================================================
	KeyRTTMicros     = "rtt_us"        // observed round-trip time, microseconds
	KeyRTOMicros     = "rto_us"        // current retransmission timeout
	KeyBackoff       = "backoff"       // current exponential backoff multiplier
	KeyRateMbps      = "rate_mbps"     // session send rate
	KeyRetransmits   = "retransmits"   // retransmit count for this slot/session
	KeyRFRSent       = "rfr_sent"      // request-for-response packets sent
	KeyCRSent        = "cr_sent"       // credit-return packets sent

	// ========================================================================
	// Buffers & Memory
	// ========================================================================
	KeyBufSize    = "buf_size"    // buffer size in bytes
	KeyBufTier    = "buf_tier"    // small, medium, large, oversized
	KeyLKey       = "lkey"        // NIC memory-region key (opaque tag)

	// ========================================================================
	// Background Dispatch
	// ========================================================================
	KeyWorkerID    = "worker_id"     // background worker index
	KeyQueueDepth  = "queue_depth"   // pending items in an SPSC hand-off queue
	KeyDispatchVia = "dispatch_via"  // inline or background

	// ========================================================================
	// Session Management
	// ========================================================================
	KeySMOp       = "sm_op"        // connect, disconnect, reset
	KeyRemoteHost = "remote_host"  // peer hostname:port

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // operation duration in milliseconds
	KeyError      = "error"       // error message
	KeyErrorCode  = "error_code"  // rpcerr.Code numeric value
)

// ============================================================================
// Field constructors for type safety
// These functions provide type-safe construction of slog.Attr values.
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID.
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID.
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// Instance returns a slog.Attr for the local RPC instance ID.
func Instance(id uint8) slog.Attr {
	return slog.Int(KeyInstance, int(id))
}

// Session returns a slog.Attr for a session number.
func Session(num uint16) slog.Attr {
	return slog.Int(KeySession, int(num))
}

// Slot returns a slog.Attr for a slot index.
func Slot(idx int) slog.Attr {
	return slog.Int(KeySlot, idx)
}

// SlotState returns a slog.Attr for a slot's protocol state name.
func SlotState(state string) slog.Attr {
	return slog.String(KeySlotState, state)
}

// ReqType returns a slog.Attr for a request type ID.
func ReqType(t uint8) slog.Attr {
	return slog.Int(KeyReqType, int(t))
}

// ReqNumber returns a slog.Attr for a monotonic request number.
func ReqNumber(n uint64) slog.Attr {
	return slog.Uint64(KeyReqNumber, n)
}

// PktNumber returns a slog.Attr for a packet number within a message.
func PktNumber(n uint32) slog.Attr {
	return slog.Uint64(KeyPktNumber, uint64(n))
}

// RTTMicros returns a slog.Attr for an observed round-trip time.
func RTTMicros(us int64) slog.Attr {
	return slog.Int64(KeyRTTMicros, us)
}

// RateMbps returns a slog.Attr for a session's current send rate.
func RateMbps(mbps float64) slog.Attr {
	return slog.Float64(KeyRateMbps, mbps)
}

// Retransmits returns a slog.Attr for a retransmit counter.
func Retransmits(n int) slog.Attr {
	return slog.Int(KeyRetransmits, n)
}

// Err returns a slog.Attr for an error value. A nil error yields an empty
// attr so it can be appended unconditionally without cluttering output.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// WorkerID returns a slog.Attr for a background worker index.
func WorkerID(id int) slog.Attr {
	return slog.Int(KeyWorkerID, id)
}

// DurationMs returns a slog.Attr for an operation duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Hex formats a byte slice as hex, used for opaque session/continuation tags.
func Hex(b []byte) string {
	return fmt.Sprintf("%x", b)
}
