package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for RPCContext in context.Context
var logContextKey = contextKey{}

// RPCContext holds request-scoped logging context for a single dispatched
// request. The event loop attaches one per invocation so handler logs and
// continuation logs correlate without threading values through every call.
type RPCContext struct {
	TraceID       string    // OpenTelemetry trace ID
	SpanID        string    // OpenTelemetry span ID
	InstanceID    uint8     // local RPC instance ID
	SessionNum    uint16    // destination session number
	RequestNumber uint64    // monotonic per-(session,slot) request number
	ReqType       uint8     // request type ID
	StartTime     time.Time // for duration calculation
}

// WithContext returns a new context with the given RPCContext.
func WithContext(ctx context.Context, rc *RPCContext) context.Context {
	return context.WithValue(ctx, logContextKey, rc)
}

// FromContext retrieves the RPCContext from context, or nil if not present.
func FromContext(ctx context.Context) *RPCContext {
	if ctx == nil {
		return nil
	}
	rc, _ := ctx.Value(logContextKey).(*RPCContext)
	return rc
}

// NewRPCContext creates a new RPCContext for a request about to be dispatched.
func NewRPCContext(instanceID uint8, sessionNum uint16, reqType uint8) *RPCContext {
	return &RPCContext{
		InstanceID: instanceID,
		SessionNum: sessionNum,
		ReqType:    reqType,
		StartTime:  time.Now(),
	}
}

// Clone creates a copy of the RPCContext.
func (rc *RPCContext) Clone() *RPCContext {
	if rc == nil {
		return nil
	}
	clone := *rc
	return &clone
}

// WithRequestNumber returns a copy with the request number set.
func (rc *RPCContext) WithRequestNumber(reqNum uint64) *RPCContext {
	clone := rc.Clone()
	if clone != nil {
		clone.RequestNumber = reqNum
	}
	return clone
}

// WithTrace returns a copy with trace info set.
func (rc *RPCContext) WithTrace(traceID, spanID string) *RPCContext {
	clone := rc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds.
func (rc *RPCContext) DurationMs() float64 {
	if rc == nil || rc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(rc.StartTime).Microseconds()) / 1000.0
}
