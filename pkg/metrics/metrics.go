// Package metrics defines the protocol-agnostic metrics surface for the
// Nexus RPC runtime: a registry-enabled/disabled switch plus collector
// interfaces that the engine calls unconditionally, with the concrete
// Prometheus implementation living in pkg/metrics/prometheus to avoid an
// import cycle (engine -> metrics -> prometheus -> metrics).
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.RWMutex
	enabled  bool
	registry *prometheus.Registry
)

// InitRegistry enables metrics collection, creating a fresh Prometheus
// registry. Call this before constructing any collector so that
// NewRPCMetrics returns a real (non-nil) implementation.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()

	registry = prometheus.NewRegistry()
	enabled = true
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// GetRegistry returns the active Prometheus registry, or nil if metrics are
// disabled.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// RPCMetrics is the collector interface the RPC Instance and event loop
// call on every request. NewRPCMetrics returns nil when metrics are
// disabled; call sites go through the package-level helpers below
// (ObserveRequest, RecordSlotsInUse, ...), which skip a nil collector, so
// they never need a guard of their own.
type RPCMetrics interface {
	ObserveRequest(reqType uint8, dispatch string, duration time.Duration, err error)
	RecordSlotsInUse(session uint64, inUse, total int)
	RecordCongestionRate(session uint64, rateMbps float64)
	RecordRetransmit(session uint64)
	RecordWorkerQueueDepth(depth int)
	RecordSessionCount(count int)
}

// newRPCMetrics is set by pkg/metrics/prometheus during its package init,
// breaking the import cycle the same way the teacher's cache-metrics
// indirection does.
var newRPCMetrics func() RPCMetrics

// RegisterRPCMetricsConstructor is called by pkg/metrics/prometheus to
// install the concrete constructor.
func RegisterRPCMetricsConstructor(constructor func() RPCMetrics) {
	newRPCMetrics = constructor
}

// NewRPCMetrics returns a Prometheus-backed RPCMetrics, or nil if metrics
// are disabled.
func NewRPCMetrics() RPCMetrics {
	if !IsEnabled() || newRPCMetrics == nil {
		return nil
	}
	return newRPCMetrics()
}

// ObserveRequest calls m.ObserveRequest if m is non-nil.
func ObserveRequest(m RPCMetrics, reqType uint8, dispatch string, duration time.Duration, err error) {
	if m != nil {
		m.ObserveRequest(reqType, dispatch, duration, err)
	}
}

// RecordSlotsInUse calls m.RecordSlotsInUse if m is non-nil.
func RecordSlotsInUse(m RPCMetrics, session uint64, inUse, total int) {
	if m != nil {
		m.RecordSlotsInUse(session, inUse, total)
	}
}

// RecordCongestionRate calls m.RecordCongestionRate if m is non-nil.
func RecordCongestionRate(m RPCMetrics, session uint64, rateMbps float64) {
	if m != nil {
		m.RecordCongestionRate(session, rateMbps)
	}
}

// RecordRetransmit calls m.RecordRetransmit if m is non-nil.
func RecordRetransmit(m RPCMetrics, session uint64) {
	if m != nil {
		m.RecordRetransmit(session)
	}
}

// RecordWorkerQueueDepth calls m.RecordWorkerQueueDepth if m is non-nil.
func RecordWorkerQueueDepth(m RPCMetrics, depth int) {
	if m != nil {
		m.RecordWorkerQueueDepth(depth)
	}
}

// RecordSessionCount calls m.RecordSessionCount if m is non-nil.
func RecordSessionCount(m RPCMetrics, count int) {
	if m != nil {
		m.RecordSessionCount(count)
	}
}
