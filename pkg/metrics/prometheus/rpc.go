// Package prometheus implements the metrics.RPCMetrics collector using
// client_golang, following the teacher's promauto.With(registry) wiring
// style for per-package collector construction.
package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/nexus/pkg/metrics"
)

func init() {
	metrics.RegisterRPCMetricsConstructor(func() metrics.RPCMetrics {
		return newRPCMetrics()
	})
}

type rpcMetrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	slotsInUse       *prometheus.GaugeVec
	slotsTotal       *prometheus.GaugeVec
	congestionRate   *prometheus.GaugeVec
	retransmitsTotal *prometheus.CounterVec
	workerQueueDepth prometheus.Gauge
	sessionCount     prometheus.Gauge
}

func newRPCMetrics() metrics.RPCMetrics {
	reg := metrics.GetRegistry()

	return &rpcMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_requests_total",
				Help: "Total number of RPC requests processed, by request type, dispatch mode and outcome.",
			},
			[]string{"req_type", "dispatch", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "nexus_request_duration_seconds",
				Help: "RPC handler latency in seconds, by request type and dispatch mode.",
				Buckets: []float64{
					0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1,
				},
			},
			[]string{"req_type", "dispatch"},
		),
		slotsInUse: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nexus_session_slots_in_use",
				Help: "Number of sliding-window slots currently occupied, per session.",
			},
			[]string{"session"},
		),
		slotsTotal: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nexus_session_slots_total",
				Help: "Configured sliding-window size, per session.",
			},
			[]string{"session"},
		),
		congestionRate: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nexus_congestion_rate_mbps",
				Help: "Current Timely-controlled sending rate in Mbps, per session.",
			},
			[]string{"session"},
		),
		retransmitsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_retransmits_total",
				Help: "Total number of packet retransmissions, per session.",
			},
			[]string{"session"},
		),
		workerQueueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "nexus_worker_queue_depth",
				Help: "Number of jobs currently queued in the Background Worker Pool.",
			},
		),
		sessionCount: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "nexus_sessions_active",
				Help: "Number of currently established sessions.",
			},
		),
	}
}

func (m *rpcMetrics) ObserveRequest(reqType uint8, dispatch string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	reqTypeLabel := strconv.Itoa(int(reqType))

	m.requestsTotal.WithLabelValues(reqTypeLabel, dispatch, status).Inc()
	m.requestDuration.WithLabelValues(reqTypeLabel, dispatch).Observe(duration.Seconds())
}

func (m *rpcMetrics) RecordSlotsInUse(session uint64, inUse, total int) {
	label := strconv.FormatUint(session, 10)
	m.slotsInUse.WithLabelValues(label).Set(float64(inUse))
	m.slotsTotal.WithLabelValues(label).Set(float64(total))
}

func (m *rpcMetrics) RecordCongestionRate(session uint64, rateMbps float64) {
	m.congestionRate.WithLabelValues(strconv.FormatUint(session, 10)).Set(rateMbps)
}

func (m *rpcMetrics) RecordRetransmit(session uint64) {
	m.retransmitsTotal.WithLabelValues(strconv.FormatUint(session, 10)).Inc()
}

func (m *rpcMetrics) RecordWorkerQueueDepth(depth int) {
	m.workerQueueDepth.Set(float64(depth))
}

func (m *rpcMetrics) RecordSessionCount(count int) {
	m.sessionCount.Set(float64(count))
}
