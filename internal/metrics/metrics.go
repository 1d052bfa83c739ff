package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/benmeehan/iot-sync/internal/constants"
)

const namespace = "iot_sync"

var phases = []constants.Phase{
	constants.PhaseIdle,
	constants.PhaseConnecting,
	constants.PhaseConnected,
	constants.PhaseDisconnected,
}

// Metrics holds the Prometheus collectors of the sync daemon. All methods are
// safe on a nil receiver.
type Metrics struct {
	Registry *prometheus.Registry

	connectionPhase  *prometheus.GaugeVec
	reconnects       prometheus.Counter
	outageSeconds    prometheus.Histogram
	refreshFailures  prometheus.Counter
	messagesRouted   *prometheus.CounterVec
	messagesDropped  *prometheus.CounterVec
	scheduleAcks     *prometheus.CounterVec
	pendingSchedules prometheus.Gauge
	logStoreErrors   prometheus.Counter
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		connectionPhase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connection_phase",
			Help: "1 for the current broker connection phase, 0 otherwise.",
		}, []string{"phase"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconnects_total",
			Help: "Broker sessions restored after an outage.",
		}),
		outageSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "outage_seconds",
			Help:    "Duration of broker outages.",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600},
		}),
		refreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "credential_refresh_failures_total",
			Help: "Failed credential refreshes after a broker rejection.",
		}),
		messagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_routed_total",
			Help: "Inbound messages dispatched, by type.",
		}, []string{"type"}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_dropped_total",
			Help: "Inbound messages dropped, by reason.",
		}, []string{"reason"}),
		scheduleAcks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "schedule_acks_total",
			Help: "Schedule acknowledgments applied, by outcome.",
		}, []string{"outcome"}),
		pendingSchedules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pending_schedules",
			Help: "Schedules waiting on at least one leg.",
		}),
		logStoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "log_store_errors_total",
			Help: "Device log appends that failed.",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connectionPhase,
		m.reconnects,
		m.outageSeconds,
		m.refreshFailures,
		m.messagesRouted,
		m.messagesDropped,
		m.scheduleAcks,
		m.pendingSchedules,
		m.logStoreErrors,
	)
	m.PhaseChanged(constants.PhaseIdle)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) PhaseChanged(phase constants.Phase) {
	if m == nil {
		return
	}
	for _, p := range phases {
		v := 0.0
		if p == phase {
			v = 1
		}
		m.connectionPhase.WithLabelValues(string(p)).Set(v)
	}
}

func (m *Metrics) Reconnected(outage time.Duration) {
	if m == nil {
		return
	}
	m.reconnects.Inc()
	m.outageSeconds.Observe(outage.Seconds())
}

func (m *Metrics) CredentialRefreshFailed() {
	if m == nil {
		return
	}
	m.refreshFailures.Inc()
}

func (m *Metrics) MessageRouted(messageType string) {
	if m == nil {
		return
	}
	m.messagesRouted.WithLabelValues(messageType).Inc()
}

func (m *Metrics) MessageDropped(reason string) {
	if m == nil {
		return
	}
	m.messagesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ScheduleAck(outcome string) {
	if m == nil {
		return
	}
	m.scheduleAcks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetPendingSchedules(n int) {
	if m == nil {
		return
	}
	m.pendingSchedules.Set(float64(n))
}

func (m *Metrics) LogStoreError() {
	if m == nil {
		return
	}
	m.logStoreErrors.Inc()
}
