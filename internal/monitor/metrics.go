package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the broker's prometheus instruments on a private registry.
// Instruments always count; when the monitor is disabled they just are not
// served anywhere.
type Metrics struct {
	SessionsActive *prometheus.GaugeVec
	SalesActive    prometheus.Gauge
	SalesStarted   prometheus.Counter
	SalesEnded     *prometheus.CounterVec
	Purchases      *prometheus.CounterVec
	Broadcasts     *prometheus.CounterVec
	BroadcastsDrop prometheus.Counter
	ProtocolErrors prometheus.Counter
	SessionsReaped *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates the instrument set.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.SessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "market",
			Name:      "sessions_active",
			Help:      "Currently connected sessions by role",
		},
		[]string{"role"},
	)
	m.SalesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "market",
			Name:      "sales_active",
			Help:      "Currently open sales",
		},
	)
	m.SalesStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "market",
			Name:      "sales_started_total",
			Help:      "Sales opened since start",
		},
	)
	m.SalesEnded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "market",
			Name:      "sales_ended_total",
			Help:      "Sales closed since start by reason",
		},
		[]string{"reason"},
	)
	m.Purchases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "market",
			Name:      "purchases_total",
			Help:      "Purchase attempts by result",
		},
		[]string{"result"},
	)
	m.Broadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "market",
			Name:      "broadcasts_total",
			Help:      "Broadcasts dispatched by message type",
		},
		[]string{"type"},
	)
	m.BroadcastsDrop = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "market",
			Name:      "broadcasts_dropped_total",
			Help:      "Broadcasts dropped because the queue was full",
		},
	)
	m.ProtocolErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "market",
			Name:      "protocol_errors_total",
			Help:      "Connections torn down for protocol violations",
		},
	)
	m.SessionsReaped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "market",
			Name:      "sessions_reaped_total",
			Help:      "Sessions force-closed by the broker by cause",
		},
		[]string{"cause"},
	)

	m.registry.MustRegister(
		m.SessionsActive,
		m.SalesActive,
		m.SalesStarted,
		m.SalesEnded,
		m.Purchases,
		m.Broadcasts,
		m.BroadcastsDrop,
		m.ProtocolErrors,
		m.SessionsReaped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
