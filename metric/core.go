package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the core gateway metrics shared across services
type Metrics struct {
	// HTTP surface
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Interception pipeline
	SuppressedLogs prometheus.Counter
	PIIMatches     *prometheus.CounterVec

	// Dynamic routes
	ActiveRoutes   prometheus.Gauge
	FlowExecutions *prometheus.CounterVec

	// Service lifecycle
	ServiceStatus *prometheus.GaugeVec
}

// NewMetrics creates the core metric set
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coe_http_requests_total",
			Help: "Total HTTP requests by method and status code",
		}, []string{"method", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coe_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		SuppressedLogs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coe_access_log_suppressed_total",
			Help: "Access log lines suppressed by the scanner-noise filter",
		}),
		PIIMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coe_pii_matches_total",
			Help: "Sensitive-data matches found in request bodies by category",
		}, []string{"type"}),
		ActiveRoutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coe_dynamic_routes_active",
			Help: "Number of dynamic flow routes currently registered",
		}),
		FlowExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coe_flow_executions_total",
			Help: "Flow executions by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		ServiceStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coe_service_status",
			Help: "Lifecycle status of each service (0=stopped 1=starting 2=running 3=stopping)",
		}, []string{"service"}),
	}
}

// RecordRequest records one completed HTTP request
func (m *Metrics) RecordRequest(method, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, status).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordServiceStatus records a service lifecycle transition
func (m *Metrics) RecordServiceStatus(service string, status int) {
	m.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RequestsTotal,
		m.RequestDuration,
		m.SuppressedLogs,
		m.PIIMatches,
		m.ActiveRoutes,
		m.FlowExecutions,
		m.ServiceStatus,
	}
}
