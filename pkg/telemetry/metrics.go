package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors exported on /metrics. All methods
// are safe on a nil receiver so callers can run without instrumentation.
type Metrics struct {
	flowsCreated   prometheus.Counter
	uploads        *prometheus.CounterVec
	uploadAttempts prometheus.Counter
	shareViews     prometheus.Counter
	events         *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
	requests       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		flowsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navio_flows_created_total",
			Help: "Flows committed by the ingestion pipeline.",
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navio_screenshot_uploads_total",
			Help: "Screenshot uploads by kind and result.",
		}, []string{"kind", "result"}),
		uploadAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navio_screenshot_upload_attempts_total",
			Help: "Individual object store PUT attempts, including retries.",
		}),
		shareViews: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navio_share_views_total",
			Help: "Public share resolutions that incremented a view counter.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navio_analytics_events_total",
			Help: "Analytics events recorded by type.",
		}, []string{"type"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navio_rate_limited_total",
			Help: "Requests rejected by a rate limiter.",
		}, []string{"route"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navio_http_requests_total",
			Help: "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.flowsCreated,
			m.uploads,
			m.uploadAttempts,
			m.shareViews,
			m.events,
			m.rateLimited,
			m.requests,
		)
	}
	return m
}

func (m *Metrics) FlowCreated() {
	if m == nil {
		return
	}
	m.flowsCreated.Inc()
}

func (m *Metrics) Upload(kind string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.uploads.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) UploadAttempt() {
	if m == nil {
		return
	}
	m.uploadAttempts.Inc()
}

func (m *Metrics) ShareViewed() {
	if m == nil {
		return
	}
	m.shareViews.Inc()
}

func (m *Metrics) EventRecorded(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}

func (m *Metrics) RateLimited(route string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(route).Inc()
}

func (m *Metrics) ObserveRequest(method, route string, status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, statusLabel(status)).Inc()
}
