package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	gatewayRequestsTotal  *prometheus.CounterVec
	gatewayLatencySeconds *prometheus.HistogramVec
	gatewayErrorsTotal    *prometheus.CounterVec

	reviewLoadsTotal       *prometheus.CounterVec
	reviewOverridesTotal   *prometheus.CounterVec
	reviewTriggersTotal    *prometheus.CounterVec
	reviewUploadsTotal     *prometheus.CounterVec
	reviewUploadRejections *prometheus.CounterVec
	reviewSessionsActive   *prometheus.GaugeVec
	notificationClients    prometheus.Gauge
	notificationsPublished *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the gateway.
func RegisterMetrics() {
	registerOnce.Do(func() {
		gatewayRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of gateway API requests served.",
		}, []string{"method", "route", "status"})

		gatewayLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_latency_seconds",
			Help:    "Latency distribution for gateway API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		}, []string{"method", "route"})

		gatewayErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_errors_total",
			Help: "Total number of error responses returned by gateway endpoints.",
		}, []string{"method", "route", "status"})

		reviewLoadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "review_loads_total",
			Help: "Submission loads performed by review sessions.",
		}, []string{"outcome"})

		reviewOverridesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "review_overrides_total",
			Help: "Grade override submissions by outcome.",
		}, []string{"outcome"})

		reviewTriggersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "review_grading_triggers_total",
			Help: "Grading trigger requests by outcome.",
		}, []string{"outcome"})

		reviewUploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "review_uploads_total",
			Help: "Upload submissions by mode and outcome.",
		}, []string{"mode", "outcome"})

		reviewUploadRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "review_upload_rejections_total",
			Help: "Files refused when added to an upload draft.",
		}, []string{"reason"})

		reviewSessionsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "review_sessions_active",
			Help: "Open review sessions and upload drafts.",
		}, []string{"kind"})

		notificationClients = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "review_notification_clients_active",
			Help: "Connected SSE and websocket notification clients.",
		})

		notificationsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "review_notifications_published_total",
			Help: "Notices delivered to reviewers by level.",
		}, []string{"level"})

		prometheus.MustRegister(
			gatewayRequestsTotal, gatewayLatencySeconds, gatewayErrorsTotal,
			reviewLoadsTotal, reviewOverridesTotal, reviewTriggersTotal,
			reviewUploadsTotal, reviewUploadRejections, reviewSessionsActive,
			notificationClients, notificationsPublished,
		)
	})
}

// GatewayRequests exposes the counter for gateway requests.
func GatewayRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return gatewayRequestsTotal
}

// GatewayLatency exposes the latency histogram for gateway requests.
func GatewayLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return gatewayLatencySeconds
}

// GatewayErrors exposes the counter for gateway error responses.
func GatewayErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return gatewayErrorsTotal
}

func ReviewLoadsTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return reviewLoadsTotal
}

func OverridesTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return reviewOverridesTotal
}

func GradingTriggersTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return reviewTriggersTotal
}

func UploadsTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return reviewUploadsTotal
}

func UploadRejectionsTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return reviewUploadRejections
}

// SessionsActive is labelled by kind: "review" or "upload".
func SessionsActive() *prometheus.GaugeVec {
	RegisterMetrics()
	return reviewSessionsActive
}

func NotificationClientsActive() prometheus.Gauge {
	RegisterMetrics()
	return notificationClients
}

func NotificationsPublishedTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsPublished
}
