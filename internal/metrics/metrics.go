package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsEvaluated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "perimeter_requests_evaluated_total",
		Help: "Total number of requests evaluated by the enforcement pipeline",
	})
	requestsDenied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perimeter_requests_denied_total",
		Help: "Total number of requests denied, by reason",
	}, []string{"reason"})
	alertsRecorded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perimeter_alerts_recorded_total",
		Help: "Total number of security alerts recorded, by severity",
	}, []string{"severity"})
	degradedMode = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "perimeter_rate_limit_degraded",
		Help: "1 when rate limiting runs on process-local fallback state, 0 when the distributed backend serves it",
	})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(requestsEvaluated, requestsDenied, alertsRecorded, degradedMode)
}

// IncEvaluated increments the evaluated requests counter.
func IncEvaluated() { requestsEvaluated.Inc() }

// IncDenied increments the denied requests counter for a reason
// ("blocked", "suspicious", "rate_limited", "unauthorized").
func IncDenied(reason string) { requestsDenied.WithLabelValues(reason).Inc() }

// IncAlert increments the recorded alerts counter for a severity.
func IncAlert(severity string) { alertsRecorded.WithLabelValues(severity).Inc() }

// SetDegraded flips the degraded-mode gauge so operators can see when
// true limits are not enforced globally.
func SetDegraded(degraded bool) {
	if degraded {
		degradedMode.Set(1)
		return
	}
	degradedMode.Set(0)
}
