package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the profiling service. All
// methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	CacheRequests   *prometheus.CounterVec
	BackendWrites   *prometheus.CounterVec
	WriteLatency    *prometheus.HistogramVec
	Submissions     *prometheus.CounterVec
	StepTransitions *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
	Appointments    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chis_reference_cache_requests_total",
			Help: "Reference data lookups by collection and result (hit, miss, stale, error)",
		}, []string{"collection", "result"}),
		BackendWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chis_backend_writes_total",
			Help: "Backend writes issued by the profiling service, by category and result",
		}, []string{"category", "result"}),
		WriteLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chis_backend_write_duration_seconds",
			Help:    "Latency of backend writes by category",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"category"}),
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chis_profiling_submissions_total",
			Help: "Submission passes by overall outcome",
		}, []string{"outcome"}),
		StepTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chis_wizard_step_transitions_total",
			Help: "Wizard navigation attempts by direction and result",
		}, []string{"direction", "result"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "chis_wizard_active_sessions",
			Help: "Wizard sessions currently held by this process",
		}),
		Appointments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chis_appointment_status_changes_total",
			Help: "Appointment bookings and status changes by resulting status",
		}, []string{"status"}),
	}
}

func (m *Metrics) ObserveCache(collection, result string) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues(collection, result).Inc()
}

func (m *Metrics) ObserveWrite(category string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.BackendWrites.WithLabelValues(category, result).Inc()
	m.WriteLatency.WithLabelValues(category).Observe(d.Seconds())
}

func (m *Metrics) ObserveSubmission(outcome string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTransition(direction string, advanced bool) {
	if m == nil {
		return
	}
	result := "advanced"
	if !advanced {
		result = "blocked"
	}
	m.StepTransitions.WithLabelValues(direction, result).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) ObserveAppointment(status string) {
	if m == nil {
		return
	}
	m.Appointments.WithLabelValues(status).Inc()
}
