package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Booking outcomes.
const (
	OutcomeBooked    = "booked"
	OutcomeConflict  = "conflict"
	OutcomeTransient = "transient"
	OutcomeNotFound  = "not_found"
	OutcomeInvalid   = "invalid"
	OutcomeError     = "error"
	OutcomeOK        = "ok"
	OutcomeBlocked   = "blocked"
	OutcomeForbidden = "forbidden"
)

// Metrics groups the collectors the booking core reports. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	bookingAttempts   *prometheus.CounterVec
	bookingRetries    prometheus.Counter
	statusTransitions *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
	connectedClients  prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		bookingAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hospital",
			Name:      "booking_attempts_total",
			Help:      "Booking attempts by outcome.",
		}, []string{"outcome"}),
		bookingRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hospital",
			Name:      "booking_serialization_retries_total",
			Help:      "Booking transactions retried after a serialization failure.",
		}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hospital",
			Name:      "status_transitions_total",
			Help:      "Appointment status change requests by target status and outcome.",
		}, []string{"to", "outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hospital",
			Name:      "realtime_deliveries_total",
			Help:      "Realtime messages queued to client sessions by event.",
		}, []string{"event"}),
		connectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hospital",
			Name:      "realtime_connected_clients",
			Help:      "Currently connected realtime sessions.",
		}),
	}
	reg.MustRegister(
		m.bookingAttempts,
		m.bookingRetries,
		m.statusTransitions,
		m.deliveries,
		m.connectedClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) BookingAttempt(outcome string) {
	if m == nil {
		return
	}
	m.bookingAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) BookingRetry() {
	if m == nil {
		return
	}
	m.bookingRetries.Inc()
}

func (m *Metrics) StatusTransition(to, outcome string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(to, outcome).Inc()
}

func (m *Metrics) Delivered(event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deliveries.WithLabelValues(event).Add(float64(n))
}

func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.connectedClients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.connectedClients.Dec()
}
