package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics exposes counters/histograms for the scheduling engine.
type BookingMetrics struct {
	attemptsTotal *prometheus.CounterVec
	lockWait      prometheus.Histogram
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Total booking attempts by outcome",
		}, []string{"outcome"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the doctor/day booking lock",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.attemptsTotal, m.lockWait)
	return m
}

// ObserveAttempt records a booking outcome: booked, conflict, not_found, error.
func (m *BookingMetrics) ObserveAttempt(outcome string) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

// ReminderMetrics counts reminder dispatch results per tier.
type ReminderMetrics struct {
	dispatchedTotal *prometheus.CounterVec
}

func NewReminderMetrics(reg prometheus.Registerer) *ReminderMetrics {
	m := &ReminderMetrics{
		dispatchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "reminders",
			Name:      "dispatched_total",
			Help:      "Reminder dispatch results by tier and status",
		}, []string{"tier", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.dispatchedTotal)
	return m
}

// ObserveDispatch records sent, retry, failed or cancelled for a tier label.
func (m *ReminderMetrics) ObserveDispatch(tier, status string) {
	if m == nil {
		return
	}
	m.dispatchedTotal.WithLabelValues(tier, status).Inc()
}

// ConversationMetrics tracks turns per state and how sessions end.
type ConversationMetrics struct {
	turnsTotal    *prometheus.CounterVec
	finishedTotal *prometheus.CounterVec
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Conversation turns by resulting state",
		}, []string{"state"}),
		finishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "conversation",
			Name:      "sessions_finished_total",
			Help:      "Sessions that reached a terminal state, by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.finishedTotal)
	return m
}

func (m *ConversationMetrics) ObserveTurn(state string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(state).Inc()
}

// ObserveFinished records booked, cancelled, stalled, error or timeout.
func (m *ConversationMetrics) ObserveFinished(outcome string) {
	if m == nil {
		return
	}
	m.finishedTotal.WithLabelValues(outcome).Inc()
}
