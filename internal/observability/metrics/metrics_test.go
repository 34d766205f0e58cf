package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	var out dto.Metric
	if err := c.WithLabelValues(labels...).Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return out.GetCounter().GetValue()
}

func TestBookingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)
	m.ObserveAttempt("booked")
	m.ObserveAttempt("booked")
	m.ObserveAttempt("conflict")
	m.ObserveLockWait(3 * time.Millisecond)

	if got := counterValue(t, m.attemptsTotal, "booked"); got != 2 {
		t.Fatalf("expected 2 booked, got %v", got)
	}
	if got := counterValue(t, m.attemptsTotal, "conflict"); got != 1 {
		t.Fatalf("expected 1 conflict, got %v", got)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "clinic_booking_lock_wait_seconds" {
			found = true
			if f.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
				t.Fatalf("expected one lock wait sample")
			}
		}
	}
	if !found {
		t.Fatal("lock wait histogram not registered")
	}
}

func TestReminderMetricsObserve(t *testing.T) {
	m := NewReminderMetrics(prometheus.NewRegistry())
	m.ObserveDispatch("1", "sent")
	m.ObserveDispatch("3", "failed")
	if got := counterValue(t, m.dispatchedTotal, "3", "failed"); got != 1 {
		t.Fatalf("expected 1 failed tier 3, got %v", got)
	}
}

func TestConversationMetricsObserve(t *testing.T) {
	m := NewConversationMetrics(prometheus.NewRegistry())
	m.ObserveTurn("lookup")
	m.ObserveFinished("booked")
	if got := counterValue(t, m.finishedTotal, "booked"); got != 1 {
		t.Fatalf("expected 1 booked session, got %v", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var b *BookingMetrics
	b.ObserveAttempt("booked")
	b.ObserveLockWait(time.Second)
	var r *ReminderMetrics
	r.ObserveDispatch("1", "sent")
	var c *ConversationMetrics
	c.ObserveTurn("greeting")
	c.ObserveFinished("timeout")
}
