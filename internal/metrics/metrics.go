package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for booking and lifecycle flows.
type SchedulingMetrics struct {
	bookingsTotal    *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	availabilityRepl *prometheus.CounterVec
	resolveLatency   *prometheus.HistogramVec
	lockWait         prometheus.Histogram
	outboxPublished  *prometheus.CounterVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking and reschedule attempts by outcome",
		}, []string{"operation", "outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "status_transitions_total",
			Help:      "Appointment status transition attempts",
		}, []string{"to", "outcome"}),
		availabilityRepl: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "availability_replacements_total",
			Help:      "Weekly availability replacements by outcome",
		}, []string{"outcome"}),
		resolveLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "atomic_unit_seconds",
			Help:      "Time spent inside the serialised check-and-persist unit",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "schedule_lock_wait_seconds",
			Help:      "Time spent waiting for the distributed schedule lock",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5},
		}),
		outboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox records relayed to Kafka",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.transitionsTotal, m.availabilityRepl,
		m.resolveLatency, m.lockWait, m.outboxPublished)
	return m
}

// ObserveBooking records a Book or Reschedule outcome. outcome is "ok" or an
// error kind such as "slot_conflict".
func (m *SchedulingMetrics) ObserveBooking(operation, outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveTransition(to, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(to, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveAvailabilityReplace(outcome string) {
	if m == nil {
		return
	}
	m.availabilityRepl.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObserveAtomicUnit(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.resolveLatency.WithLabelValues(operation).Observe(seconds)
}

func (m *SchedulingMetrics) ObserveLockWait(seconds float64) {
	if m == nil {
		return
	}
	m.lockWait.Observe(seconds)
}

func (m *SchedulingMetrics) ObserveOutbox(status string, n int) {
	if m == nil {
		return
	}
	m.outboxPublished.WithLabelValues(status).Add(float64(n))
}
