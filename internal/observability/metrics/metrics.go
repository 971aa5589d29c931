package metrics

import "github.com/prometheus/client_golang/prometheus"

// AgendaMetrics exposes counters/histograms for appointment flows.
type AgendaMetrics struct {
	transitionsTotal      *prometheus.CounterVec
	remindersScannedTotal prometheus.Counter
	remindersClaimedTotal *prometheus.CounterVec
	notificationsTotal    *prometheus.CounterVec
	scanDuration          prometheus.Histogram
}

func NewAgendaMetrics(reg prometheus.Registerer) *AgendaMetrics {
	m := &AgendaMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "appointments",
			Name:      "transitions_total",
			Help:      "Total appointment lifecycle transitions",
		}, []string{"transition", "status"}),
		remindersScannedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "reminders",
			Name:      "scanned_total",
			Help:      "Total appointments inspected by the reminder scanner",
		}),
		remindersClaimedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "reminders",
			Name:      "claimed_total",
			Help:      "Total reminder flags claimed, by kind",
		}, []string{"kind"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agenda",
			Subsystem: "notifications",
			Name:      "enqueued_total",
			Help:      "Total notification intents recorded",
		}, []string{"type", "status"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agenda",
			Subsystem: "reminders",
			Name:      "scan_duration_seconds",
			Help:      "Duration of a reminder scan tick",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitionsTotal, m.remindersScannedTotal, m.remindersClaimedTotal,
		m.notificationsTotal, m.scanDuration)
	return m
}

func (m *AgendaMetrics) ObserveTransition(transition, status string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(transition, status).Inc()
}

func (m *AgendaMetrics) ObserveRemindersScanned(count int) {
	if m == nil {
		return
	}
	m.remindersScannedTotal.Add(float64(count))
}

func (m *AgendaMetrics) ObserveReminderClaimed(kind string) {
	if m == nil {
		return
	}
	m.remindersClaimedTotal.WithLabelValues(kind).Inc()
}

func (m *AgendaMetrics) ObserveNotification(typ, status string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(typ, status).Inc()
}

func (m *AgendaMetrics) ObserveScanDuration(seconds float64) {
	if m == nil {
		return
	}
	m.scanDuration.Observe(seconds)
}
