package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	QueueDepth             prometheus.Gauge
	ActiveTimers           prometheus.Gauge
	AssignmentsTotal       prometheus.Counter
	AssignmentRacesTotal   prometheus.Counter
	EscalationsTotal       *prometheus.CounterVec
	TimerFiresTotal        *prometheus.CounterVec
	StaleTimerFiresTotal   prometheus.Counter
	SLABreachesTotal       prometheus.Counter
	TicketsCreatedTotal    prometheus.Counter
	TemplateFallbacksTotal prometheus.Counter
	EventHandlingDuration  *prometheus.HistogramVec
	StoreOperationDuration *prometheus.HistogramVec
}

// New registers the engine metrics on the given registerer. Tests pass a
// fresh prometheus.NewRegistry to keep registrations isolated.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "escalation_queue_depth",
			Help: "Current number of sessions waiting for an operator",
		}),
		ActiveTimers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "escalation_active_timers",
			Help: "Current number of scheduled SLA timers",
		}),
		AssignmentsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "escalation_assignments_total",
			Help: "Total number of sessions assigned to operators",
		}),
		AssignmentRacesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "escalation_assignment_races_total",
			Help: "Total number of assignment claims lost to a concurrent session change",
		}),
		EscalationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "escalation_requests_total",
			Help: "Total number of operator escalation requests",
		}, []string{"outcome"}),
		TimerFiresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "escalation_timer_fires_total",
			Help: "Total number of SLA timer fires",
		}, []string{"kind"}),
		StaleTimerFiresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "escalation_stale_timer_fires_total",
			Help: "Total number of timer fires discarded as stale",
		}),
		SLABreachesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "escalation_sla_breaches_total",
			Help: "Total number of first-response SLA breaches",
		}),
		TicketsCreatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "escalation_tickets_created_total",
			Help: "Total number of fallback tickets created",
		}),
		TemplateFallbacksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "escalation_template_fallbacks_total",
			Help: "Total number of replies rendered with the generic fallback text",
		}),
		EventHandlingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escalation_event_handling_duration_seconds",
			Help:    "Time taken to process one inbound event",
			Buckets: prometheus.DefBuckets,
		}, []string{"event"}),
		StoreOperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escalation_store_operation_duration_seconds",
			Help:    "Time taken for session store operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}
