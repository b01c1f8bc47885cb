package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordering_commands_total",
			Help: "Order commands by name and outcome",
		},
		[]string{"command", "outcome"}, // ok|invalid|precondition_failed|not_found|error
	)

	DispatchErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordering_dispatch_handler_errors_total",
			Help: "Post-commit event handler failures by event type",
		},
		[]string{"event_type"},
	)

	OutboxPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordering_outbox_publish_total",
			Help: "Broker publish attempts by event type and result",
		},
		[]string{"event_type", "result"}, // ok|failed
	)

	OutboxDeadTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ordering_outbox_dead_total",
			Help: "Outbox rows skipped by the sweep after exhausting their attempts",
		},
	)

	ProjectionEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordering_projection_events_total",
			Help: "Projection deliveries by event type and outcome",
		},
		[]string{"event_type", "outcome"}, // applied|skipped|poison|error
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		CommandsTotal,
		DispatchErrorsTotal,
		OutboxPublishTotal,
		OutboxDeadTotal,
		ProjectionEventsTotal,
	)
}
