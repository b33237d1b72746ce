package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FlowTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_flow_transitions_total",
		Help: "Flow state transitions by previous state, new state and event.",
	}, []string{"from_state", "to_state", "event"})

	FallbackOffers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_fallback_offers_total",
		Help: "Fallback offers opened after eligible failures.",
	})

	FallbackExecutions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_fallback_executions_total",
		Help: "Fallback executions issued into the flow machine.",
	})

	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_rate_limit_rejections_total",
		Help: "Outbound provider calls rejected by the rate limiter.",
	}, []string{"endpoint"})

	WebhookDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_dropped_total",
		Help: "Webhook deliveries dropped before reaching a flow.",
	}, []string{"reason"})
)
