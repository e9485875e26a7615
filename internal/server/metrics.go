package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liftgate_events_total",
		Help: "Counter increments recorded, by event type.",
	}, []string{"type"})

	evaluationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liftgate_evaluations_total",
		Help: "On-demand experiment evaluations served.",
	})

	deploymentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liftgate_deployments_total",
		Help: "Winning variants promoted through the gate.",
	})

	gateDenialsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "liftgate_gate_denials_total",
		Help: "Deployment attempts rejected by the gate.",
	})
)
