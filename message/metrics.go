package message

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "console",
			Subsystem: "messages",
			Name:      "sends_total",
			Help:      "Message send attempts by outcome.",
		},
		[]string{"result"},
	)

	retriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "console",
			Subsystem: "messages",
			Name:      "retries_total",
			Help:      "Retries of failed messages.",
		},
	)

	pushedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "console",
			Subsystem: "messages",
			Name:      "realtime_received_total",
			Help:      "Realtime messages received by outcome.",
		},
		[]string{"outcome"},
	)
)
