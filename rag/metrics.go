package rag

import (
	"github.com/creastat/console"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var operations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "console",
		Subsystem: "rag",
		Name:      "operations_total",
		Help:      "RAG operations by kind, tier and result.",
	},
	[]string{"op", "tier", "result"},
)

func observe(op string, tier console.Tier, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	operations.WithLabelValues(op, string(tier), result).Inc()
}
