package supabase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tableCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "console",
			Subsystem: "supabase",
			Name:      "table_calls_total",
			Help:      "Supabase table and auth calls by operation and result.",
		},
		[]string{"op", "result"},
	)

	functionCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "console",
			Subsystem: "supabase",
			Name:      "function_calls_total",
			Help:      "Edge Function invocations by function name and result.",
		},
		[]string{"function", "result"},
	)
)

func observe(op string, err error) {
	tableCalls.WithLabelValues(op, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
