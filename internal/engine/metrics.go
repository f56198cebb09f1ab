package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	settlements = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exchange",
		Subsystem: "engine",
		Name:      "settlements_total",
		Help:      "Settlement transactions by operation and outcome",
	}, []string{"op", "outcome"})

	settleDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "exchange",
		Subsystem: "engine",
		Name:      "settle_duration_seconds",
		Help:      "Time spent in a settlement transaction",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	tradesExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exchange",
		Subsystem: "engine",
		Name:      "trades_total",
		Help:      "Executed fills by counterparty kind",
	}, []string{"maker"})

	chartFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "exchange",
		Subsystem: "engine",
		Name:      "chart_update_failures_total",
		Help:      "Chart update jobs that failed",
	})
)

func init() {
	prometheus.MustRegister(settlements, settleDuration, tradesExecuted, chartFailures)
}
