package jobs

import "github.com/prometheus/client_golang/prometheus"

var (
	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "exchange",
		Subsystem: "jobs",
		Name:      "queue_depth",
		Help:      "Jobs waiting for a worker",
	})

	jobsExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exchange",
		Subsystem: "jobs",
		Name:      "executed_total",
		Help:      "Jobs executed by outcome",
	}, []string{"outcome"})

	overloadCounter = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "exchange",
		Subsystem: "jobs",
		Name:      "overload_counter",
		Help:      "Ping jobs enqueued but not yet executed",
	})

	admissionsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "exchange",
		Subsystem: "jobs",
		Name:      "admissions_rejected_total",
		Help:      "Inbound requests rejected because the scheduler was overloaded",
	})
)

func init() {
	prometheus.MustRegister(queueDepth, jobsExecuted, overloadCounter, admissionsRejected)
}
